package order

import "fmt"

// StateMachine tracks the current stage of one instance and validates
// transitions against a configured transition table.
type StateMachine interface {
	// Stage returns the current stage
	Stage() Stage

	// CanFire returns true if the trigger is permitted in the current stage
	CanFire(trigger Trigger) bool

	// Fire executes the trigger, moving to the target stage if allowed
	Fire(trigger Trigger) error

	// PermittedTriggers returns all triggers that can be fired in the current stage
	PermittedTriggers() []Trigger
}

// Builder assembles a transition table and mints machines from it
type Builder struct {
	transitions map[Stage]map[Trigger]Stage
}

// StageConfig configures outgoing transitions for a single stage
type StageConfig struct {
	builder *Builder
	from    Stage
}

// NewBuilder creates an empty state machine builder
func NewBuilder() *Builder {
	return &Builder{transitions: make(map[Stage]map[Trigger]Stage)}
}

// Configure returns the configuration handle for the given stage
func (b *Builder) Configure(stage Stage) StageConfig {
	if !stage.IsValid() {
		panic(fmt.Sprintf("invalid stage: %s", stage))
	}
	if _, ok := b.transitions[stage]; !ok {
		b.transitions[stage] = make(map[Trigger]Stage)
	}
	return StageConfig{builder: b, from: stage}
}

// Permit allows a trigger to transition from this stage to the target stage
func (c StageConfig) Permit(trigger Trigger, to Stage) StageConfig {
	if !to.IsValid() {
		panic(fmt.Sprintf("invalid target stage: %s", to))
	}
	c.builder.transitions[c.from][trigger] = to
	return c
}

// Build creates a state machine positioned at the given stage
func (b *Builder) Build(current Stage) StateMachine {
	if !current.IsValid() {
		panic(fmt.Sprintf("invalid initial stage: %s", current))
	}
	return &stateMachine{current: current, transitions: b.transitions}
}

type stateMachine struct {
	current     Stage
	transitions map[Stage]map[Trigger]Stage
}

func (m *stateMachine) Stage() Stage {
	return m.current
}

func (m *stateMachine) CanFire(trigger Trigger) bool {
	_, ok := m.transitions[m.current][trigger]
	return ok
}

func (m *stateMachine) Fire(trigger Trigger) error {
	to, ok := m.transitions[m.current][trigger]
	if !ok {
		return fmt.Errorf("%w: cannot fire trigger %s from stage %s", ErrInvalidTransition, trigger, m.current)
	}
	m.current = to
	return nil
}

func (m *stateMachine) PermittedTriggers() []Trigger {
	outgoing := m.transitions[m.current]
	triggers := make([]Trigger, 0, len(outgoing))
	for trigger := range outgoing {
		triggers = append(triggers, trigger)
	}
	return triggers
}

// BuildOrderStateMachine creates a state machine configured with the pizza
// ordering transition table, positioned at the given stage.
func BuildOrderStateMachine(current Stage) StateMachine {
	builder := NewBuilder()

	builder.Configure(StageCreated).
		Permit(TriggerDispatch, StageOrdering).
		Permit(TriggerCancel, StageFailed)

	builder.Configure(StageOrdering).
		Permit(TriggerOrderingDone, StageCooking).
		Permit(TriggerStageFailed, StageOrderFailed).
		Permit(TriggerTimeout, StageOrderFailed).
		Permit(TriggerCancel, StageFailed)

	builder.Configure(StageCooking).
		Permit(TriggerCookingDone, StageAwaitingValidation).
		Permit(TriggerStageFailed, StageCookingFailed).
		Permit(TriggerTimeout, StageCookingFailed).
		Permit(TriggerCancel, StageFailed)

	builder.Configure(StageAwaitingValidation).
		Permit(TriggerApprove, StageDelivering).
		Permit(TriggerReject, StageValidationRejected).
		Permit(TriggerStageFailed, StageValidationRejected).
		Permit(TriggerTimeout, StageValidationRejected).
		Permit(TriggerCancel, StageFailed)

	builder.Configure(StageDelivering).
		Permit(TriggerDeliveryDone, StageCompleted).
		Permit(TriggerStageFailed, StageDeliveryFailed).
		Permit(TriggerTimeout, StageDeliveryFailed).
		Permit(TriggerCancel, StageFailed)

	// Every failure stage drains into the terminal failed stage
	builder.Configure(StageOrderFailed).Permit(TriggerFinalize, StageFailed)
	builder.Configure(StageCookingFailed).Permit(TriggerFinalize, StageFailed)
	builder.Configure(StageValidationRejected).Permit(TriggerFinalize, StageFailed)
	builder.Configure(StageDeliveryFailed).Permit(TriggerFinalize, StageFailed)

	// StageCompleted and StageFailed are terminal - no outgoing transitions

	return builder.Build(current)
}
