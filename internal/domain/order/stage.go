package order

// Stage represents a step in the order lifecycle
type Stage string

const (
	StageCreated            Stage = "created"
	StageOrdering           Stage = "ordering"
	StageOrderFailed        Stage = "order_failed"
	StageCooking            Stage = "cooking"
	StageCookingFailed      Stage = "cooking_failed"
	StageAwaitingValidation Stage = "awaiting_validation"
	StageValidationRejected Stage = "validation_rejected"
	StageDelivering         Stage = "delivering"
	StageDeliveryFailed     Stage = "delivery_failed"
	StageCompleted          Stage = "completed"
	StageFailed             Stage = "failed"
)

var validStages = map[Stage]bool{
	StageCreated:            true,
	StageOrdering:           true,
	StageOrderFailed:        true,
	StageCooking:            true,
	StageCookingFailed:      true,
	StageAwaitingValidation: true,
	StageValidationRejected: true,
	StageDelivering:         true,
	StageDeliveryFailed:     true,
	StageCompleted:          true,
	StageFailed:             true,
}

var terminalStages = map[Stage]bool{
	StageCompleted: true,
	StageFailed:    true,
}

// forwardSequence is the fixed happy path of the ordering process
var forwardSequence = map[Stage]Stage{
	StageCreated:            StageOrdering,
	StageOrdering:           StageCooking,
	StageCooking:            StageAwaitingValidation,
	StageAwaitingValidation: StageDelivering,
	StageDelivering:         StageCompleted,
}

// failureBranch maps each in-flight stage to its failure stage
var failureBranch = map[Stage]Stage{
	StageOrdering:           StageOrderFailed,
	StageCooking:            StageCookingFailed,
	StageAwaitingValidation: StageValidationRejected,
	StageDelivering:         StageDeliveryFailed,
}

// Next returns the stage that follows s on the happy path, or "" if s has
// no forward transition.
func Next(s Stage) Stage {
	return forwardSequence[s]
}

// FailureOf returns the failure stage reached when work at s fails, or ""
// if s has no failure branch.
func FailureOf(s Stage) Stage {
	return failureBranch[s]
}

// IsTerminal returns true if the stage is a terminal stage (no further transitions allowed)
func (s Stage) IsTerminal() bool {
	return terminalStages[s]
}

// IsValid returns true if the stage is a known lifecycle stage
func (s Stage) IsValid() bool {
	return validStages[s]
}

// String returns the string representation of the stage
func (s Stage) String() string {
	return string(s)
}
