package order

// Trigger represents an event that can cause a stage transition
type Trigger string

const (
	TriggerDispatch     Trigger = "DISPATCH"
	TriggerOrderingDone Trigger = "ORDERING_DONE"
	TriggerCookingDone  Trigger = "COOKING_DONE"
	TriggerApprove      Trigger = "APPROVE"
	TriggerReject       Trigger = "REJECT"
	TriggerDeliveryDone Trigger = "DELIVERY_DONE"
	TriggerStageFailed  Trigger = "STAGE_FAILED"
	TriggerFinalize     Trigger = "FINALIZE"
	TriggerCancel       Trigger = "CANCEL"
	TriggerTimeout      Trigger = "TIMEOUT"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// AdvanceTrigger returns the trigger that moves an instance forward out of
// the given stage, or "" if the stage has no forward transition.
func AdvanceTrigger(s Stage) Trigger {
	switch s {
	case StageCreated:
		return TriggerDispatch
	case StageOrdering:
		return TriggerOrderingDone
	case StageCooking:
		return TriggerCookingDone
	case StageAwaitingValidation:
		return TriggerApprove
	case StageDelivering:
		return TriggerDeliveryDone
	default:
		return ""
	}
}
