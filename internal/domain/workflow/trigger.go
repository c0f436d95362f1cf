package workflow

// Trigger represents an event that can move an approval request between states.
type Trigger string

const (
	// TriggerAdvance records a level approval that is not the final level;
	// the request stays PENDING on the next level.
	TriggerAdvance Trigger = "ADVANCE"

	// TriggerApprove records the final level's approval.
	TriggerApprove Trigger = "APPROVE"

	// TriggerReject kills the request from any level.
	TriggerReject Trigger = "REJECT"

	// TriggerCancel withdraws the request before any level has decided.
	TriggerCancel Trigger = "CANCEL"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}
