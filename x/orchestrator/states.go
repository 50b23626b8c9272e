package orchestrator

// State is the lifecycle position of the user's current generation.
type State string

const (
	StateIdle                    State = "idle"
	StateApproving               State = "approving"
	StateAwaitingRequestConfirm  State = "awaiting_request_confirm"
	StatePendingBlocks           State = "pending_blocks"
	StateReadyToComplete         State = "ready_to_complete"
	StateAwaitingCompleteConfirm State = "awaiting_complete_confirm"
	StateSynthesizing            State = "synthesizing"
	StateDone                    State = "done"
	StateFailed                  State = "failed"
)

// startable reports whether a brand-new generation may begin from s.
func (s State) startable() bool {
	return s == StateIdle || s == StateDone || s == StateFailed
}

// terminal reports whether the generation has finished, in either outcome.
func (s State) terminal() bool {
	return s == StateDone || s == StateFailed
}
