package dispatcher

import "context"

// State names a position in the call lifecycle. Received, validating and
// executing are transient and only ever visible to observers; the rest are
// terminal and appear in results.
type State string

const (
	StateReceived   State = "received"
	StateValidating State = "validating"
	StateExecuting  State = "executing"
	StateCompleted  State = "completed"
	StateDenied     State = "denied"
	StateTimedOut   State = "timed_out"
	StateCancelled  State = "cancelled"
	StateFaulted    State = "faulted"
)

// Terminal reports whether the state ends a call
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateDenied, StateTimedOut, StateCancelled, StateFaulted:
		return true
	}
	return false
}

// Observer receives call lifecycle notifications. Implementations must be
// safe for concurrent use; the dispatcher calls them from executing calls.
// CallFinished receives the call context so sinks can attribute the result
// to the caller; it may already be cancelled when the call timed out.
type Observer interface {
	CallTransition(callID, tool string, state State)
	CallFinished(ctx context.Context, result Result)
}
