package coalesce

import "time"

type State int

const (
	// StateUnknown means the id was never requested, or the session was reset.
	StateUnknown State = iota
	// StatePending means the id is queued or its batch is in flight.
	StatePending
	StateFound
	// StateNotFound means a successful batch didn't return the id.
	StateNotFound
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFound:
		return "found"
	case StateNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Resolved reports whether a batch has answered for the id.
func (s State) Resolved() bool {
	return s == StateFound || s == StateNotFound
}

// Entry is the cached state of one id.
type Entry[V any] struct {
	Value     V
	State     State
	FetchedAt time.Time
}
