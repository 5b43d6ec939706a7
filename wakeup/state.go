package wakeup

import "github.com/teranos/wakeup/errors"

// transitions lists the allowed target states for each source state.
// active -> active is a lease reclaim of a stalled claim.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusActive, StatusCancelled},
	StatusActive:    {StatusActive, StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {StatusScheduled},
	StatusFailed:    {StatusScheduled},
	StatusCancelled: {StatusScheduled},
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition if from -> to is not allowed
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return errors.NewTransitionError(string(from), string(to))
	}
	return nil
}

// sourcesOf returns every state that may move to the target state
func sourcesOf(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusScheduled, StatusActive, StatusCompleted, StatusFailed, StatusCancelled} {
		if CanTransition(from, to) && from != to {
			out = append(out, from)
		}
	}
	return out
}
