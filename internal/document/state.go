package document

import (
	"errors"
	"fmt"
)

// Event drives a status change.
type Event string

const (
	EventClaim   Event = "claim"
	EventSucceed Event = "succeed"
	EventFail    Event = "fail"
)

var ErrIllegalTransition = errors.New("illegal status transition")

var transitions = map[Status]map[Event]Status{
	StatusPending:    {EventClaim: StatusProcessing},
	StatusProcessing: {EventSucceed: StatusCompleted, EventFail: StatusFailed},
}

// Transition returns the status reached from current on ev.
// Completed and Failed accept no event.
func Transition(current Status, ev Event) (Status, error) {
	if next, ok := transitions[current][ev]; ok {
		return next, nil
	}
	return current, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, current)
}
