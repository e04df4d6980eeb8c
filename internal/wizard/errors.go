package wizard

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when an action arrives while a request started by
	// an earlier action is still outstanding.
	ErrBusy = errors.New("another request is in progress")

	// ErrWrongState is returned when an action is not valid in the current
	// step.
	ErrWrongState = errors.New("action not allowed in the current step")

	// ErrSuperseded is returned by an action whose request finished after a
	// reset, a new file or a back navigation replaced it. Its result was
	// discarded.
	ErrSuperseded = errors.New("request superseded by a newer action")

	ErrClosed = errors.New("session closed")
)

var (
	ErrNoFile        = errors.New("no file selected")
	ErrNoSelection   = errors.New("no columns selected")
	ErrNoItems       = errors.New("no items selected")
	ErrUnknownPreset = errors.New("unknown preset")
)

// InputError is a user-input problem caught before any request was sent.
type InputError struct {
	Message string
	Err     error
}

func (e *InputError) Error() string {
	return e.Message
}

func (e *InputError) Unwrap() error {
	return e.Err
}

func wrongState(action string, s State) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrWrongState, action, s)
}
