package motion

import (
	"errors"
	"fmt"
)

// ErrNotSupported is the explicit signal a driver returns for an optional
// capability it does not implement.  The engine substitutes its fallback
// (e.g. a loop of StartOne in place of StartAll) when it sees this value.
var ErrNotSupported = errors.New("operation not supported by this controller")

// StateError is returned when a command is illegal for the current state of
// an axis or group, e.g. a move while MOVING.  No hardware side effect has
// occurred when a StateError is returned.
type StateError struct {
	Name  string
	Op    string
	State StateFlags
}

func (e StateError) Error() string {
	return fmt.Sprintf("%s: cannot %s, state is %s", e.Name, e.Op, e.State)
}

// ControllerFault is returned when the controller reports FAULT during a
// move.  The axis remains in FAULT until a subsequent command succeeds.
type ControllerFault struct {
	Axis  string
	State StateFlags
}

func (e ControllerFault) Error() string {
	return fmt.Sprintf("%s: controller reported fault (%s)", e.Axis, e.State)
}

// CommunicationError wraps an error surfaced by the driver, preserving the
// original value and the axis it occurred on.  It is fatal to the in-flight
// move and triggers the same cleanup as a ControllerFault.
type CommunicationError struct {
	Axis string
	Err  error
}

func (e CommunicationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Axis, e.Err)
}

func (e CommunicationError) Unwrap() error {
	return e.Err
}

// LimitError is returned by PrepareMove when the requested target, including
// any backlash overshoot, falls outside the axis software limits.
type LimitError struct {
	Axis             string
	Target           float64
	Low, High        float64
	BacklashAdjusted bool
}

func (e LimitError) Error() string {
	suffix := ""
	if e.BacklashAdjusted {
		suffix = " (incl. backlash)"
	}
	return fmt.Sprintf("%s: target %g%s outside software limits [%g, %g]",
		e.Axis, e.Target, suffix, e.Low, e.High)
}

// commErr wraps driver errors in a CommunicationError unless they already
// carry engine error types.
func commErr(axis string, err error) error {
	if err == nil {
		return nil
	}
	var (
		se StateError
		cf ControllerFault
		ce CommunicationError
	)
	if errors.As(err, &se) || errors.As(err, &cf) || errors.As(err, &ce) {
		return err
	}
	return CommunicationError{Axis: axis, Err: err}
}
