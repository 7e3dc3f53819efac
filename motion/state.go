package motion

import (
	"strconv"
	"strings"
)

// StateFlags is a bitfield describing the condition of an axis.  Exactly one
// of the primary flags (Ready, Moving, Fault, Off, Unknown) is set at a time;
// the diagnostic flags (LimPos, LimNeg, HomeSwitch) may accompany any of them.
type StateFlags uint32

const (
	// Ready indicates the axis is idle and will accept a move command
	Ready StateFlags = 1 << iota

	// Moving indicates a motion is in progress
	Moving

	// Fault indicates the controller has reported a hardware fault
	Fault

	// Off indicates the axis power stage is disabled
	Off

	// Unknown indicates the state could not be determined
	Unknown

	// LimPos indicates the positive travel limit switch is active
	LimPos

	// LimNeg indicates the negative travel limit switch is active
	LimNeg

	// HomeSwitch indicates the home switch is active
	HomeSwitch
)

const primaryMask = Ready | Moving | Fault | Off | Unknown

var flagNames = map[StateFlags]string{
	Ready:      "READY",
	Moving:     "MOVING",
	Fault:      "FAULT",
	Off:        "OFF",
	Unknown:    "UNKNOWN",
	LimPos:     "LIMPOS",
	LimNeg:     "LIMNEG",
	HomeSwitch: "HOME",
}

// flagOrder fixes the order flags are rendered in String
var flagOrder = []StateFlags{Ready, Moving, Fault, Off, Unknown, LimPos, LimNeg, HomeSwitch}

// Has returns true if all bits of f are set in s
func (s StateFlags) Has(f StateFlags) bool {
	return s&f == f
}

// Primary returns the primary state bit, or Unknown if none is set
func (s StateFlags) Primary() StateFlags {
	p := s & primaryMask
	if p == 0 {
		return Unknown
	}
	// lowest primary bit wins; drivers should only ever set one
	for _, f := range flagOrder[:5] {
		if p.Has(f) {
			return f
		}
	}
	return Unknown
}

func (s StateFlags) String() string {
	if s == 0 {
		return "UNKNOWN"
	}
	parts := make([]string, 0, 3)
	for _, f := range flagOrder {
		if s.Has(f) {
			parts = append(parts, flagNames[f])
		}
	}
	return strings.Join(parts, "|")
}

// StateDetail disambiguates one member axis' contribution to a group state.
// Index is the ordinal of the axis within the group (sorted by name), so two
// axes reporting the same flag remain distinguishable, e.g. FAULT0 (th) and
// FAULT2 (tth).
type StateDetail struct {
	Axis  string
	Index int
	State StateFlags
}

func (d StateDetail) String() string {
	return d.State.String() + strconv.Itoa(d.Index) + " (" + d.Axis + ")"
}

// GroupState is the aggregate state of a Group: one primary flag set computed
// from the members, plus per-axis detail flags for any member that is not
// simply READY.
type GroupState struct {
	StateFlags

	Details []StateDetail
}
