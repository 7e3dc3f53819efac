package motion

import (
	"errors"
	"testing"
)

func TestStateFlagsString(t *testing.T) {
	cases := []struct {
		in  StateFlags
		out string
	}{
		{0, "UNKNOWN"},
		{Ready, "READY"},
		{Moving, "MOVING"},
		{Fault | LimPos, "FAULT|LIMPOS"},
		{Ready | LimNeg | HomeSwitch, "READY|LIMNEG|HOME"},
	}
	for _, c := range cases {
		if got := c.in.String(); got != c.out {
			t.Errorf("String(%#x) = %q, want %q", uint32(c.in), got, c.out)
		}
	}
}

func TestStateFlagsPrimary(t *testing.T) {
	cases := []struct {
		in, out StateFlags
	}{
		{Ready, Ready},
		{Ready | LimPos, Ready},
		{Fault | LimNeg, Fault},
		{LimPos, Unknown},
		{0, Unknown},
	}
	for _, c := range cases {
		if got := c.in.Primary(); got != c.out {
			t.Errorf("Primary(%v) = %v, want %v", c.in, got, c.out)
		}
	}
}

func TestStateDetailString(t *testing.T) {
	d := StateDetail{Axis: "tth", Index: 2, State: Fault}
	if got := d.String(); got != "FAULT2 (tth)" {
		t.Errorf("detail string %q", got)
	}
}

func TestSign(t *testing.T) {
	if Sign(3.5) != 1 || Sign(-0.1) != -1 || Sign(0) != 0 {
		t.Error("Sign is wrong")
	}
}

func TestCommErrPassthrough(t *testing.T) {
	se := StateError{Name: "x", Op: "move", State: Moving}
	var seOut StateError
	if got := commErr("x", se); !errors.As(got, &seOut) {
		t.Errorf("engine error was re-wrapped: %v", got)
	}
	plain := errors.New("socket closed")
	got := commErr("x", plain)
	var ce CommunicationError
	if !errors.As(got, &ce) || !errors.Is(got, plain) {
		t.Errorf("driver error not wrapped: %v", got)
	}
	if commErr("x", nil) != nil {
		t.Error("nil should stay nil")
	}
}
