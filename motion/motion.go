// Package motion implements the multi-axis motion engine used by the rest of
// beamctl: single axes with backlash compensated moves, groups of axes that
// move as one synchronized operation across any number of controllers, and
// execution of precomputed PVT trajectories.
//
// Hardware is abstracted behind the Controller interface; drivers live in
// their own packages (see package icepap) or may be mocked (MockController).
// The engine guarantees at most one in-flight move per axis, deterministic
// backlash direction, and that a group start is either fully issued or fully
// cleaned up.
package motion

import (
	"errors"
)

// Motion describes one planned move on one axis.  It is produced by
// Axis.PrepareMove, consumed exactly once by the move task, then discarded.
// All positions are in controller units.
type Motion struct {
	axis *Axis

	// TargetPos is the position commanded to the hardware for this phase of
	// the move.  When Backlash is nonzero it already includes the overshoot;
	// the corrective phase settles on TargetPos - Backlash.
	TargetPos float64

	// Delta is the signed displacement from the current position
	Delta float64

	// Backlash is the signed correction applied in a second phase, 0 if the
	// move is direct
	Backlash float64
}

// Axis returns the axis this motion belongs to
func (m *Motion) Axis() *Axis {
	return m.axis
}

// Sign returns -1, 0 or 1 for negative, zero and positive x.  A delta of
// exactly zero never triggers a backlash correction.
func Sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// Controller is the capability contract a hardware driver satisfies to have
// its axes driven by this engine.  The axis argument of each method is the
// controller-local channel name, which need not equal the engine-level axis
// name (see the "address" config key of Axis).
//
// A Controller may be shared by many axes; it is responsible for serializing
// its own wire traffic.  The engine never locks a controller, it only
// guarantees command ordering at the Motion level.
type Controller interface {
	// PrepareMove validates and stages a motion before it is started
	PrepareMove(m *Motion) error

	// StartOne begins a single staged motion
	StartOne(m *Motion) error

	// Stop requests the axis abort its current motion
	Stop(axis string) error

	// State reads the current state flags of the axis
	State(axis string) (StateFlags, error)

	// ReadPosition returns the position in controller units
	ReadPosition(axis string) (float64, error)

	// ReadVelocity returns the velocity setpoint in controller units
	ReadVelocity(axis string) (float64, error)

	// ReadAcceleration returns the acceleration (or accel time) setpoint
	ReadAcceleration(axis string) (float64, error)
}

// BatchStarter is an optional capability: start several staged motions with
// one command.  Implementations may also return ErrNotSupported at runtime,
// e.g. when the motions span controller features that cannot be batched;
// the engine then falls back to a loop of StartOne.
type BatchStarter interface {
	StartAll(motions []*Motion) error
}

// BatchStopper is the stop-side analog of BatchStarter
type BatchStopper interface {
	StopAll(motions []*Motion) error
}

// VelocitySetter is an optional capability to set the velocity setpoint
type VelocitySetter interface {
	SetVelocity(axis string, vel float64) error
}

// AccelerationSetter is an optional capability to set the acceleration
// setpoint
type AccelerationSetter interface {
	SetAcceleration(axis string, acc float64) error
}

// Homer is an optional capability to run a hardware home search
type Homer interface {
	Home(axis string) error
}

// Enabler is an optional capability to switch the power stage of an axis
type Enabler interface {
	Enable(axis string) error
	Disable(axis string) error
}

// TrajectoryController is an optional capability for controllers that can
// execute precomputed PVT tables.  Tables are uploaded once with
// LoadTrajectory (positions in controller units), armed after the axes have
// been brought to a waypoint, then executed or aborted as a set.
type TrajectoryController interface {
	LoadTrajectory(axis string, table PVTTable) error
	ArmTrajectory(axes []string) error
	StartTrajectory(axes []string) error
	AbortTrajectory(axes []string) error
}

// startMotions issues the batched start when the controller supports it and
// otherwise falls back to one StartOne call per motion.  All motions must
// belong to the same controller.
func startMotions(c Controller, motions []*Motion) error {
	if bs, ok := c.(BatchStarter); ok {
		err := bs.StartAll(motions)
		if !errors.Is(err, ErrNotSupported) {
			return err
		}
	}
	for _, m := range motions {
		if err := c.StartOne(m); err != nil {
			return err
		}
	}
	return nil
}

// stopMotions is the stop-side analog of startMotions
func stopMotions(c Controller, motions []*Motion) error {
	if bs, ok := c.(BatchStopper); ok {
		err := bs.StopAll(motions)
		if !errors.Is(err, ErrNotSupported) {
			return err
		}
	}
	for _, m := range motions {
		if err := c.Stop(m.axis.addr); err != nil {
			return err
		}
	}
	return nil
}
