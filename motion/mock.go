package motion

import (
	"errors"
	"sync"
	"time"
)

// MockController simulates a multi-axis motion controller with constant
// velocity kinematics.  It implements every optional capability so it can
// stand in for real hardware in tests and in the server's mock mode, and it
// records the targets and commands it receives so callers can assert on
// exactly what would have hit the wire.
type MockController struct {
	sync.Mutex

	vel       map[string]float64
	acc       map[string]float64
	pos       map[string]float64 // settled position, or start of current motion
	enabled   map[string]bool
	faulted   map[string]bool
	targets   map[string][]float64 // history of commanded targets
	motion    map[string]*mockMotion
	tables    map[string]PVTTable
	loads     map[string]int // upload counter per axis
	trajCmds  []string       // "arm", "start", "abort" in call order
	startErr  error          // injected StartAll/StartOne failure
	NoBatch   bool           // report ErrNotSupported for StartAll/StopAll
	DefaultV  float64
	stopCount map[string]int
}

type mockMotion struct {
	start    float64
	target   float64
	began    time.Time
	duration time.Duration
}

// NewMockController returns a mock with a default velocity of 1000
// controller units per second
func NewMockController() *MockController {
	return &MockController{
		vel:       make(map[string]float64),
		acc:       make(map[string]float64),
		pos:       make(map[string]float64),
		enabled:   make(map[string]bool),
		faulted:   make(map[string]bool),
		targets:   make(map[string][]float64),
		motion:    make(map[string]*mockMotion),
		tables:    make(map[string]PVTTable),
		loads:     make(map[string]int),
		stopCount: make(map[string]int),
		DefaultV:  1000,
	}
}

// SetPos seeds a settled position, bypassing kinematics
func (c *MockController) SetPos(axis string, pos float64) {
	c.Lock()
	defer c.Unlock()
	c.pos[axis] = pos
}

// InjectFault makes the axis report FAULT until ClearFault is called
func (c *MockController) InjectFault(axis string) {
	c.Lock()
	defer c.Unlock()
	c.faulted[axis] = true
}

// ClearFault removes an injected fault
func (c *MockController) ClearFault(axis string) {
	c.Lock()
	defer c.Unlock()
	c.faulted[axis] = false
}

// FailStarts makes subsequent StartOne/StartAll calls return err; pass nil
// to restore normal behavior
func (c *MockController) FailStarts(err error) {
	c.Lock()
	defer c.Unlock()
	c.startErr = err
}

// Targets returns the history of commanded targets for an axis
func (c *MockController) Targets(axis string) []float64 {
	c.Lock()
	defer c.Unlock()
	out := make([]float64, len(c.targets[axis]))
	copy(out, c.targets[axis])
	return out
}

// Stops returns how many stop requests the axis has received
func (c *MockController) Stops(axis string) int {
	c.Lock()
	defer c.Unlock()
	return c.stopCount[axis]
}

// LoadCount returns how many table uploads the axis has received
func (c *MockController) LoadCount(axis string) int {
	c.Lock()
	defer c.Unlock()
	return c.loads[axis]
}

// TrajectoryCommands returns the arm/start/abort commands in call order
func (c *MockController) TrajectoryCommands() []string {
	c.Lock()
	defer c.Unlock()
	out := make([]string, len(c.trajCmds))
	copy(out, c.trajCmds)
	return out
}

// velocityOf returns the velocity for an axis, defaulted
func (c *MockController) velocityOf(axis string) float64 {
	if v, ok := c.vel[axis]; ok && v > 0 {
		return v
	}
	return c.DefaultV
}

// settleLocked folds a finished motion back into the settled position.
// Callers must hold the lock.
func (c *MockController) settleLocked(axis string, now time.Time) {
	m, ok := c.motion[axis]
	if !ok {
		return
	}
	if now.Sub(m.began) >= m.duration {
		c.pos[axis] = m.target
		delete(c.motion, axis)
	}
}

// currentPosLocked interpolates the position of an in-flight motion.
// Callers must hold the lock.
func (c *MockController) currentPosLocked(axis string, now time.Time) float64 {
	m, ok := c.motion[axis]
	if !ok {
		return c.pos[axis]
	}
	frac := float64(now.Sub(m.began)) / float64(m.duration)
	if frac > 1 {
		frac = 1
	}
	return m.start + (m.target-m.start)*frac
}

// PrepareMove implements Controller
func (c *MockController) PrepareMove(m *Motion) error {
	return nil
}

// StartOne implements Controller
func (c *MockController) StartOne(m *Motion) error {
	c.Lock()
	defer c.Unlock()
	return c.startLocked(m)
}

func (c *MockController) startLocked(m *Motion) error {
	if c.startErr != nil {
		return c.startErr
	}
	axis := m.axis.addr
	now := time.Now()
	c.settleLocked(axis, now)
	start := c.pos[axis]
	vel := c.velocityOf(axis)
	dist := m.TargetPos - start
	if dist < 0 {
		dist = -dist
	}
	c.targets[axis] = append(c.targets[axis], m.TargetPos)
	c.motion[axis] = &mockMotion{
		start:    start,
		target:   m.TargetPos,
		began:    now,
		duration: time.Duration(dist / vel * float64(time.Second)),
	}
	return nil
}

// StartAll implements BatchStarter; one shared timestamp approximates an
// atomic hardware start
func (c *MockController) StartAll(motions []*Motion) error {
	c.Lock()
	defer c.Unlock()
	if c.NoBatch {
		return ErrNotSupported
	}
	if c.startErr != nil {
		return c.startErr
	}
	for _, m := range motions {
		if err := c.startLocked(m); err != nil {
			return err
		}
	}
	return nil
}

// Stop implements Controller; the axis freezes wherever it is
func (c *MockController) Stop(axis string) error {
	c.Lock()
	defer c.Unlock()
	c.stopCount[axis]++
	now := time.Now()
	if _, ok := c.motion[axis]; ok {
		c.pos[axis] = c.currentPosLocked(axis, now)
		delete(c.motion, axis)
	}
	return nil
}

// StopAll implements BatchStopper
func (c *MockController) StopAll(motions []*Motion) error {
	if c.NoBatch {
		return ErrNotSupported
	}
	for _, m := range motions {
		if err := c.Stop(m.axis.addr); err != nil {
			return err
		}
	}
	return nil
}

// State implements Controller
func (c *MockController) State(axis string) (StateFlags, error) {
	c.Lock()
	defer c.Unlock()
	if c.faulted[axis] {
		return Fault, nil
	}
	if on, seen := c.enabled[axis]; seen && !on {
		return Off, nil
	}
	now := time.Now()
	c.settleLocked(axis, now)
	if _, moving := c.motion[axis]; moving {
		return Moving, nil
	}
	return Ready, nil
}

// ReadPosition implements Controller
func (c *MockController) ReadPosition(axis string) (float64, error) {
	c.Lock()
	defer c.Unlock()
	now := time.Now()
	c.settleLocked(axis, now)
	return c.currentPosLocked(axis, now), nil
}

// ReadVelocity implements Controller
func (c *MockController) ReadVelocity(axis string) (float64, error) {
	c.Lock()
	defer c.Unlock()
	return c.velocityOf(axis), nil
}

// SetVelocity implements VelocitySetter
func (c *MockController) SetVelocity(axis string, vel float64) error {
	c.Lock()
	defer c.Unlock()
	c.vel[axis] = vel
	return nil
}

// ReadAcceleration implements Controller
func (c *MockController) ReadAcceleration(axis string) (float64, error) {
	c.Lock()
	defer c.Unlock()
	return c.acc[axis], nil
}

// SetAcceleration implements AccelerationSetter
func (c *MockController) SetAcceleration(axis string, acc float64) error {
	c.Lock()
	defer c.Unlock()
	c.acc[axis] = acc
	return nil
}

// Home implements Homer; homing drives the axis to zero
func (c *MockController) Home(axis string) error {
	c.Lock()
	defer c.Unlock()
	return c.startLocked(&Motion{axis: &Axis{addr: axis}, TargetPos: 0})
}

// Enable implements Enabler
func (c *MockController) Enable(axis string) error {
	c.Lock()
	defer c.Unlock()
	c.enabled[axis] = true
	return nil
}

// Disable implements Enabler
func (c *MockController) Disable(axis string) error {
	c.Lock()
	defer c.Unlock()
	if _, moving := c.motion[axis]; moving {
		return errors.New("mock: cannot disable a moving axis")
	}
	c.enabled[axis] = false
	return nil
}

// LoadTrajectory implements TrajectoryController
func (c *MockController) LoadTrajectory(axis string, table PVTTable) error {
	c.Lock()
	defer c.Unlock()
	c.tables[axis] = table
	c.loads[axis]++
	return nil
}

// ArmTrajectory implements TrajectoryController
func (c *MockController) ArmTrajectory(axes []string) error {
	c.Lock()
	defer c.Unlock()
	c.trajCmds = append(c.trajCmds, "arm")
	return nil
}

// StartTrajectory implements TrajectoryController
func (c *MockController) StartTrajectory(axes []string) error {
	c.Lock()
	defer c.Unlock()
	c.trajCmds = append(c.trajCmds, "start")
	return nil
}

// AbortTrajectory implements TrajectoryController
func (c *MockController) AbortTrajectory(axes []string) error {
	c.Lock()
	defer c.Unlock()
	c.trajCmds = append(c.trajCmds, "abort")
	return nil
}
