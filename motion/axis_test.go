package motion

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/nasa-jpl/beamctl/config"
	"github.com/nasa-jpl/beamctl/settings"
)

func testAxis(t *testing.T, name string, ctl Controller, cfg map[string]interface{}) *Axis {
	t.Helper()
	a, err := NewAxis(name, ctl, config.New(cfg), settings.NewMapCache())
	if err != nil {
		t.Fatalf("NewAxis %s: %v", name, err)
	}
	return a
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewAxisRejectsBadConfig(t *testing.T) {
	mc := NewMockController()
	_, err := NewAxis("x", mc, config.New(map[string]interface{}{"steps_per_unit": 0}), settings.NewMapCache())
	var miss config.MissingError
	if !errors.As(err, &miss) {
		t.Errorf("steps_per_unit=0: expected MissingError, got %v", err)
	}
	_, err = NewAxis("x", mc, config.New(map[string]interface{}{"sign": 2}), settings.NewMapCache())
	if !errors.As(err, &miss) {
		t.Errorf("sign=2: expected MissingError, got %v", err)
	}
}

func TestMoveBacklashOpposingDirection(t *testing.T) {
	mc := NewMockController()
	a := testAxis(t, "x", mc, map[string]interface{}{"backlash": -2.0})
	if err := a.Move(10); err != nil {
		t.Fatalf("Move: %v", err)
	}
	tgts := mc.Targets("x")
	if len(tgts) != 2 || !approxEqual(tgts[0], 12) || !approxEqual(tgts[1], 10) {
		t.Errorf("expected targets [12 10], got %v", tgts)
	}
	pos, err := a.Position()
	if err != nil || !approxEqual(pos, 10) {
		t.Errorf("expected final position 10, got %v (err %v)", pos, err)
	}
}

func TestMoveBacklashSameDirection(t *testing.T) {
	mc := NewMockController()
	mc.SetPos("x", 10)
	a := testAxis(t, "x", mc, map[string]interface{}{"backlash": -2.0})
	if err := a.Move(5); err != nil {
		t.Fatalf("Move: %v", err)
	}
	tgts := mc.Targets("x")
	if len(tgts) != 1 || !approxEqual(tgts[0], 5) {
		t.Errorf("expected single target [5], got %v", tgts)
	}
}

// the hardware always closes on a target from the backlash direction, no
// matter which way the move runs
func TestBacklashApproachDirection(t *testing.T) {
	mc := NewMockController()
	a := testAxis(t, "x", mc, map[string]interface{}{"backlash": -2.0})
	approach := func(from float64) int {
		tgts := mc.Targets("x")
		last := tgts[len(tgts)-1]
		if len(tgts) > 1 {
			from = tgts[len(tgts)-2]
		}
		return Sign(last - from)
	}
	if err := a.Move(10); err != nil {
		t.Fatalf("Move(10): %v", err)
	}
	if got := approach(0); got != -1 {
		t.Errorf("positive move: expected final approach -1, got %v", got)
	}
	mc2 := NewMockController()
	mc2.SetPos("x", 10)
	b := testAxis(t, "x", mc2, map[string]interface{}{"backlash": -2.0})
	if err := b.Move(5); err != nil {
		t.Fatalf("Move(5): %v", err)
	}
	tgts := mc2.Targets("x")
	if got := Sign(tgts[len(tgts)-1] - 10); got != -1 {
		t.Errorf("negative move: expected final approach -1, got %v", got)
	}
}

func TestMoveAlreadyAtTargetIsNoOp(t *testing.T) {
	mc := NewMockController()
	mc.SetPos("x", 5)
	a := testAxis(t, "x", mc, nil)
	m, err := a.PrepareMove(5, false)
	if err != nil {
		t.Fatalf("PrepareMove: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil motion for zero delta, got %+v", m)
	}
	if err := a.Move(5); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if tgts := mc.Targets("x"); len(tgts) != 0 {
		t.Errorf("no-op move touched hardware: targets %v", tgts)
	}
}

func TestMoveWhileMovingFailsFast(t *testing.T) {
	mc := NewMockController()
	mc.SetVelocity("x", 50)
	a := testAxis(t, "x", mc, nil)
	mv, err := a.StartMove(10, false)
	if err != nil {
		t.Fatalf("StartMove: %v", err)
	}
	err = a.Move(3)
	var se StateError
	if !errors.As(err, &se) {
		t.Errorf("expected StateError, got %v", err)
	}
	if err := mv.Wait(); err != nil {
		t.Fatalf("original move failed: %v", err)
	}
	pos, _ := a.Position()
	if !approxEqual(pos, 10) {
		t.Errorf("in-flight move was perturbed, position %v", pos)
	}
}

func TestStopIdleAxisIsNoOp(t *testing.T) {
	mc := NewMockController()
	a := testAxis(t, "x", mc, nil)
	if err := a.Stop(); err != nil {
		t.Errorf("Stop on idle axis: %v", err)
	}
	if n := mc.Stops("x"); n != 0 {
		t.Errorf("idle stop reached hardware %d times", n)
	}
}

func TestStopSuppressesBacklashCorrection(t *testing.T) {
	mc := NewMockController()
	mc.SetVelocity("x", 50)
	a := testAxis(t, "x", mc, map[string]interface{}{"backlash": -2.0})
	mv, err := a.StartMove(10, false)
	if err != nil {
		t.Fatalf("StartMove: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := mv.Wait(); err != nil {
		t.Errorf("stopped move should settle clean, got %v", err)
	}
	if tgts := mc.Targets("x"); len(tgts) != 1 {
		t.Errorf("corrective phase ran after stop: targets %v", tgts)
	}
	if a.IsMoving() {
		t.Error("axis still reports moving after stop")
	}
	// repeated stop is safe
	if err := a.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestFaultDuringMove(t *testing.T) {
	mc := NewMockController()
	mc.SetVelocity("x", 50)
	a := testAxis(t, "x", mc, nil)
	mv, err := a.StartMove(10, false)
	if err != nil {
		t.Fatalf("StartMove: %v", err)
	}
	mc.InjectFault("x")
	err = mv.Wait()
	var cf ControllerFault
	if !errors.As(err, &cf) {
		t.Fatalf("expected ControllerFault, got %v", err)
	}
	if mc.Stops("x") == 0 {
		t.Error("fault should abort the hardware motion")
	}
	if !a.LastState().Has(Fault) {
		t.Errorf("FAULT should persist in last state, got %v", a.LastState())
	}
	// a later successful command clears it
	mc.ClearFault("x")
	if err := a.Move(0); err != nil {
		t.Fatalf("Move after fault cleared: %v", err)
	}
	if a.LastState().Primary() != Ready {
		t.Errorf("expected READY after recovery, got %v", a.LastState())
	}
}

func TestSoftwareLimits(t *testing.T) {
	mc := NewMockController()
	a := testAxis(t, "x", mc, nil)
	a.SetLimits(-1, 1)
	err := a.Move(5)
	var le LimitError
	if !errors.As(err, &le) {
		t.Fatalf("expected LimitError, got %v", err)
	}
	if le.BacklashAdjusted {
		t.Error("limit violation did not come from backlash adjustment")
	}
	if tgts := mc.Targets("x"); len(tgts) != 0 {
		t.Errorf("rejected move touched hardware: targets %v", tgts)
	}
}

func TestSoftwareLimitsBacklashOvershoot(t *testing.T) {
	mc := NewMockController()
	mc.SetPos("x", 5)
	a := testAxis(t, "x", mc, map[string]interface{}{"backlash": 2.0})
	a.SetLimits(0, 10)
	// requested target 1 is legal, overshoot 1-2=-1 is not
	err := a.Move(1)
	var le LimitError
	if !errors.As(err, &le) {
		t.Fatalf("expected LimitError, got %v", err)
	}
	if !le.BacklashAdjusted {
		t.Error("expected the backlash-adjusted flag on the limit error")
	}
}

func TestUserDialConversion(t *testing.T) {
	mc := NewMockController()
	a := testAxis(t, "x", mc, map[string]interface{}{
		"steps_per_unit": 2.0,
		"sign":           -1,
	})
	a.SetOffset(1)
	if err := a.Move(3); err != nil {
		t.Fatalf("Move: %v", err)
	}
	tgts := mc.Targets("x")
	if len(tgts) != 1 || !approxEqual(tgts[0], -4) {
		t.Errorf("expected dial target -4, got %v", tgts)
	}
	pos, err := a.Position()
	if err != nil || !approxEqual(pos, 3) {
		t.Errorf("expected user position 3, got %v (err %v)", pos, err)
	}
}

func TestRelativeMove(t *testing.T) {
	mc := NewMockController()
	mc.SetPos("x", 4)
	a := testAxis(t, "x", mc, nil)
	if err := a.RMove(3); err != nil {
		t.Fatalf("RMove: %v", err)
	}
	pos, _ := a.Position()
	if !approxEqual(pos, 7) {
		t.Errorf("expected position 7, got %v", pos)
	}
}

func TestPositionCachedWhileMoving(t *testing.T) {
	mc := NewMockController()
	mc.SetVelocity("x", 50)
	a := testAxis(t, "x", mc, nil)
	if _, err := a.Position(); err != nil {
		t.Fatalf("Position: %v", err)
	}
	mv, err := a.StartMove(10, false)
	if err != nil {
		t.Fatalf("StartMove: %v", err)
	}
	if _, err := a.Position(); err != nil {
		t.Errorf("Position while moving: %v", err)
	}
	st, err := a.State()
	if err != nil || !st.Has(Moving) {
		t.Errorf("expected MOVING while in flight, got %v (err %v)", st, err)
	}
	if err := mv.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

// countingCache tallies settings writes per key, delegating storage
type countingCache struct {
	settings.Cache

	mu     sync.Mutex
	writes map[string]int
}

func (c *countingCache) Set(axis, name string, value interface{}) {
	c.mu.Lock()
	c.writes[name]++
	c.mu.Unlock()
	c.Cache.Set(axis, name, value)
}

func (c *countingCache) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[name]
}

func TestPositionPersistsOncePerSettlement(t *testing.T) {
	mc := NewMockController()
	mc.SetVelocity("x", 50)
	cache := &countingCache{Cache: settings.NewMapCache(), writes: map[string]int{}}
	a, err := NewAxis("x", mc, config.New(map[string]interface{}{}), cache)
	if err != nil {
		t.Fatalf("NewAxis: %v", err)
	}
	// 10 units at 50/s spans many poll ticks
	if err := a.Move(10); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if n := cache.count("position"); n != 1 {
		t.Errorf("expected one position write per settlement, got %d", n)
	}
}

func TestVelocityAndAcceleration(t *testing.T) {
	mc := NewMockController()
	a := testAxis(t, "x", mc, map[string]interface{}{"steps_per_unit": 4.0})
	if err := a.SetVelocity(5); err != nil {
		t.Fatalf("SetVelocity: %v", err)
	}
	vel, err := a.Velocity()
	if err != nil || !approxEqual(vel, 5) {
		t.Errorf("expected velocity 5, got %v (err %v)", vel, err)
	}
	if err := a.SetAcceleration(0.25); err != nil {
		t.Fatalf("SetAcceleration: %v", err)
	}
	acc, err := a.Acceleration()
	if err != nil || !approxEqual(acc, 0.25) {
		t.Errorf("expected acceleration 0.25, got %v (err %v)", acc, err)
	}
}

func TestHome(t *testing.T) {
	mc := NewMockController()
	mc.SetPos("x", 5)
	a := testAxis(t, "x", mc, nil)
	if err := a.Home(); err != nil {
		t.Fatalf("Home: %v", err)
	}
	pos, _ := a.Position()
	if !approxEqual(pos, 0) {
		t.Errorf("expected homed position 0, got %v", pos)
	}
}

func TestOnOff(t *testing.T) {
	mc := NewMockController()
	a := testAxis(t, "x", mc, nil)
	if err := a.Off(); err != nil {
		t.Fatalf("Off: %v", err)
	}
	err := a.Move(1)
	var se StateError
	if !errors.As(err, &se) {
		t.Errorf("move with power off: expected StateError, got %v", err)
	}
	if err := a.On(); err != nil {
		t.Fatalf("On: %v", err)
	}
	if err := a.Move(1); err != nil {
		t.Fatalf("Move after On: %v", err)
	}
}

func TestCapabilityNotSupported(t *testing.T) {
	a := testAxis(t, "x", bareController{NewMockController()}, nil)
	if err := a.SetVelocity(1); !errors.Is(err, ErrNotSupported) {
		t.Errorf("SetVelocity: expected ErrNotSupported, got %v", err)
	}
	if err := a.Home(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Home: expected ErrNotSupported, got %v", err)
	}
	if err := a.Off(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Off: expected ErrNotSupported, got %v", err)
	}
}

// bareController strips every optional capability from the mock
type bareController struct {
	mc *MockController
}

func (b bareController) PrepareMove(m *Motion) error                 { return b.mc.PrepareMove(m) }
func (b bareController) StartOne(m *Motion) error                    { return b.mc.StartOne(m) }
func (b bareController) Stop(axis string) error                      { return b.mc.Stop(axis) }
func (b bareController) State(axis string) (StateFlags, error)       { return b.mc.State(axis) }
func (b bareController) ReadPosition(axis string) (float64, error)   { return b.mc.ReadPosition(axis) }
func (b bareController) ReadVelocity(axis string) (float64, error)   { return b.mc.ReadVelocity(axis) }
func (b bareController) ReadAcceleration(axis string) (float64, error) {
	return b.mc.ReadAcceleration(axis)
}
