package motion

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nasa-jpl/beamctl/config"
	"github.com/nasa-jpl/beamctl/settings"
)

// settlePollInterval is how often a move task samples the controller state
// while waiting for settlement.  Fixed rather than adaptive; determinism is
// worth more here than saved polls.
const settlePollInterval = 20 * time.Millisecond

// settings cache keys
const (
	settingPosition     = "position"
	settingVelocity     = "velocity"
	settingAcceleration = "acceleration"
	settingLowLimit     = "low_limit"
	settingHighLimit    = "high_limit"
	settingOffset       = "offset"
	settingTrajDigest   = "trajectory_digest"
)

// Axis is one controller-addressable motorized degree of freedom.  Axes are
// created once at configuration load and live for the process lifetime.
//
// User positions relate to controller ("dial") positions by
//
//	user = sign * raw/stepsPerUnit + offset
//
// where sign is +-1 and offset comes from the settings cache.
//
// At most one Motion is in flight per Axis at any time; a Move while MOVING
// fails fast with a StateError.
type Axis struct {
	name string
	addr string // controller channel, "address" config key, defaults to name
	ctl  Controller
	cfg  *config.Static
	sets settings.Cache
	log  zerolog.Logger

	stepsPerUnit float64
	sign         int
	backlash     float64 // user units, from config

	mu        sync.Mutex
	state     StateFlags // last state observed from the controller
	cur       *Move      // in-flight move, nil when idle
	livePos   float64    // position sampled by the settlement poller
	livePosOK bool
}

// NewAxis builds an axis bound to a controller channel.  Config keys:
//
//	steps_per_unit  conversion factor, required nonzero (default 1)
//	sign            +1 or -1 between user and dial frames (default 1)
//	backlash        signed correction in user units (default 0, disabled)
//	address         controller channel name (default: the axis name)
//	low_limit       initial software limit (default -1e9)
//	high_limit      initial software limit (default +1e9)
func NewAxis(name string, ctl Controller, cfg *config.Static, cache settings.Cache) (*Axis, error) {
	spu := cfg.Float("steps_per_unit", 1)
	if spu == 0 {
		return nil, config.MissingError{Key: "steps_per_unit"}
	}
	sign := cfg.Int("sign", 1)
	if sign != 1 && sign != -1 {
		return nil, config.MissingError{Key: "sign"}
	}
	a := &Axis{
		name:         name,
		addr:         cfg.String("address", name),
		ctl:          ctl,
		cfg:          cfg,
		sets:         cache,
		log:          zerolog.Nop(),
		stepsPerUnit: spu,
		sign:         sign,
		backlash:     cfg.Float("backlash", 0),
		state:        Unknown,
	}
	if _, ok := settings.Float(cache, name, settingOffset); !ok {
		cache.Set(name, settingOffset, 0.0)
	}
	if _, ok := settings.Float(cache, name, settingLowLimit); !ok {
		cache.Set(name, settingLowLimit, cfg.Float("low_limit", -1e9))
	}
	if _, ok := settings.Float(cache, name, settingHighLimit); !ok {
		cache.Set(name, settingHighLimit, cfg.Float("high_limit", 1e9))
	}
	return a, nil
}

// SetLogger attaches a logger; events are tagged with the axis name
func (a *Axis) SetLogger(l zerolog.Logger) {
	a.log = l.With().Str("axis", a.name).Logger()
}

// Name returns the engine-level axis name
func (a *Axis) Name() string {
	return a.name
}

// Address returns the controller channel this axis maps onto
func (a *Axis) Address() string {
	return a.addr
}

// Controller returns the driver this axis is bound to.  The caller may
// assert it to one of the optional capability interfaces.
func (a *Axis) Controller() Controller {
	return a.ctl
}

// Config returns the read-only configuration of the axis
func (a *Axis) Config() *config.Static {
	return a.cfg
}

// Settings returns the settings cache of the axis
func (a *Axis) Settings() settings.Cache {
	return a.sets
}

// StepsPerUnit returns the user-to-controller conversion factor
func (a *Axis) StepsPerUnit() float64 {
	return a.stepsPerUnit
}

// Offset returns the user frame offset
func (a *Axis) Offset() float64 {
	off, _ := settings.Float(a.sets, a.name, settingOffset)
	return off
}

// SetOffset shifts the user frame without moving hardware
func (a *Axis) SetOffset(off float64) {
	a.sets.Set(a.name, settingOffset, off)
}

// Limits returns the software limits in user units
func (a *Axis) Limits() (low, high float64) {
	low, _ = settings.Float(a.sets, a.name, settingLowLimit)
	high, _ = settings.Float(a.sets, a.name, settingHighLimit)
	return low, high
}

// SetLimits replaces the software limits, in user units
func (a *Axis) SetLimits(low, high float64) {
	a.sets.Set(a.name, settingLowLimit, low)
	a.sets.Set(a.name, settingHighLimit, high)
}

// IsMoving returns true while a move is in flight
func (a *Axis) IsMoving() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur != nil
}

// toController converts a user frame position to controller units
func (a *Axis) toController(user float64) float64 {
	return (user - a.Offset()) * float64(a.sign) * a.stepsPerUnit
}

// fromController converts a controller unit position to the user frame
func (a *Axis) fromController(raw float64) float64 {
	return float64(a.sign)*raw/a.stepsPerUnit + a.Offset()
}

// Position returns the position in user units.  While a move is in flight
// the value cached by the settlement poller is returned instead of issuing
// another hardware read.
func (a *Axis) Position() (float64, error) {
	if a.IsMoving() {
		a.mu.Lock()
		pos, ok := a.livePos, a.livePosOK
		a.mu.Unlock()
		if ok {
			return pos, nil
		}
		if pos, ok := settings.Float(a.sets, a.name, settingPosition); ok {
			return pos, nil
		}
	}
	raw, err := a.ctl.ReadPosition(a.addr)
	if err != nil {
		return 0, commErr(a.name, err)
	}
	pos := a.fromController(raw)
	a.storeLivePos(pos)
	return pos, nil
}

// Velocity returns the velocity setpoint in user units per second, cached
// while moving
func (a *Axis) Velocity() (float64, error) {
	if a.IsMoving() {
		if vel, ok := settings.Float(a.sets, a.name, settingVelocity); ok {
			return vel, nil
		}
	}
	raw, err := a.ctl.ReadVelocity(a.addr)
	if err != nil {
		return 0, commErr(a.name, err)
	}
	vel := raw / math.Abs(a.stepsPerUnit)
	a.sets.Set(a.name, settingVelocity, vel)
	return vel, nil
}

// SetVelocity sets the velocity setpoint in user units per second.  Returns
// ErrNotSupported if the driver has no velocity capability.
func (a *Axis) SetVelocity(vel float64) error {
	vs, ok := a.ctl.(VelocitySetter)
	if !ok {
		return ErrNotSupported
	}
	if err := vs.SetVelocity(a.addr, vel*math.Abs(a.stepsPerUnit)); err != nil {
		return commErr(a.name, err)
	}
	a.sets.Set(a.name, settingVelocity, vel)
	return nil
}

// Acceleration returns the acceleration setpoint, cached while moving
func (a *Axis) Acceleration() (float64, error) {
	if a.IsMoving() {
		if acc, ok := settings.Float(a.sets, a.name, settingAcceleration); ok {
			return acc, nil
		}
	}
	raw, err := a.ctl.ReadAcceleration(a.addr)
	if err != nil {
		return 0, commErr(a.name, err)
	}
	a.sets.Set(a.name, settingAcceleration, raw)
	return raw, nil
}

// SetAcceleration sets the acceleration setpoint.  Returns ErrNotSupported
// if the driver has no acceleration capability.
func (a *Axis) SetAcceleration(acc float64) error {
	as, ok := a.ctl.(AccelerationSetter)
	if !ok {
		return ErrNotSupported
	}
	if err := as.SetAcceleration(a.addr, acc); err != nil {
		return commErr(a.name, err)
	}
	a.sets.Set(a.name, settingAcceleration, acc)
	return nil
}

// State returns the state flags.  While a move is in flight MOVING is
// reported without touching hardware; otherwise the controller is read.
func (a *Axis) State() (StateFlags, error) {
	if a.IsMoving() {
		return Moving, nil
	}
	fl, err := a.ctl.State(a.addr)
	if err != nil {
		return Unknown, commErr(a.name, err)
	}
	a.storeState(fl)
	return fl, nil
}

func (a *Axis) storeState(fl StateFlags) {
	a.mu.Lock()
	a.state = fl
	a.mu.Unlock()
}

// LastState returns the most recently observed state without a hardware
// read.  After a failed move this is where FAULT lingers until a subsequent
// command succeeds.
func (a *Axis) LastState() StateFlags {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur != nil {
		return Moving
	}
	return a.state
}

// checkReady returns a StateError unless the axis is READY
func (a *Axis) checkReady(op string) error {
	st, err := a.State()
	if err != nil {
		return err
	}
	if st.Primary() != Ready {
		return StateError{Name: a.name, Op: op, State: st}
	}
	return nil
}

// PrepareMove converts a user frame target into a Motion in controller
// units.  It returns (nil, nil) when the computed target equals the current
// position: no zero length move is ever issued to hardware.
//
// When a backlash is configured and the move direction opposes it, the move
// is split: the returned Motion overshoots to target-backlash and carries
// the backlash amount so settlement runs a corrective second phase of
// +backlash onto the requested target.  The final approach therefore always
// runs in the backlash direction.
func (a *Axis) PrepareMove(userTarget float64, relative bool) (*Motion, error) {
	return a.prepareMotion(userTarget, relative, false)
}

func (a *Axis) prepareMotion(userTarget float64, relative, noBacklash bool) (*Motion, error) {
	pos, err := a.Position()
	if err != nil {
		return nil, err
	}
	if relative {
		userTarget += pos
	}
	target := a.toController(userTarget)
	delta := target - a.toController(pos)
	if delta == 0 {
		return nil, nil
	}
	backlash := a.backlash * a.stepsPerUnit
	if noBacklash {
		backlash = 0
	}
	if err := a.checkLimits(target, false); err != nil {
		return nil, err
	}
	if backlash != 0 && Sign(delta) != Sign(backlash) {
		// direction opposes the configured backlash: overshoot past the
		// target so the corrective phase always approaches along the
		// backlash direction
		target -= backlash
		delta -= backlash
		if err := a.checkLimits(target, true); err != nil {
			return nil, err
		}
	} else {
		backlash = 0
	}
	m := &Motion{axis: a, TargetPos: target, Delta: delta, Backlash: backlash}
	if err := a.ctl.PrepareMove(m); err != nil {
		return nil, commErr(a.name, err)
	}
	return m, nil
}

// checkLimits validates a controller units target against the software
// limits before anything touches hardware
func (a *Axis) checkLimits(target float64, backlashAdjusted bool) error {
	lowU, highU := a.Limits()
	low := a.toController(lowU)
	high := a.toController(highU)
	if low > high {
		low, high = high, low
	}
	if target < low || target > high {
		return LimitError{
			Axis:             a.name,
			Target:           target,
			Low:              low,
			High:             high,
			BacklashAdjusted: backlashAdjusted,
		}
	}
	return nil
}

// Move moves to an absolute user frame target and waits for settlement
func (a *Axis) Move(userTarget float64) error {
	mv, err := a.StartMove(userTarget, false)
	if err != nil {
		return err
	}
	return mv.Wait()
}

// RMove moves by a user frame delta and waits for settlement
func (a *Axis) RMove(userDelta float64) error {
	mv, err := a.StartMove(userDelta, true)
	if err != nil {
		return err
	}
	return mv.Wait()
}

// StartMove begins a move and returns without waiting.  The returned handle
// resolves exactly once when the axis settles, success or failure.  A no-op
// move (already at target) returns an immediately resolved handle.
func (a *Axis) StartMove(userTarget float64, relative bool) (*Move, error) {
	if err := a.checkReady("move"); err != nil {
		return nil, err
	}
	motion, err := a.PrepareMove(userTarget, relative)
	if err != nil {
		return nil, err
	}
	if motion == nil {
		return resolvedMove(nil), nil
	}
	mv, err := a.beginMove(motion)
	if err != nil {
		return nil, err
	}
	a.log.Debug().Float64("target", motion.TargetPos).Float64("backlash", motion.Backlash).Msg("move start")
	if err := a.ctl.StartOne(motion); err != nil {
		err = commErr(a.name, err)
		// the start may have partially registered; ask for an abort
		a.ctl.Stop(a.addr)
		a.finishMove(mv, err)
		return nil, err
	}
	go a.settle(mv)
	return mv, nil
}

// Home runs the controller home search and waits for settlement.  Returns
// ErrNotSupported if the driver cannot home.
func (a *Axis) Home() error {
	h, ok := a.ctl.(Homer)
	if !ok {
		return ErrNotSupported
	}
	if err := a.checkReady("home"); err != nil {
		return err
	}
	mv, err := a.beginMove(&Motion{axis: a})
	if err != nil {
		return err
	}
	if err := h.Home(a.addr); err != nil {
		err = commErr(a.name, err)
		a.ctl.Stop(a.addr)
		a.finishMove(mv, err)
		return err
	}
	go a.settle(mv)
	return mv.Wait()
}

// On enables the power stage.  A no-op while moving; ErrNotSupported if the
// driver has no power control.
func (a *Axis) On() error {
	if a.IsMoving() {
		return nil
	}
	e, ok := a.ctl.(Enabler)
	if !ok {
		return ErrNotSupported
	}
	if err := e.Enable(a.addr); err != nil {
		return commErr(a.name, err)
	}
	_, err := a.State()
	return err
}

// Off disables the power stage.  Fails with a StateError while moving.
func (a *Axis) Off() error {
	if a.IsMoving() {
		return StateError{Name: a.name, Op: "power off", State: Moving}
	}
	e, ok := a.ctl.(Enabler)
	if !ok {
		return ErrNotSupported
	}
	if err := e.Disable(a.addr); err != nil {
		return commErr(a.name, err)
	}
	_, err := a.State()
	return err
}

// Stop aborts the in-flight move, if any, and waits for the move task to
// observe settlement.  Stopping an idle axis is a no-op, and concurrent or
// repeated calls are safe: the move-done signal fires exactly once no
// matter what.
func (a *Axis) Stop() error {
	a.mu.Lock()
	mv := a.cur
	a.mu.Unlock()
	if mv == nil {
		return nil
	}
	mv.markStopped()
	if err := a.ctl.Stop(a.addr); err != nil {
		return commErr(a.name, err)
	}
	<-mv.done
	return nil
}

// WaitMove blocks until the in-flight move, if any, settles
func (a *Axis) WaitMove() error {
	a.mu.Lock()
	mv := a.cur
	a.mu.Unlock()
	if mv == nil {
		return nil
	}
	return mv.Wait()
}

// beginMove installs a Move as the single in-flight move of the axis.  It
// is the gate enforcing the one-Motion-per-Axis invariant: the check and
// install are atomic under the axis lock.
func (a *Axis) beginMove(motion *Motion) (*Move, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur != nil {
		return nil, StateError{Name: a.name, Op: "move", State: Moving}
	}
	mv := &Move{motion: motion, done: make(chan struct{})}
	a.cur = mv
	return mv, nil
}

// finishMove clears the in-flight slot and resolves the handle.  Safe to
// call more than once for the same Move.
func (a *Axis) finishMove(mv *Move, err error) {
	a.mu.Lock()
	if a.cur == mv {
		a.cur = nil
	}
	a.mu.Unlock()
	if err != nil {
		a.log.Error().Err(err).Msg("move failed")
	}
	mv.finish(err)
}

// settle is the move task: poll until the hardware leaves MOVING, then run
// the corrective backlash phase if one is pending, then resolve the handle.
func (a *Axis) settle(mv *Move) {
	motion := mv.motion
	for {
		if err := a.waitStill(); err != nil {
			// the hardware may still be executing; abort before the axis
			// is released
			a.ctl.Stop(a.addr)
			a.finishMove(mv, err)
			return
		}
		if motion.Backlash == 0 || mv.Stopped() {
			break
		}
		// axis has settled at target-backlash; the corrective phase moves
		// by the backlash amount onto the requested target, with backlash
		// cleared
		corr := &Motion{
			axis:      a,
			TargetPos: motion.TargetPos + motion.Backlash,
			Delta:     motion.Backlash,
		}
		if err := a.ctl.PrepareMove(corr); err != nil {
			a.finishMove(mv, commErr(a.name, err))
			return
		}
		if err := a.ctl.StartOne(corr); err != nil {
			// the start may have partially registered; ask for an abort
			a.ctl.Stop(a.addr)
			a.finishMove(mv, commErr(a.name, err))
			return
		}
		motion = corr
	}
	a.finishMove(mv, nil)
}

// waitStill polls the controller at the fixed interval until the axis
// leaves MOVING, caching state and position along the way.  A FAULT flag
// aborts with a ControllerFault; the cached state keeps FAULT until a later
// command succeeds.
func (a *Axis) waitStill() error {
	tick := time.NewTicker(settlePollInterval)
	defer tick.Stop()
	for {
		fl, err := a.ctl.State(a.addr)
		if err != nil {
			return commErr(a.name, err)
		}
		a.storeState(fl)
		if fl.Has(Fault) {
			return ControllerFault{Axis: a.name, State: fl}
		}
		if !fl.Has(Moving) {
			break
		}
		// in-memory only while moving; a file backed settings cache would
		// otherwise rewrite on every poll tick
		if raw, err := a.ctl.ReadPosition(a.addr); err == nil {
			a.storeLivePos(a.fromController(raw))
		}
		<-tick.C
	}
	// final position refresh, persisted once per settlement
	if raw, err := a.ctl.ReadPosition(a.addr); err == nil {
		pos := a.fromController(raw)
		a.storeLivePos(pos)
		a.sets.Set(a.name, settingPosition, pos)
	}
	return nil
}

func (a *Axis) storeLivePos(pos float64) {
	a.mu.Lock()
	a.livePos = pos
	a.livePosOK = true
	a.mu.Unlock()
}
