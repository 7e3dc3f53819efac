package motion

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Group moves a set of axes, possibly spanning several controllers, as one
// synchronized logical operation.  Membership is fixed at construction.
//
// A group move has two phases.  The start phase buckets the prepared
// motions by controller and issues every bucket's start concurrently; it
// completes only once every bucket has returned, and if any bucket fails
// the buckets that did start are stopped before the error is returned.  The
// completion phase then runs the ordinary per-axis settlement concurrently;
// the group's own move-done signal fires once all members have settled, and
// any member failure triggers a group-wide stop of the rest.
type Group struct {
	name string
	axes map[string]*Axis
	log  zerolog.Logger

	mu  sync.Mutex
	cur *GroupMove
}

// NewGroup builds an anonymous group over the given axes.  Axes must have
// distinct names.
func NewGroup(axes ...*Axis) (*Group, error) {
	if len(axes) == 0 {
		return nil, fmt.Errorf("group: at least one axis is required")
	}
	m := make(map[string]*Axis, len(axes))
	for _, a := range axes {
		if a == nil {
			return nil, fmt.Errorf("group: nil axis")
		}
		if _, dup := m[a.name]; dup {
			return nil, fmt.Errorf("group: duplicate axis %q", a.name)
		}
		m[a.name] = a
	}
	return &Group{
		name: uuid.New().String(),
		axes: m,
		log:  zerolog.Nop(),
	}, nil
}

// NewGroupByName builds a group by resolving axis names in a registry
func NewGroupByName(reg *Registry, names ...string) (*Group, error) {
	axes := make([]*Axis, 0, len(names))
	for _, n := range names {
		a, ok := reg.Get(n)
		if !ok {
			return nil, fmt.Errorf("group: no axis named %q in registry", n)
		}
		axes = append(axes, a)
	}
	return NewGroup(axes...)
}

// SetLogger attaches a logger; events are tagged with the group name
func (g *Group) SetLogger(l zerolog.Logger) {
	g.log = l.With().Str("group", g.name).Logger()
}

// Name returns the generated group name
func (g *Group) Name() string {
	return g.name
}

// Axes returns a copy of the membership map
func (g *Group) Axes() map[string]*Axis {
	out := make(map[string]*Axis, len(g.axes))
	for k, v := range g.axes {
		out[k] = v
	}
	return out
}

// Axis returns a member by name
func (g *Group) Axis(name string) (*Axis, bool) {
	a, ok := g.axes[name]
	return a, ok
}

// sortedNames fixes the member ordering used for state detail indices
func (g *Group) sortedNames() []string {
	names := make([]string, 0, len(g.axes))
	for n := range g.axes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsMoving returns true while a group move is in flight
func (g *Group) IsMoving() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cur != nil
}

// State aggregates the member states: MOVING if any member moves, else
// READY if every member is READY, else FAULT if any member faulted, else
// UNKNOWN.  Every member that is not simply READY contributes an
// index-suffixed StateDetail so simultaneous flags stay distinguishable.
func (g *Group) State() (GroupState, error) {
	gs := GroupState{}
	var anyMoving, anyFault bool
	allReady := true
	for i, name := range g.sortedNames() {
		st, err := g.axes[name].State()
		if err != nil {
			return GroupState{StateFlags: Unknown}, err
		}
		if st.Has(Moving) {
			anyMoving = true
		}
		if st.Has(Fault) {
			anyFault = true
		}
		if st.Primary() != Ready {
			allReady = false
		}
		if st != Ready {
			gs.Details = append(gs.Details, StateDetail{Axis: name, Index: i, State: st})
		}
	}
	switch {
	case anyMoving:
		gs.StateFlags = Moving
	case allReady:
		gs.StateFlags = Ready
	case anyFault:
		gs.StateFlags = Fault
	default:
		gs.StateFlags = Unknown
	}
	return gs, nil
}

// Position returns the user frame position of every member
func (g *Group) Position() (map[string]float64, error) {
	out := make(map[string]float64, len(g.axes))
	for name, a := range g.axes {
		pos, err := a.Position()
		if err != nil {
			return nil, err
		}
		out[name] = pos
	}
	return out, nil
}

// Move moves the targeted members to absolute user frame positions and
// waits for every one of them to settle
func (g *Group) Move(targets map[string]float64) error {
	gm, err := g.StartMove(targets, false)
	if err != nil {
		return err
	}
	return gm.Wait()
}

// RMove moves the targeted members by user frame deltas and waits
func (g *Group) RMove(targets map[string]float64) error {
	gm, err := g.StartMove(targets, true)
	if err != nil {
		return err
	}
	return gm.Wait()
}

// StartMove begins a synchronized move and returns without waiting
func (g *Group) StartMove(targets map[string]float64, relative bool) (*GroupMove, error) {
	return g.startMove(targets, relative, false)
}

// moveNoBacklash is a waiting move with backlash splitting disabled, used
// for trajectory bracketing moves that must not perturb approach geometry
func (g *Group) moveNoBacklash(targets map[string]float64) error {
	gm, err := g.startMove(targets, false, true)
	if err != nil {
		return err
	}
	return gm.Wait()
}

func (g *Group) startMove(targets map[string]float64, relative, noBacklash bool) (*GroupMove, error) {
	for name, tgt := range targets {
		if _, ok := g.axes[name]; !ok {
			return nil, fmt.Errorf("group: no member axis named %q", name)
		}
		if math.IsNaN(tgt) || math.IsInf(tgt, 0) {
			return nil, fmt.Errorf("axis %s cannot be moved to %v", name, tgt)
		}
	}

	// precondition: every member READY, no partial side effects on failure
	for _, name := range g.sortedNames() {
		if err := g.axes[name].checkReady("move"); err != nil {
			return nil, err
		}
	}

	// prepare and bucket by controller; no-op motions are dropped
	buckets := make(map[Controller][]*Motion)
	for name, tgt := range targets {
		a := g.axes[name]
		m, err := a.prepareMotion(tgt, relative, noBacklash)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		buckets[a.ctl] = append(buckets[a.ctl], m)
	}
	if len(buckets) == 0 {
		gm := newGroupMove(nil)
		gm.finish(nil)
		return gm, nil
	}

	// claim every axis before anything starts; on a claim conflict nothing
	// has touched hardware yet
	var installed []*Move
	for _, motions := range buckets {
		for _, m := range motions {
			mv, err := m.axis.beginMove(m)
			if err != nil {
				for _, prev := range installed {
					prev.motion.axis.finishMove(prev, err)
				}
				return nil, err
			}
			installed = append(installed, mv)
		}
	}

	// start phase: all buckets in parallel, phase ends when every bucket
	// has returned or failed
	var (
		smu     sync.Mutex
		started = make(map[Controller]bool)
	)
	var eg errgroup.Group
	for ctl, motions := range buckets {
		ctl, motions := ctl, motions
		eg.Go(func() error {
			if err := startMotions(ctl, motions); err != nil {
				return commErr(motions[0].axis.name, err)
			}
			smu.Lock()
			started[ctl] = true
			smu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		g.log.Error().Err(err).Msg("group start failed, stopping started controllers")
		g.cleanupFailedStart(buckets, started, installed, err)
		return nil, err
	}

	// completion phase
	gm := newGroupMove(installed)
	g.mu.Lock()
	g.cur = gm
	g.mu.Unlock()
	for _, mv := range installed {
		go mv.motion.axis.settle(mv)
	}
	go g.watch(gm)
	return gm, nil
}

// cleanupFailedStart delivers the scoped-cleanup guarantee of the start
// phase: motions on controllers that did start are stopped and settled,
// motions that never started are released untouched, and only then does
// the original error propagate.
func (g *Group) cleanupFailedStart(buckets map[Controller][]*Motion, started map[Controller]bool, installed []*Move, cause error) {
	var eg errgroup.Group
	for ctl, motions := range buckets {
		if !started[ctl] {
			continue
		}
		ctl, motions := ctl, motions
		eg.Go(func() error {
			return stopMotions(ctl, motions)
		})
	}
	// stop errors must not mask the original failure
	if err := eg.Wait(); err != nil {
		g.log.Error().Err(err).Msg("stop during cleanup failed")
	}
	for _, mv := range installed {
		a := mv.motion.axis
		if started[a.ctl] {
			mv.markStopped()
			go a.settle(mv)
		} else {
			a.finishMove(mv, cause)
		}
	}
	for _, mv := range installed {
		<-mv.done
	}
}

// watch resolves the group handle after every member settles; the first
// member failure triggers a group-wide stop of the rest
func (g *Group) watch(gm *GroupMove) {
	errc := make(chan error, len(gm.moves))
	for _, mv := range gm.moves {
		mv := mv
		go func() { errc <- mv.Wait() }()
	}
	var firstErr error
	for range gm.moves {
		if err := <-errc; err != nil && firstErr == nil {
			firstErr = err
			g.stopPending(gm)
		}
	}
	g.mu.Lock()
	if g.cur == gm {
		g.cur = nil
	}
	g.mu.Unlock()
	gm.finish(firstErr)
}

// stopPending stops the members of a group move that have not yet settled,
// per-controller and in parallel, mirroring the start phase fan-out
func (g *Group) stopPending(gm *GroupMove) {
	buckets := make(map[Controller][]*Motion)
	for _, mv := range gm.moves {
		select {
		case <-mv.done:
			continue
		default:
		}
		mv.markStopped()
		a := mv.motion.axis
		buckets[a.ctl] = append(buckets[a.ctl], mv.motion)
	}
	var eg errgroup.Group
	for ctl, motions := range buckets {
		ctl, motions := ctl, motions
		eg.Go(func() error {
			return stopMotions(ctl, motions)
		})
	}
	if err := eg.Wait(); err != nil {
		g.log.Error().Err(err).Msg("group stop failed")
	}
}

// Stop aborts the in-flight group move and waits for every member move-done
// signal.  Stopping an idle group is a no-op.
func (g *Group) Stop() error {
	g.mu.Lock()
	gm := g.cur
	g.mu.Unlock()
	if gm == nil {
		return nil
	}
	g.stopPending(gm)
	for _, mv := range gm.moves {
		<-mv.done
	}
	<-gm.done
	return nil
}

// WaitMove blocks until the in-flight group move, if any, settles
func (g *Group) WaitMove() error {
	g.mu.Lock()
	gm := g.cur
	g.mu.Unlock()
	if gm == nil {
		return nil
	}
	return gm.Wait()
}
