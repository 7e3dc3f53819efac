package motion

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nasa-jpl/beamctl/settings"
)

// PVTPoint is one sample of a precomputed trajectory
type PVTPoint struct {
	// Time in seconds from trajectory start
	Time float64

	// Position at Time
	Position float64

	// Velocity at Time
	Velocity float64
}

// PVTTable is a precomputed position/velocity/time trajectory for one axis
type PVTTable []PVTPoint

// Validate checks the table is non-empty with strictly increasing time
func (t PVTTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("trajectory: empty pvt table")
	}
	for i := 1; i < len(t); i++ {
		if t[i].Time <= t[i-1].Time {
			return fmt.Errorf("trajectory: time not strictly increasing at sample %d", i)
		}
	}
	return nil
}

// digest returns a content hash of the table.  Tables hashing equal need not
// be re-uploaded to a controller that already holds them; upload is the
// expensive operation for long tables.
func (t PVTTable) digest() string {
	h := md5.New()
	var buf [24]byte
	for _, p := range t {
		binary.LittleEndian.PutUint64(buf[0:], math.Float64bits(p.Time))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(p.Position))
		binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(p.Velocity))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Trajectory pairs an axis with its PVT table, in user units
type Trajectory struct {
	Axis  *Axis
	Table PVTTable
}

// toController converts the table to controller units for upload
func (tr Trajectory) toController() PVTTable {
	out := make(PVTTable, len(tr.Table))
	scale := float64(tr.Axis.sign) * tr.Axis.stepsPerUnit
	for i, p := range tr.Table {
		out[i] = PVTPoint{
			Time:     p.Time,
			Position: tr.Axis.toController(p.Position),
			Velocity: p.Velocity * scale,
		}
	}
	return out
}

// TrajectoryGroup executes precomputed trajectories across one or more
// controllers as a coordinated path.  An internal Group performs the
// bracketing moves to the first/last waypoint; the trajectory itself is
// armed, started and aborted through each controller's TrajectoryController
// capability.
//
// Every table must share a common time base (identical time columns).
type TrajectoryGroup struct {
	trajectories []Trajectory
	group        *Group
	calcAxis     *Axis
	log          zerolog.Logger

	mu       sync.Mutex
	disabled map[string]struct{}
}

// NewTrajectoryGroup builds a trajectory group.  Every axis' controller
// must implement TrajectoryController, and all tables must share the same
// time base.
func NewTrajectoryGroup(trajectories ...Trajectory) (*TrajectoryGroup, error) {
	if len(trajectories) == 0 {
		return nil, fmt.Errorf("trajectory: at least one axis is required")
	}
	axes := make([]*Axis, 0, len(trajectories))
	base := trajectories[0].Table
	for _, tr := range trajectories {
		if err := tr.Table.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", tr.Axis.Name(), err)
		}
		if _, ok := tr.Axis.ctl.(TrajectoryController); !ok {
			return nil, fmt.Errorf("%s: %w", tr.Axis.Name(), ErrNotSupported)
		}
		if len(tr.Table) != len(base) {
			return nil, fmt.Errorf("trajectory: %s table length differs", tr.Axis.Name())
		}
		for i := range tr.Table {
			if tr.Table[i].Time != base[i].Time {
				return nil, fmt.Errorf("trajectory: %s time base differs at sample %d", tr.Axis.Name(), i)
			}
		}
		axes = append(axes, tr.Axis)
	}
	grp, err := NewGroup(axes...)
	if err != nil {
		return nil, err
	}
	return &TrajectoryGroup{
		trajectories: trajectories,
		group:        grp,
		log:          zerolog.Nop(),
		disabled:     make(map[string]struct{}),
	}, nil
}

// SetLogger attaches a logger
func (tg *TrajectoryGroup) SetLogger(l zerolog.Logger) {
	tg.log = l
	tg.group.SetLogger(l)
}

// BindCalcAxis records the calculation axis, if any, that owns this
// trajectory group
func (tg *TrajectoryGroup) BindCalcAxis(a *Axis) {
	tg.calcAxis = a
}

// CalcAxis returns the owning calculation axis, or nil
func (tg *TrajectoryGroup) CalcAxis() *Axis {
	return tg.calcAxis
}

// Axes returns the participating axes in table order
func (tg *TrajectoryGroup) Axes() []*Axis {
	out := make([]*Axis, len(tg.trajectories))
	for i, tr := range tg.trajectories {
		out[i] = tr.Axis
	}
	return out
}

// DisableAxis excludes an axis from subsequent command fan-out.  The axis
// stays part of the data set and may be re-enabled later.
func (tg *TrajectoryGroup) DisableAxis(name string) error {
	if _, ok := tg.group.Axis(name); !ok {
		return fmt.Errorf("trajectory: no axis named %q", name)
	}
	tg.mu.Lock()
	tg.disabled[name] = struct{}{}
	tg.mu.Unlock()
	return nil
}

// EnableAxis re-includes a previously disabled axis.  Enabling an axis that
// was never disabled is a no-op.
func (tg *TrajectoryGroup) EnableAxis(name string) {
	tg.mu.Lock()
	delete(tg.disabled, name)
	tg.mu.Unlock()
}

// DisabledAxes returns the names of currently disabled axes
func (tg *TrajectoryGroup) DisabledAxes() []string {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	out := make([]string, 0, len(tg.disabled))
	for n := range tg.disabled {
		out = append(out, n)
	}
	return out
}

// enabled returns the trajectories not currently disabled
func (tg *TrajectoryGroup) enabled() []Trajectory {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	out := make([]Trajectory, 0, len(tg.trajectories))
	for _, tr := range tg.trajectories {
		if _, off := tg.disabled[tr.Axis.Name()]; off {
			continue
		}
		out = append(out, tr)
	}
	return out
}

// byController buckets the enabled trajectories per controller
func (tg *TrajectoryGroup) byController() map[TrajectoryController][]Trajectory {
	buckets := make(map[TrajectoryController][]Trajectory)
	for _, tr := range tg.enabled() {
		// capability checked at construction
		tc := tr.Axis.ctl.(TrajectoryController)
		buckets[tc] = append(buckets[tc], tr)
	}
	return buckets
}

// State returns the aggregate state of the participating axes
func (tg *TrajectoryGroup) State() (GroupState, error) {
	return tg.group.State()
}

// IsMoving returns true while a bracketing move is in flight
func (tg *TrajectoryGroup) IsMoving() bool {
	return tg.group.IsMoving()
}

// Prepare uploads the tables to the controllers, in parallel per
// controller.  An axis whose table digest matches the one recorded at its
// last upload is skipped entirely; re-preparing an unchanged trajectory
// costs nothing.
func (tg *TrajectoryGroup) Prepare() error {
	var eg errgroup.Group
	for tc, trajs := range tg.byController() {
		tc, trajs := tc, trajs
		eg.Go(func() error {
			for _, tr := range trajs {
				a := tr.Axis
				dial := tr.toController()
				d := dial.digest()
				if prev, ok := settings.String(a.sets, a.name, settingTrajDigest); ok && prev == d {
					continue
				}
				if err := tc.LoadTrajectory(a.addr, dial); err != nil {
					return commErr(a.name, err)
				}
				a.sets.Set(a.name, settingTrajDigest, d)
				tg.log.Debug().Str("axis", a.name).Int("samples", len(dial)).Msg("trajectory loaded")
			}
			return nil
		})
	}
	return eg.Wait()
}

// MoveToStart moves the enabled axes to the first waypoint of their tables
// and arms the trajectory.  The bracketing move carries zero backlash so
// the approach geometry of the path is not perturbed.
func (tg *TrajectoryGroup) MoveToStart() error {
	return tg.bracket(false)
}

// MoveToEnd moves the enabled axes to the last waypoint of their tables and
// arms the trajectory
func (tg *TrajectoryGroup) MoveToEnd() error {
	return tg.bracket(true)
}

func (tg *TrajectoryGroup) bracket(toEnd bool) error {
	enabled := tg.enabled()
	targets := make(map[string]float64, len(enabled))
	for _, tr := range enabled {
		idx := 0
		if toEnd {
			idx = len(tr.Table) - 1
		}
		targets[tr.Axis.Name()] = tr.Table[idx].Position
	}
	if err := tg.group.moveNoBacklash(targets); err != nil {
		return err
	}
	return tg.fanOut(func(tc TrajectoryController, axes []string) error {
		return tc.ArmTrajectory(axes)
	})
}

// Start issues the trajectory-execute command on every involved controller
// in parallel
func (tg *TrajectoryGroup) Start() error {
	return tg.fanOut(func(tc TrajectoryController, axes []string) error {
		return tc.StartTrajectory(axes)
	})
}

// Stop aborts trajectory execution on every involved controller in
// parallel, then stops any in-flight bracketing move
func (tg *TrajectoryGroup) Stop() error {
	if err := tg.fanOut(func(tc TrajectoryController, axes []string) error {
		return tc.AbortTrajectory(axes)
	}); err != nil {
		return err
	}
	return tg.group.Stop()
}

// fanOut runs one command per controller in parallel over the enabled
// axes, mirroring the group start phase
func (tg *TrajectoryGroup) fanOut(cmd func(TrajectoryController, []string) error) error {
	var eg errgroup.Group
	for tc, trajs := range tg.byController() {
		tc, trajs := tc, trajs
		eg.Go(func() error {
			axes := make([]string, len(trajs))
			for i, tr := range trajs {
				axes[i] = tr.Axis.addr
			}
			if err := cmd(tc, axes); err != nil {
				return commErr(trajs[0].Axis.name, err)
			}
			return nil
		})
	}
	return eg.Wait()
}
