package motion

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"sync"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/beamctl/generichttp"
	"github.com/nasa-jpl/beamctl/motion"
)

// trajectoryStore holds named trajectory groups built over HTTP.  Groups
// survive between requests so that prepare/start/stop can operate on them
// without re-uploading tables.
type trajectoryStore struct {
	sync.Mutex
	groups map[string]*motion.TrajectoryGroup
}

func newTrajectoryStore() *trajectoryStore {
	return &trajectoryStore{groups: map[string]*motion.TrajectoryGroup{}}
}

func (ts *trajectoryStore) get(name string) (*motion.TrajectoryGroup, bool) {
	ts.Lock()
	defer ts.Unlock()
	tg, ok := ts.groups[name]
	return tg, ok
}

func (ts *trajectoryStore) put(name string, tg *motion.TrajectoryGroup) {
	ts.Lock()
	defer ts.Unlock()
	ts.groups[name] = tg
}

func (ts *trajectoryStore) delete(name string) bool {
	ts.Lock()
	defer ts.Unlock()
	_, ok := ts.groups[name]
	delete(ts.groups, name)
	return ok
}

// TrajectoryPoint is one json sample of a trajectory table
type TrajectoryPoint struct {
	Time     float64 `json:"t"`
	Position float64 `json:"p"`
	Velocity float64 `json:"v"`
}

// TrajectoryRequest is the json body used to create a trajectory group.
// Every axis' table must share the same time column.
type TrajectoryRequest struct {
	Axes map[string][]TrajectoryPoint `json:"axes"`
}

func addTrajectoryRoutes(h *HTTPMotion, rt generichttp.RouteTable) {
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/trajectory/{traj}"}] = h.CreateTrajectory
	rt[generichttp.MethodPath{Method: http.MethodDelete, Path: "/trajectory/{traj}"}] = h.DeleteTrajectory
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/trajectory/{traj}/state"}] = h.TrajectoryState
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/trajectory/{traj}/prepare"}] = h.trajectoryAction((*motion.TrajectoryGroup).Prepare)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/trajectory/{traj}/move-to-start"}] = h.trajectoryAction((*motion.TrajectoryGroup).MoveToStart)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/trajectory/{traj}/move-to-end"}] = h.trajectoryAction((*motion.TrajectoryGroup).MoveToEnd)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/trajectory/{traj}/start"}] = h.trajectoryAction((*motion.TrajectoryGroup).Start)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/trajectory/{traj}/stop"}] = h.trajectoryAction((*motion.TrajectoryGroup).Stop)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/trajectory/{traj}/axis/{axis}/enabled"}] = h.SetTrajectoryAxisEnabled
}

// trajectory resolves the {traj} URL parameter against the store, writing
// a 404 and returning nil when it does not exist
func (h *HTTPMotion) trajectory(w http.ResponseWriter, r *http.Request) *motion.TrajectoryGroup {
	name := chi.URLParam(r, "traj")
	tg, ok := h.trajs.get(name)
	if !ok {
		http.Error(w, fmt.Sprintf("trajectory %s does not exist", name), http.StatusNotFound)
		return nil
	}
	return tg
}

// CreateTrajectory builds a trajectory group from json PVT tables and stores
// it under the {traj} URL parameter, replacing any previous group of the
// same name
func (h *HTTPMotion) CreateTrajectory(w http.ResponseWriter, r *http.Request) {
	req := TrajectoryRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	trajs := make([]motion.Trajectory, 0, len(req.Axes))
	for name, pts := range req.Axes {
		a, ok := h.reg.Get(name)
		if !ok {
			http.Error(w, fmt.Sprintf("axis %s does not exist", name), http.StatusNotFound)
			return
		}
		table := make(motion.PVTTable, len(pts))
		for i, p := range pts {
			table[i] = motion.PVTPoint{Time: p.Time, Position: p.Position, Velocity: p.Velocity}
		}
		trajs = append(trajs, motion.Trajectory{Axis: a, Table: table})
	}
	tg, err := motion.NewTrajectoryGroup(trajs...)
	if err != nil {
		httpError(w, err)
		return
	}
	h.trajs.put(chi.URLParam(r, "traj"), tg)
	w.WriteHeader(http.StatusOK)
}

// DeleteTrajectory removes a stored trajectory group
func (h *HTTPMotion) DeleteTrajectory(w http.ResponseWriter, r *http.Request) {
	if !h.trajs.delete(chi.URLParam(r, "traj")) {
		http.Error(w, fmt.Sprintf("trajectory %s does not exist", chi.URLParam(r, "traj")), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// TrajectoryState returns the aggregate state of the group's axes
func (h *HTTPMotion) TrajectoryState(w http.ResponseWriter, r *http.Request) {
	tg := h.trajectory(w, r)
	if tg == nil {
		return
	}
	st, err := tg.State()
	if err != nil {
		httpError(w, err)
		return
	}
	s := st.StateFlags.String()
	for i, d := range st.Details {
		if i == 0 {
			s += ":"
		}
		s += " " + d.String()
	}
	hp := generichttp.HumanPayload{T: types.String, String: s}
	hp.EncodeAndRespond(w, r)
}

// trajectoryAction adapts an argument-free trajectory group method into an
// http handler
func (h *HTTPMotion) trajectoryAction(f func(*motion.TrajectoryGroup) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tg := h.trajectory(w, r)
		if tg == nil {
			return
		}
		if err := f(tg); err != nil {
			httpError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// SetTrajectoryAxisEnabled includes or excludes one axis from the group's
// fan out without rebuilding the group
func (h *HTTPMotion) SetTrajectoryAxisEnabled(w http.ResponseWriter, r *http.Request) {
	tg := h.trajectory(w, r)
	if tg == nil {
		return
	}
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := chi.URLParam(r, "axis")
	if b.Bool {
		tg.EnableAxis(name)
	} else if err := tg.DisableAxis(name); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
