package motion

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/nasa-jpl/beamctl/generichttp"
	"github.com/nasa-jpl/beamctl/motion"
)

// GroupMoveRequest is the json body of a group move: a map of axis name to
// target, moved as one synchronized operation
type GroupMoveRequest struct {
	Targets  map[string]float64 `json:"targets"`
	Relative bool               `json:"relative"`
}

func addGroupRoutes(h *HTTPMotion, rt generichttp.RouteTable) {
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/group/move"}] = h.GroupMove
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/group/state"}] = h.GroupState
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/group/pos"}] = h.GroupPos
}

// groupFromQuery builds an ad hoc group from the comma separated axes query
// parameter, or from explicit names
func (h *HTTPMotion) group(names []string) (*motion.Group, error) {
	return motion.NewGroupByName(h.reg, names...)
}

// GroupMove moves a set of axes as one synchronized operation and blocks
// until every one of them settles
func (h *HTTPMotion) GroupMove(w http.ResponseWriter, r *http.Request) {
	req := GroupMoveRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Targets) == 0 {
		http.Error(w, "no targets given", http.StatusBadRequest)
		return
	}
	names := make([]string, 0, len(req.Targets))
	for name := range req.Targets {
		names = append(names, name)
	}
	g, err := h.group(names)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if req.Relative {
		err = g.RMove(req.Targets)
	} else {
		err = g.Move(req.Targets)
	}
	if err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// axesQuery splits the axes query parameter, falling back to every
// registered axis when it is absent
func (h *HTTPMotion) axesQuery(r *http.Request) []string {
	raw := r.URL.Query()["axes"]
	if len(raw) == 0 {
		return h.reg.Names()
	}
	return raw
}

// GroupState returns the aggregate state of the queried axes, e.g.
// "FAULT: FAULT1 (tth)"
func (h *HTTPMotion) GroupState(w http.ResponseWriter, r *http.Request) {
	g, err := h.group(h.axesQuery(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	st, err := g.State()
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

// GroupPos returns the position of the queried axes as a json map
func (h *HTTPMotion) GroupPos(w http.ResponseWriter, r *http.Request) {
	g, err := h.group(h.axesQuery(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	pos, err := g.Position()
	if err != nil {
		httpError(w, err)
		return
	}
	respondJSON(w, pos)
}
