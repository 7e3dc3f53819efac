package motion

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nasa-jpl/beamctl/generichttp"
)

func addMoveRoutes(h *HTTPMotion, rt generichttp.RouteTable) {
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/pos"}] = h.GetPos
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/pos"}] = h.SetPos
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/home"}] = h.Home
}

// GetPos returns the axis position in user units
func (h *HTTPMotion) GetPos(w http.ResponseWriter, r *http.Request) {
	a, err := h.axis(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	generichttp.GetFloat(a.Position)(w, r)
}

// popRelative reads the relative query parameter, default false
func popRelative(r *http.Request) (bool, error) {
	relative := r.URL.Query().Get("relative")
	if relative == "" {
		relative = "false"
	}
	return strconv.ParseBool(relative)
}

// SetPos moves the axis to an absolute position, or by a relative amount
// with ?relative=true.  The request blocks until the axis settles.
func (h *HTTPMotion) SetPos(w http.ResponseWriter, r *http.Request) {
	a, err := h.axis(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	rel, err := popRelative(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f := generichttp.FloatT{}
	err = json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if rel {
		err = a.RMove(f.F64)
	} else {
		err = a.Move(f.F64)
	}
	if err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Home runs the hardware home search and blocks until it completes
func (h *HTTPMotion) Home(w http.ResponseWriter, r *http.Request) {
	a, err := h.axis(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err := a.Home(); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
