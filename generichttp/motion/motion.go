// Package motion provides the HTTP interface to the motion engine: axis
// position, state and setpoints, synchronized group moves, and named
// trajectory groups.
package motion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/beamctl/generichttp"
	"github.com/nasa-jpl/beamctl/motion"
)

// HTTPMotion exposes a motion.Registry and its groups over HTTP
type HTTPMotion struct {
	reg   *motion.Registry
	trajs *trajectoryStore
	rt    generichttp.RouteTable
}

// NewHTTPMotion builds the route table over every axis in the registry.
// Axis names appear as the {axis} URL parameter.
func NewHTTPMotion(reg *motion.Registry) *HTTPMotion {
	h := &HTTPMotion{
		reg:   reg,
		trajs: newTrajectoryStore(),
		rt:    generichttp.RouteTable{},
	}
	rt := h.rt
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axes"}] = h.ListAxes
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/state"}] = h.GetState

	addMoveRoutes(h, rt)
	addStopRoutes(h, rt)
	addSpeedRoutes(h, rt)
	addEnableRoutes(h, rt)
	addLimitRoutes(h, rt)
	addGroupRoutes(h, rt)
	addTrajectoryRoutes(h, rt)
	return h
}

// RT implements generichttp.HTTPer
func (h *HTTPMotion) RT() generichttp.RouteTable {
	return h.rt
}

// axis resolves the {axis} URL parameter against the registry
func (h *HTTPMotion) axis(r *http.Request) (*motion.Axis, error) {
	name := chi.URLParam(r, "axis")
	a, ok := h.reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("no axis named %q", name)
	}
	return a, nil
}

// httpError writes err with a status code matching its kind: illegal-state
// commands are 409, rejected targets 400, missing capabilities 501, and
// anything else 500
func httpError(w http.ResponseWriter, err error) {
	var (
		se motion.StateError
		le motion.LimitError
	)
	switch {
	case errors.As(err, &se):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &le):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, motion.ErrNotSupported):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ListAxes returns the registered axis names as json
func (h *HTTPMotion) ListAxes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.reg.Names())
}

// GetState returns the axis state string, e.g. "READY" or "MOVING|LIMPOS"
func (h *HTTPMotion) GetState(w http.ResponseWriter, r *http.Request) {
	a, err := h.axis(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	generichttp.GetString(func() (string, error) {
		st, err := a.State()
		if err != nil {
			return "", err
		}
		return st.String(), nil
	})(w, r)
}

// respondJSON writes v as a json body
func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
