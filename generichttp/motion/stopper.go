package motion

import (
	"net/http"

	"github.com/nasa-jpl/beamctl/generichttp"
)

func addStopRoutes(h *HTTPMotion, rt generichttp.RouteTable) {
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/stop"}] = h.Stop
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}] = h.StopAll
}

// Stop aborts the in-flight move on the axis, a no-op when idle
func (h *HTTPMotion) Stop(w http.ResponseWriter, r *http.Request) {
	a, err := h.axis(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err := a.Stop(); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// StopAll stops every registered axis.  The panic button; stops are issued
// to every axis even if an earlier one errors.
func (h *HTTPMotion) StopAll(w http.ResponseWriter, r *http.Request) {
	var firstErr error
	for _, name := range h.reg.Names() {
		a, ok := h.reg.Get(name)
		if !ok {
			continue
		}
		if err := a.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		httpError(w, firstErr)
		return
	}
	w.WriteHeader(http.StatusOK)
}
