package motion

import (
	"encoding/json"
	"net/http"

	"github.com/nasa-jpl/beamctl/generichttp"
	"github.com/nasa-jpl/beamctl/motion"
)

func addSpeedRoutes(h *HTTPMotion, rt generichttp.RouteTable) {
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/velocity"}] = h.GetVelocity
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/velocity"}] = h.SetVelocity
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/acceleration"}] = h.GetAcceleration
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/acceleration"}] = h.SetAcceleration
}

// GetVelocity returns the velocity setpoint in user units per second
func (h *HTTPMotion) GetVelocity(w http.ResponseWriter, r *http.Request) {
	h.getFloatSetpoint(w, r, (*motion.Axis).Velocity)
}

// SetVelocity sets the velocity setpoint in user units per second
func (h *HTTPMotion) SetVelocity(w http.ResponseWriter, r *http.Request) {
	h.setFloatSetpoint(w, r, (*motion.Axis).SetVelocity)
}

// GetAcceleration returns the acceleration setpoint
func (h *HTTPMotion) GetAcceleration(w http.ResponseWriter, r *http.Request) {
	h.getFloatSetpoint(w, r, (*motion.Axis).Acceleration)
}

// SetAcceleration sets the acceleration setpoint
func (h *HTTPMotion) SetAcceleration(w http.ResponseWriter, r *http.Request) {
	h.setFloatSetpoint(w, r, (*motion.Axis).SetAcceleration)
}

func (h *HTTPMotion) getFloatSetpoint(w http.ResponseWriter, r *http.Request, get func(*motion.Axis) (float64, error)) {
	a, err := h.axis(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	generichttp.GetFloat(func() (float64, error) { return get(a) })(w, r)
}

// setFloatSetpoint stays hand-rolled rather than using generichttp.SetFloat;
// rejecting a setpoint change mid-move must surface as a conflict, not a
// server error
func (h *HTTPMotion) setFloatSetpoint(w http.ResponseWriter, r *http.Request, set func(*motion.Axis, float64) error) {
	a, err := h.axis(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	floatT := generichttp.FloatT{}
	err = json.NewDecoder(r.Body).Decode(&floatT)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := set(a, floatT.F64); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
