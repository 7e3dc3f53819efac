package motion

import (
	"encoding/json"
	"net/http"

	"github.com/nasa-jpl/beamctl/generichttp"
)

// Limits is the json shape of the software limit pair
type Limits struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

func addLimitRoutes(h *HTTPMotion, rt generichttp.RouteTable) {
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/limits"}] = h.GetLimits
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/limits"}] = h.SetLimits
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/offset"}] = h.GetOffset
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/offset"}] = h.SetOffset
}

// GetLimits returns the software limits in user units
func (h *HTTPMotion) GetLimits(w http.ResponseWriter, r *http.Request) {
	a, err := h.axis(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	low, high := a.Limits()
	respondJSON(w, Limits{Low: low, High: high})
}

// SetLimits replaces the software limits
func (h *HTTPMotion) SetLimits(w http.ResponseWriter, r *http.Request) {
	a, err := h.axis(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	lim := Limits{}
	err = json.NewDecoder(r.Body).Decode(&lim)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if lim.Low > lim.High {
		http.Error(w, "low limit exceeds high limit", http.StatusBadRequest)
		return
	}
	a.SetLimits(lim.Low, lim.High)
	w.WriteHeader(http.StatusOK)
}

// GetOffset returns the user frame offset
func (h *HTTPMotion) GetOffset(w http.ResponseWriter, r *http.Request) {
	a, err := h.axis(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	generichttp.GetFloat(func() (float64, error) { return a.Offset(), nil })(w, r)
}

// SetOffset shifts the user frame without moving hardware
func (h *HTTPMotion) SetOffset(w http.ResponseWriter, r *http.Request) {
	a, err := h.axis(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	generichttp.SetFloat(func(v float64) error {
		a.SetOffset(v)
		return nil
	})(w, r)
}
