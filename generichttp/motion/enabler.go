package motion

import (
	"encoding/json"
	"net/http"

	"github.com/nasa-jpl/beamctl/generichttp"
	"github.com/nasa-jpl/beamctl/motion"
)

func addEnableRoutes(h *HTTPMotion, rt generichttp.RouteTable) {
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/enabled"}] = h.GetEnabled
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/enabled"}] = h.SetEnabled
}

// GetEnabled reports whether the axis power stage is on, from the most
// recent state observation
func (h *HTTPMotion) GetEnabled(w http.ResponseWriter, r *http.Request) {
	a, err := h.axis(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	generichttp.GetBool(func() (bool, error) {
		st, err := a.State()
		if err != nil {
			return false, err
		}
		return st.Primary() != motion.Off, nil
	})(w, r)
}

// SetEnabled switches the axis power stage on or off
func (h *HTTPMotion) SetEnabled(w http.ResponseWriter, r *http.Request) {
	a, err := h.axis(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	boolT := generichttp.BoolT{}
	err = json.NewDecoder(r.Body).Decode(&boolT)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if boolT.Bool {
		err = a.On()
	} else {
		err = a.Off()
	}
	if err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
