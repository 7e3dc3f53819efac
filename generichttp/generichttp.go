// Package generichttp defines the plumbing shared by all HTTP interfaces in
// beamctl: a route table keyed on method and path, typed single-value JSON
// payloads, and handler factories for the get/set endpoints every wrapper
// needs.
package generichttp

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
)

// MethodPath is one HTTP method and URL path pair
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps method/path pairs to their handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Bind registers every route in the table on r
func (rt RouteTable) Bind(r chi.Router) {
	for mp, handler := range rt {
		r.Method(mp.Method, mp.Path, handler)
	}
}

// Endpoints lists the routes in the table as "METHOD path" strings
func (rt RouteTable) Endpoints() []string {
	out := make([]string, 0, len(rt))
	for mp := range rt {
		out = append(out, mp.Method+" "+mp.Path)
	}
	return out
}

// HTTPer is a type which exposes an HTTP route table
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize normalizes a config endpoint to the "/stem/*" form chi
// wants for a mounted submux, "omc/th" => "/omc/th/*"
func SubMuxSanitize(stem string) string {
	if !strings.HasPrefix(stem, "/") {
		stem = "/" + stem
	}
	stem = strings.TrimSuffix(stem, "/")
	if !strings.HasSuffix(stem, "/*") {
		stem = stem + "/*"
	}
	return stem
}

// FloatT is a struct with a single float64 field for json {'f64': value}
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field for json {'int': value}
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field for json {'str': value}
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field for json {'bool': value}
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a single typed value that can render itself as json or
// plain text depending on what the client asked for
type HumanPayload struct {
	// T is the type of the value
	T types.BasicKind

	Bool   bool
	Int    int
	Float  float64
	String string
}

// EncodeAndRespond writes the payload to w.  Clients sending
// Accept: text/plain get the bare value; everyone else gets the usual
// single-key json object.
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		w.Header().Set("Content-Type", "text/plain")
		switch hp.T {
		case types.Bool:
			fmt.Fprintf(w, "%t", hp.Bool)
		case types.Int:
			fmt.Fprintf(w, "%d", hp.Int)
		case types.Float64:
			fmt.Fprintf(w, "%g", hp.Float)
		default:
			fmt.Fprint(w, hp.String)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	var obj interface{}
	switch hp.T {
	case types.Bool:
		obj = BoolT{Bool: hp.Bool}
	case types.Int:
		obj = IntT{Int: hp.Int}
	case types.Float64:
		obj = FloatT{F64: hp.Float}
	default:
		obj = StrT{Str: hp.String}
	}
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}

// SetFloat parses a JSON input of {'f64': value} and
// calls fcn with it
func SetFloat(fcn func(float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(f.F64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

