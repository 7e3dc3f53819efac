package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"

	"github.com/nasa-jpl/beamctl/config"
	"github.com/nasa-jpl/beamctl/generichttp"
	"github.com/nasa-jpl/beamctl/generichttp/ascii"
	httpmotion "github.com/nasa-jpl/beamctl/generichttp/motion"
	"github.com/nasa-jpl/beamctl/icepap"
	"github.com/nasa-jpl/beamctl/motion"
	"github.com/nasa-jpl/beamctl/server/middleware/locker"
	"github.com/nasa-jpl/beamctl/settings"
)

// ObjSetup holds the args for one controller node and the axes built on it
type ObjSetup struct {
	// Addr holds the network address of the controller,
	// e.g. 192.168.100.123:5000 for an IcePAP rack
	Addr string `yaml:"Addr"`

	// Endpoint is the URL stem the node's routes are served on,
	// ex. Endpoint="/omc/dcm" produces routes of /omc/dcm/axes, etc.
	Endpoint string `yaml:"Endpoint"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"Serial"`

	// Type is the kind of controller, e.g. icepap
	Type string `yaml:"Type"`

	// Axes maps axis name to its static parameters (steps_per_unit, sign,
	// backlash, address, low_limit, high_limit)
	Axes map[string]map[string]interface{} `yaml:"Axes"`
}

// Config holds the initialization parameters for the server.  It is
// populated from the yaml config file.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Mock replaces every controller with a simulated one
	Mock bool `yaml:"Mock"`

	// Settings is the path axis setpoints are persisted to; empty keeps
	// them in memory only
	Settings string `yaml:"Settings"`

	// Nodes is the list of controller nodes to set up
	Nodes []ObjSetup `yaml:"Nodes"`
}

// BuildMux constructs a chi mux from the config: one submux per node with
// its own lock, plus a special route, /endpoints, which returns all routes
// as JSON.
func BuildMux(c Config) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}
	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()

	var cache settings.Cache
	if c.Settings != "" {
		fc, err := settings.NewFileCache(c.Settings)
		if err != nil {
			log.Fatal("loading settings: ", err)
		}
		cache = fc
	} else {
		cache = settings.NewMapCache()
	}

	for _, node := range c.Nodes {
		var ctl motion.Controller
		typ := strings.ToLower(node.Type)
		switch {
		case c.Mock || typ == "mock":
			ctl = motion.NewMockController()
		case typ == "icepap":
			ctl = icepap.New(node.Addr, node.Serial)
		default:
			log.Fatal("type ", typ, " not understood")
		}

		reg := motion.NewRegistry()
		for name, args := range node.Axes {
			a, err := motion.NewAxis(name, ctl, config.New(args), cache)
			if err != nil {
				log.Fatalf("axis %s: %v", name, err)
			}
			a.SetLogger(zl)
			if err := reg.Add(a); err != nil {
				log.Fatal(err)
			}
		}

		httper := httpmotion.NewHTTPMotion(reg)
		if raw, ok := ctl.(ascii.RawCommunicator); ok {
			ascii.InjectRawComm(httper, raw)
		}

		// prepare the URL, "omc/dcm" => "/omc/dcm/*"
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)

		lock := locker.New()
		locker.Inject(httper, lock)
		supergraph[hndlS] = httper.RT().Endpoints()

		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
