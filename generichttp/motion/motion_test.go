package motion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/beamctl/config"
	"github.com/nasa-jpl/beamctl/generichttp"
	"github.com/nasa-jpl/beamctl/motion"
	"github.com/nasa-jpl/beamctl/settings"
)

// testServer builds a two-axis registry over one mock controller and serves
// it on a loopback listener
func testServer(t *testing.T) (*httptest.Server, *motion.MockController) {
	t.Helper()
	mc := motion.NewMockController()
	reg := motion.NewRegistry()
	for _, name := range []string{"th", "tth"} {
		a, err := motion.NewAxis(name, mc, config.New(map[string]interface{}{}), settings.NewMapCache())
		if err != nil {
			t.Fatalf("NewAxis %s: %v", name, err)
		}
		if err := reg.Add(a); err != nil {
			t.Fatalf("Add %s: %v", name, err)
		}
	}
	r := chi.NewRouter()
	NewHTTPMotion(reg).RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, mc
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// getPlain fetches url with Accept: text/plain and returns the bare body
func getPlain(t *testing.T, url string) string {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("Accept", "text/plain")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	return strings.TrimSpace(string(body))
}

func getFloat(t *testing.T, url string) float64 {
	t.Helper()
	f, err := strconv.ParseFloat(getPlain(t, url), 64)
	if err != nil {
		t.Fatalf("GET %s: not a float: %v", url, err)
	}
	return f
}

func wantStatus(t *testing.T, resp *http.Response, code int) {
	t.Helper()
	if resp.StatusCode != code {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status %d, expected %d (%s)", resp.StatusCode, code, strings.TrimSpace(string(body)))
	}
}

func TestListAxes(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/axes")
	if err != nil {
		t.Fatalf("GET /axes: %v", err)
	}
	defer resp.Body.Close()
	var names []string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(names) != 2 || names[0] != "th" || names[1] != "tth" {
		t.Errorf("expected [th tth], got %v", names)
	}
}

func TestPosRoundTrip(t *testing.T) {
	srv, _ := testServer(t)
	resp := postJSON(t, srv.URL+"/axis/th/pos", generichttp.FloatT{F64: 2.5})
	wantStatus(t, resp, http.StatusOK)
	if pos := getFloat(t, srv.URL+"/axis/th/pos"); pos != 2.5 {
		t.Errorf("expected position 2.5, got %v", pos)
	}
	resp = postJSON(t, srv.URL+"/axis/th/pos?relative=true", generichttp.FloatT{F64: -1})
	wantStatus(t, resp, http.StatusOK)
	if pos := getFloat(t, srv.URL+"/axis/th/pos"); pos != 1.5 {
		t.Errorf("expected position 1.5 after relative move, got %v", pos)
	}
}

func TestUnknownAxis404(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/axis/nochan/state")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	wantStatus(t, resp, http.StatusNotFound)
}

func TestStateReflectsFault(t *testing.T) {
	srv, mc := testServer(t)
	if s := getPlain(t, srv.URL+"/axis/th/state"); s != "READY" {
		t.Errorf("expected READY, got %s", s)
	}
	mc.InjectFault("th")
	if s := getPlain(t, srv.URL+"/axis/th/state"); s != "FAULT" {
		t.Errorf("expected FAULT, got %s", s)
	}
}

func TestVelocityAndAcceleration(t *testing.T) {
	srv, _ := testServer(t)
	for _, setpoint := range []string{"velocity", "acceleration"} {
		url := srv.URL + "/axis/tth/" + setpoint
		resp := postJSON(t, url, generichttp.FloatT{F64: 42})
		wantStatus(t, resp, http.StatusOK)
		if v := getFloat(t, url); v != 42 {
			t.Errorf("%s: expected 42, got %v", setpoint, v)
		}
	}
}

func TestLimitsRejectInvertedRange(t *testing.T) {
	srv, _ := testServer(t)
	resp := postJSON(t, srv.URL+"/axis/th/limits", Limits{Low: 5, High: -5})
	wantStatus(t, resp, http.StatusBadRequest)
}

func TestLimitedMoveRejected(t *testing.T) {
	srv, _ := testServer(t)
	resp := postJSON(t, srv.URL+"/axis/th/limits", Limits{Low: -1, High: 1})
	wantStatus(t, resp, http.StatusOK)
	resp = postJSON(t, srv.URL+"/axis/th/pos", generichttp.FloatT{F64: 10})
	wantStatus(t, resp, http.StatusBadRequest)
}

func TestOffsetRoundTrip(t *testing.T) {
	srv, mc := testServer(t)
	mc.SetPos("th", 2)
	url := srv.URL + "/axis/th/offset"
	resp := postJSON(t, url, generichttp.FloatT{F64: 1.5})
	wantStatus(t, resp, http.StatusOK)
	if off := getFloat(t, url); off != 1.5 {
		t.Errorf("expected offset 1.5, got %v", off)
	}
	// the offset shifts the user frame without a hardware move
	if pos := getFloat(t, srv.URL+"/axis/th/pos"); pos != 3.5 {
		t.Errorf("expected position 3.5 with offset applied, got %v", pos)
	}
	if n := len(mc.Targets("th")); n != 0 {
		t.Errorf("expected no hardware targets, got %d", n)
	}

	// json clients get the usual single-key object
	resp2, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp2.Body.Close()
	f := generichttp.FloatT{}
	if err := json.NewDecoder(resp2.Body).Decode(&f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.F64 != 1.5 {
		t.Errorf("expected {f64: 1.5}, got %v", f.F64)
	}
}

func TestEnabledRoundTrip(t *testing.T) {
	srv, _ := testServer(t)
	url := srv.URL + "/axis/th/enabled"
	if s := getPlain(t, url); s != "true" {
		t.Errorf("expected enabled true, got %s", s)
	}
	resp := postJSON(t, url, generichttp.BoolT{Bool: false})
	wantStatus(t, resp, http.StatusOK)
	if s := getPlain(t, url); s != "false" {
		t.Errorf("expected enabled false after disable, got %s", s)
	}
}

func TestHomeAndStop(t *testing.T) {
	srv, mc := testServer(t)
	mc.SetPos("th", 7)
	resp := postJSON(t, srv.URL+"/axis/th/home", nil)
	wantStatus(t, resp, http.StatusOK)
	if pos := getFloat(t, srv.URL+"/axis/th/pos"); pos != 0 {
		t.Errorf("expected position 0 after home, got %v", pos)
	}
	resp = postJSON(t, srv.URL+"/axis/th/stop", nil)
	wantStatus(t, resp, http.StatusOK)
}

func TestGroupMove(t *testing.T) {
	srv, mc := testServer(t)
	resp := postJSON(t, srv.URL+"/group/move", GroupMoveRequest{
		Targets: map[string]float64{"th": 1, "tth": 2},
	})
	wantStatus(t, resp, http.StatusOK)
	if pos := getFloat(t, srv.URL+"/axis/tth/pos"); pos != 2 {
		t.Errorf("expected tth at 2, got %v", pos)
	}
	if n := len(mc.Targets("th")); n != 1 {
		t.Errorf("expected one hardware target for th, got %d", n)
	}
}

func TestGroupMoveUnknownAxis(t *testing.T) {
	srv, _ := testServer(t)
	resp := postJSON(t, srv.URL+"/group/move", GroupMoveRequest{
		Targets: map[string]float64{"th": 1, "phi": 2},
	})
	wantStatus(t, resp, http.StatusNotFound)
}

func TestGroupStateAndPos(t *testing.T) {
	srv, mc := testServer(t)
	mc.SetPos("th", 3)
	if s := getPlain(t, srv.URL+"/group/state"); s != "READY" {
		t.Errorf("expected READY, got %s", s)
	}
	resp, err := http.Get(srv.URL + "/group/pos?axes=th")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var pos map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&pos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pos) != 1 || pos["th"] != 3 {
		t.Errorf("expected map[th:3], got %v", pos)
	}
}

func trajectoryBody(axes ...string) TrajectoryRequest {
	req := TrajectoryRequest{Axes: map[string][]TrajectoryPoint{}}
	for _, name := range axes {
		req.Axes[name] = []TrajectoryPoint{
			{Time: 0, Position: 0, Velocity: 1},
			{Time: 0.1, Position: 1, Velocity: 1},
			{Time: 0.2, Position: 2, Velocity: 1},
		}
	}
	return req
}

func TestTrajectoryLifecycle(t *testing.T) {
	srv, mc := testServer(t)
	base := srv.URL + "/trajectory/scan1"
	wantStatus(t, postJSON(t, base, trajectoryBody("th", "tth")), http.StatusOK)
	for _, action := range []string{"prepare", "move-to-start", "start", "stop"} {
		resp := postJSON(t, base+"/"+action, nil)
		wantStatus(t, resp, http.StatusOK)
	}
	if got := mc.TrajectoryCommands(); len(got) != 3 || got[0] != "arm" || got[1] != "start" || got[2] != "abort" {
		t.Errorf("expected [arm start abort], got %v", got)
	}
	if s := getPlain(t, base+"/state"); s != "READY" {
		t.Errorf("expected READY, got %s", s)
	}

	req, _ := http.NewRequest(http.MethodDelete, base, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	wantStatus(t, resp, http.StatusOK)
	resp2 := postJSON(t, base+"/prepare", nil)
	wantStatus(t, resp2, http.StatusNotFound)
}

func TestTrajectoryAxisDisable(t *testing.T) {
	srv, mc := testServer(t)
	base := srv.URL + "/trajectory/scan2"
	wantStatus(t, postJSON(t, base, trajectoryBody("th", "tth")), http.StatusOK)
	wantStatus(t, postJSON(t, base+"/axis/tth/enabled", generichttp.BoolT{Bool: false}), http.StatusOK)
	wantStatus(t, postJSON(t, base+"/prepare", nil), http.StatusOK)
	if n := mc.LoadCount("tth"); n != 0 {
		t.Errorf("expected no uploads for disabled axis, got %d", n)
	}
	if n := mc.LoadCount("th"); n != 1 {
		t.Errorf("expected one upload for th, got %d", n)
	}
}

func TestEndpointsListed(t *testing.T) {
	eps := NewHTTPMotion(motion.NewRegistry()).RT().Endpoints()
	want := fmt.Sprintf("%s %s", http.MethodGet, "/axis/{axis}/pos")
	found := false
	for _, ep := range eps {
		if ep == want {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %q in endpoints, got %v", want, eps)
	}
}
