package locker

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/beamctl/generichttp"
)

type fakeHTTPer struct {
	rt generichttp.RouteTable
}

func (f fakeHTTPer) RT() generichttp.RouteTable { return f.rt }

func testMux(t *testing.T) *httptest.Server {
	t.Helper()
	h := fakeHTTPer{rt: generichttp.RouteTable{}}
	h.rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/thing"}] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
	l := New()
	Inject(h, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	h.rt.Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func setLock(t *testing.T, srv *httptest.Server, locked bool) {
	t.Helper()
	body := `{"bool":false}`
	if locked {
		body = `{"bool":true}`
	}
	resp, err := http.Post(srv.URL+"/lock", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /lock: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /lock: status %d", resp.StatusCode)
	}
}

func get(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestLockBouncesProtectedRoutes(t *testing.T) {
	srv := testMux(t)
	if code := get(t, srv.URL+"/thing"); code != http.StatusOK {
		t.Errorf("unlocked: expected 200, got %d", code)
	}
	setLock(t, srv, true)
	if code := get(t, srv.URL+"/thing"); code != http.StatusLocked {
		t.Errorf("locked: expected 423, got %d", code)
	}
	// the lock route itself stays reachable, otherwise we could never unlock
	if code := get(t, srv.URL+"/lock"); code != http.StatusOK {
		t.Errorf("GET /lock while locked: expected 200, got %d", code)
	}
	setLock(t, srv, false)
	if code := get(t, srv.URL+"/thing"); code != http.StatusOK {
		t.Errorf("unlocked again: expected 200, got %d", code)
	}
}
