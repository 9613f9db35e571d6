package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/nasa-jpl/hcifs/generichttp"
)

type table struct {
	rt generichttp.RouteTable
}

func (t table) RT() generichttp.RouteTable { return t.rt }

func newMux(l *Locker) chi.Router {
	h := table{rt: generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/status"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}}
	Inject(h, l)
	sub := chi.NewRouter()
	sub.Use(l.Check)
	h.RT().Bind(sub)
	root := chi.NewRouter()
	root.Mount("/bench", sub)
	return root
}

func TestTryLock(t *testing.T) {
	l := New()
	if !l.TryLock() {
		t.Fatal("expected first TryLock to succeed")
	}
	if l.TryLock() {
		t.Error("expected second TryLock to fail")
	}
	l.Unlock()
	if !l.TryLock() {
		t.Error("expected TryLock to succeed after Unlock")
	}
}

func TestCheckReturns423WhenLocked(t *testing.T) {
	l := New()
	mux := newMux(l)
	l.Lock()
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bench/status", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423, got %d", w.Code)
	}
	l.Unlock()
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bench/status", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 once unlocked, got %d", w.Code)
	}
}

func TestLockRouteIsNotProtected(t *testing.T) {
	l := New()
	mux := newMux(l)
	l.Lock()
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bench/lock", nil))
	if body := strings.TrimSpace(w.Body.String()); body != `{"bool":true}` {
		t.Errorf("expected {\"bool\":true}, got %d %s", w.Code, body)
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bench/lock", strings.NewReader(`{"bool": false}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from unlock, got %d", w.Code)
	}
	if l.Locked() {
		t.Error("expected POST /lock false to unlock")
	}
}
