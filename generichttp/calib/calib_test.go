package calib

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/nasa-jpl/hcifs/calib"
	"github.com/nasa-jpl/hcifs/camera"
	"github.com/nasa-jpl/hcifs/comm"
	"github.com/nasa-jpl/hcifs/gaussfit"
	"github.com/nasa-jpl/hcifs/imgproc"
	"github.com/nasa-jpl/hcifs/sim"
	"github.com/nasa-jpl/hcifs/source"
)

func newCalibrator(src camera.ImageSource, ctl source.CurrentController) *Calibrator {
	c := NewCalibrator(src, ctl, calib.DefaultConfig())
	c.Log, _ = test.NewNullLogger()
	return c
}

func benchCalibrator() (*Calibrator, *sim.Bench) {
	bench := sim.NewBench(sim.DefaultConfig())
	avg := camera.NewAverager(bench.Camera(), bench.SaturationLevel())
	avg.PollInterval = time.Millisecond
	return newCalibrator(avg, bench), bench
}

func serve(c *Calibrator) chi.Router {
	r := chi.NewRouter()
	r.Use(c.Lock.Check)
	c.RT().Bind(r)
	return r
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/calibrate", strings.NewReader(body)))
	return w
}

func TestCalibrateAndLast(t *testing.T) {
	c, _ := benchCalibrator()
	r := serve(c)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/last", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before any run, got %d", w.Code)
	}

	w = post(r, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	run := Run{}
	if err := json.NewDecoder(w.Body).Decode(&run); err != nil {
		t.Fatal(err)
	}
	if run.Result == nil || run.Result.Current != 55 || run.Result.Iterations != 3 {
		t.Errorf("expected to finish at 55 mA after 3 iterations, got %+v", run.Result)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/last", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"iterations":3`) {
		t.Errorf("expected last run to be served, got %d %s", w.Code, w.Body.String())
	}
}

func TestOverridesApply(t *testing.T) {
	c, bench := benchCalibrator()
	w := post(serve(c), `{"maxIterations": 2}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504 with only 2 iterations allowed, got %d %s", w.Code, w.Body.String())
	}
	if n := len(bench.Writes()); n != 3 {
		t.Errorf("expected probe plus 2 loop writes, got %d", n)
	}
	if c.Last() == nil || c.Last().Error == "" {
		t.Error("expected the failed run to be recorded")
	}
	if c.Base.MaxIterations != 10 {
		t.Errorf("expected base config untouched, got maxIterations=%d", c.Base.MaxIterations)
	}
}

func TestBadRequests(t *testing.T) {
	c, bench := benchCalibrator()
	r := serve(c)
	for _, body := range []string{`{"targetLow": 0.9}`, `{"channel": `} {
		if w := post(r, body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}
	if n := len(bench.Writes()); n != 0 {
		t.Errorf("expected no writes for rejected requests, got %d", n)
	}
}

func TestLockedIs423(t *testing.T) {
	c, bench := benchCalibrator()
	c.Lock.Lock()
	if w := post(serve(c), ""); w.Code != http.StatusLocked {
		t.Errorf("expected 423 through the middleware, got %d", w.Code)
	}
	// bypass the middleware
	w := httptest.NewRecorder()
	c.HTTPCalibrate(w, httptest.NewRequest(http.MethodPost, "/calibrate", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423 from the handler, got %d", w.Code)
	}
	if n := len(bench.Writes()); n != 0 {
		t.Errorf("expected no writes while locked, got %d", n)
	}
}

// gated blocks every exposure until released
type gated struct {
	started chan struct{}
	release chan struct{}
}

func (g *gated) AveragedExposure(time.Duration, int) (imgproc.Image, error) {
	g.started <- struct{}{}
	<-g.release
	return imgproc.Image{}, &comm.DeviceError{Op: "read frame", Err: errors.New("aborted")}
}

func (g *gated) SaturationLevel() float64 { return 30000 }

func TestConcurrentCalibrationIsRefused(t *testing.T) {
	g := &gated{started: make(chan struct{}), release: make(chan struct{})}
	bench := sim.NewBench(sim.DefaultConfig())
	c := newCalibrator(g, bench)

	done := make(chan int)
	go func() {
		w := httptest.NewRecorder()
		c.HTTPCalibrate(w, httptest.NewRequest(http.MethodPost, "/calibrate", nil))
		done <- w.Code
	}()
	<-g.started
	w := httptest.NewRecorder()
	c.HTTPCalibrate(w, httptest.NewRequest(http.MethodPost, "/calibrate", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423 for the second calibration, got %d", w.Code)
	}
	close(g.release)
	if code := <-done; code != http.StatusBadGateway {
		t.Errorf("expected 502 from the aborted exposure, got %d", code)
	}
	if c.Lock.Locked() {
		t.Error("expected the lock to be released")
	}
}

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{errors.Wrap(calib.ErrInvalidConfig, "x"), http.StatusBadRequest},
		{errors.Wrap(&source.CurrentLimitError{Channel: 1, Requested: 70, Max: 68.09}, "iteration 3"), http.StatusConflict},
		{&calib.TimeoutError{Iterations: 10}, http.StatusGatewayTimeout},
		{errors.Wrap(&gaussfit.ConvergenceError{Iterations: 200, Reason: "stalled"}, "fit center peak"), http.StatusUnprocessableEntity},
		{&imgproc.BoundsError{Rows: 10, Cols: 10}, http.StatusUnprocessableEntity},
		{&imgproc.ArgumentError{Op: "Locate", Reason: "empty image"}, http.StatusUnprocessableEntity},
		{errors.Wrap(&comm.DeviceError{Op: "set current", Err: errors.New("eof")}, "probe"), http.StatusBadGateway},
		{errors.New("mystery"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d", tc.code), func(t *testing.T) {
			if got := StatusCode(tc.err); got != tc.code {
				t.Errorf("StatusCode(%v) = %d, expected %d", tc.err, got, tc.code)
			}
		})
	}
}
