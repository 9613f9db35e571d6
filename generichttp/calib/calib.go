// Package calib exposes the source calibration routine over HTTP
package calib

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/hcifs/calib"
	"github.com/nasa-jpl/hcifs/camera"
	"github.com/nasa-jpl/hcifs/comm"
	"github.com/nasa-jpl/hcifs/gaussfit"
	"github.com/nasa-jpl/hcifs/generichttp"
	"github.com/nasa-jpl/hcifs/imgproc"
	"github.com/nasa-jpl/hcifs/server/middleware/locker"
	"github.com/nasa-jpl/hcifs/source"
)

// StatusCode maps an error from a calibration to an HTTP status code
func StatusCode(err error) int {
	var (
		cle *source.CurrentLimitError
		te  *calib.TimeoutError
		ce  *gaussfit.ConvergenceError
		be  *imgproc.BoundsError
		ae  *imgproc.ArgumentError
		de  *comm.DeviceError
	)
	switch {
	case errors.Cause(err) == calib.ErrInvalidConfig:
		return http.StatusBadRequest
	case errors.As(err, &cle):
		return http.StatusConflict
	case errors.As(err, &te):
		return http.StatusGatewayTimeout
	case errors.As(err, &ce), errors.As(err, &be), errors.As(err, &ae):
		return http.StatusUnprocessableEntity
	case errors.As(err, &de):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ErrBusy is generated when a calibration is requested while another is running
var ErrBusy = errors.New("a calibration is already in progress")

// Run is the record of one calibration
type Run struct {
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Config   calib.Config  `json:"config"`
	Result   *calib.Result `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Calibrator runs calibrations of one source imaged by one camera
type Calibrator struct {
	Src camera.ImageSource
	Ctl source.CurrentController

	// Base is the configuration requests override
	Base calib.Config

	// Lock serializes calibrations.  Sharing it with the routes of the source
	// and camera locks them out while a calibration runs.
	Lock *locker.Locker

	Log *logrus.Logger

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable

	mu   sync.Mutex
	last *Run
}

// NewCalibrator returns a Calibrator with its own lock and the standard logger.
// The read-only last and config routes stay reachable while the lock is held.
func NewCalibrator(src camera.ImageSource, ctl source.CurrentController, base calib.Config) *Calibrator {
	lock := locker.New()
	lock.DoNotProtect = append(lock.DoNotProtect, "last", "config")
	c := &Calibrator{Src: src, Ctl: ctl, Base: base, Lock: lock, Log: logrus.StandardLogger()}
	c.RouteTable = generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/calibrate"}: c.HTTPCalibrate,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/last"}:       c.HTTPLast,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/config"}:     c.HTTPConfig,
	}
	return c
}

// Last returns the most recent run, or nil if there has not been one
func (c *Calibrator) Last() *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Run calibrates with cfg and records the outcome as the last run.
// It returns ErrBusy without touching the bench if the lock is held.
func (c *Calibrator) Run(cfg calib.Config) (Run, error) {
	if !c.Lock.TryLock() {
		return Run{}, ErrBusy
	}
	defer c.Lock.Unlock()
	run := Run{Started: time.Now(), Config: cfg}
	res, err := calib.Calibrate(c.Src, c.Ctl, cfg)
	run.Duration = time.Since(run.Started)
	if err != nil {
		run.Error = err.Error()
	} else {
		run.Result = &res
	}
	c.mu.Lock()
	c.last = &run
	c.mu.Unlock()
	return run, err
}

// HTTPCalibrate runs a calibration on POST.  The body, if any, is JSON that
// overrides fields of the base configuration, e.g. {"channel": 2}.
// Durations are given in nanoseconds.
func (c *Calibrator) HTTPCalibrate(w http.ResponseWriter, r *http.Request) {
	cfg := c.Base
	err := json.NewDecoder(r.Body).Decode(&cfg)
	defer r.Body.Close()
	if err != nil && err != io.EOF {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = cfg.Validate(); err != nil {
		http.Error(w, err.Error(), StatusCode(err))
		return
	}
	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg.Log = log.WithField("request", middleware.GetReqID(r.Context()))

	run, err := c.Run(cfg)
	if err == ErrBusy {
		http.Error(w, err.Error(), http.StatusLocked)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), StatusCode(err))
		return
	}
	generichttp.RespondJSON(w, run)
}

// HTTPLast responds with the most recent run, or 404 if there has not been one
func (c *Calibrator) HTTPLast(w http.ResponseWriter, r *http.Request) {
	last := c.Last()
	if last == nil {
		http.Error(w, "no calibration has been run", http.StatusNotFound)
		return
	}
	generichttp.RespondJSON(w, last)
}

// HTTPConfig responds with the base configuration
func (c *Calibrator) HTTPConfig(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, c.Base)
}

// RT satisfies the generichttp.HTTPer interface
func (c *Calibrator) RT() generichttp.RouteTable {
	return c.RouteTable
}
