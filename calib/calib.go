/*Package calib drives a light source until the secondary peak of its image on
a camera sits inside a band just below detector saturation, with the central
peak deliberately driven into saturation.

The routine is:

	1.  probe: set a low current and take an averaged image
	2.  locate and fit the brightest (center) peak
	3.  mask the center window, locate and fit the secondary peak
	4.  step the current up or down until the pixel under the secondary peak
	    reads within [TargetLow, TargetHigh] of saturation
	5.  extrapolate the (saturated) center intensity from the fitted amplitude ratio

Calibrate does not lock; callers must not run two calibrations on the same
source and camera at once.
*/
package calib

import (
	"fmt"
	"math"
	"time"

	"github.com/nasa-jpl/hcifs/camera"
	"github.com/nasa-jpl/hcifs/gaussfit"
	"github.com/nasa-jpl/hcifs/imgproc"
	"github.com/nasa-jpl/hcifs/source"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrInvalidConfig is generated when a Config fails validation
var ErrInvalidConfig = errors.New("invalid calibration config")

// Config holds the parameters of a calibration
type Config struct {
	// Channel is the source channel to calibrate
	Channel int `json:"channel" yaml:"Channel" koanf:"Channel"`

	// HalfWidth is half the side length of the fitting windows, px
	HalfWidth int `json:"halfWidth" yaml:"HalfWidth" koanf:"HalfWidth"`

	// TargetLow and TargetHigh bound the secondary intensity as a fraction of saturation
	TargetLow  float64 `json:"targetLow" yaml:"TargetLow" koanf:"TargetLow"`
	TargetHigh float64 `json:"targetHigh" yaml:"TargetHigh" koanf:"TargetHigh"`

	// MaxIterations bounds the number of current adjustments
	MaxIterations int `json:"maxIterations" yaml:"MaxIterations" koanf:"MaxIterations"`

	// ProbeCurrent is the current used for the peak-finding image
	ProbeCurrent float64 `json:"probeCurrent" yaml:"ProbeCurrent" koanf:"ProbeCurrent"`

	// StartCurrent is the current the first adjustment is made from.  The first
	// adjustment is always StepUp; the probe reading does not steer it.
	StartCurrent float64 `json:"startCurrent" yaml:"StartCurrent" koanf:"StartCurrent"`

	// StepUp and StepDown are the current increments below and above the band
	StepUp   float64 `json:"stepUp" yaml:"StepUp" koanf:"StepUp"`
	StepDown float64 `json:"stepDown" yaml:"StepDown" koanf:"StepDown"`

	ProbeExposure time.Duration `json:"probeExposure" yaml:"ProbeExposure" koanf:"ProbeExposure"`
	ProbeFrames   int           `json:"probeFrames" yaml:"ProbeFrames" koanf:"ProbeFrames"`
	LoopExposure  time.Duration `json:"loopExposure" yaml:"LoopExposure" koanf:"LoopExposure"`
	LoopFrames    int           `json:"loopFrames" yaml:"LoopFrames" koanf:"LoopFrames"`

	// Fitter is used for both peak fits
	Fitter gaussfit.Fitter `json:"fitter" yaml:"Fitter" koanf:"Fitter"`

	// Log receives progress.  The standard logger is used if nil.
	Log *logrus.Entry `json:"-" yaml:"-" koanf:"-"`
}

// DefaultConfig returns the configuration used on the testbed for channel 1
func DefaultConfig() Config {
	return Config{
		Channel:       1,
		HalfWidth:     10,
		TargetLow:     0.70,
		TargetHigh:    0.80,
		MaxIterations: 10,
		ProbeCurrent:  10,
		StartCurrent:  40,
		StepUp:        5,
		StepDown:      2,
		ProbeExposure: 100 * time.Millisecond,
		ProbeFrames:   3,
		LoopExposure:  100 * time.Microsecond,
		LoopFrames:    3,
		Fitter:        gaussfit.DefaultFitter()}
}

// Validate checks that the config describes a calibration that can run
func (c Config) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return errors.Wrapf(ErrInvalidConfig, format, args...)
	}
	switch {
	case c.TargetLow <= 0 || c.TargetLow > 1:
		return fail("targetLow %g not in (0, 1]", c.TargetLow)
	case c.TargetHigh <= 0 || c.TargetHigh > 1:
		return fail("targetHigh %g not in (0, 1]", c.TargetHigh)
	case c.TargetLow >= c.TargetHigh:
		return fail("targetLow %g >= targetHigh %g", c.TargetLow, c.TargetHigh)
	case c.HalfWidth < 1:
		return fail("halfWidth %d < 1", c.HalfWidth)
	case c.MaxIterations < 1:
		return fail("maxIterations %d < 1", c.MaxIterations)
	case c.StepUp <= 0 || c.StepDown <= 0:
		return fail("steps must be > 0, got up=%g down=%g", c.StepUp, c.StepDown)
	case c.ProbeCurrent < 0 || c.StartCurrent < 0:
		return fail("currents must be >= 0, got probe=%g start=%g", c.ProbeCurrent, c.StartCurrent)
	case c.ProbeFrames < 1 || c.LoopFrames < 1:
		return fail("frame counts must be >= 1, got probe=%d loop=%d", c.ProbeFrames, c.LoopFrames)
	case c.ProbeExposure < 0 || c.LoopExposure < 0:
		return fail("exposures must be >= 0")
	}
	return nil
}

func (c Config) logger() *logrus.Entry {
	if c.Log != nil {
		return c.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// State is the mutable bookkeeping of one calibration
type State struct {
	Current    float64
	Channel    int
	MaxCurrent float64
	Iteration  int
}

// Peak is a location and intensity in full-image coordinates
type Peak struct {
	Row       float64 `json:"row"`
	Col       float64 `json:"col"`
	Intensity float64 `json:"intensity"`
}

// Result is the outcome of a successful calibration
type Result struct {
	Center    Peak `json:"center"`
	Secondary Peak `json:"secondary"`

	// Current is the final current applied to the channel
	Current float64 `json:"current"`

	// Iterations is the number of adjustments made
	Iterations int `json:"iterations"`

	CenterFit    gaussfit.PeakFit `json:"centerFit"`
	SecondaryFit gaussfit.PeakFit `json:"secondaryFit"`
}

// TimeoutError is generated when the secondary peak does not enter the target
// band within the iteration bound
type TimeoutError struct {
	Iterations   int
	LastFraction float64
	Current      float64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("calib: secondary peak at %.3f of saturation after %d iterations (current %.2f), never entered target band",
		e.LastFraction, e.Iterations, e.Current)
}

// apply moves the source to next.  Proposals above the channel maximum fail
// without a write; negative proposals are clamped to zero.
func (s *State) apply(ctl source.CurrentController, next float64) error {
	if next > s.MaxCurrent {
		return &source.CurrentLimitError{Channel: s.Channel, Requested: next, Max: s.MaxCurrent}
	}
	if next < 0 {
		next = 0
	}
	err := ctl.SetCurrent(next, s.Channel)
	if err != nil {
		return err
	}
	s.Current = next
	return nil
}

// fitPeak windows img around p and fits it, returning full-image coordinates
func fitPeak(img imgproc.Image, p imgproc.Point, cfg Config) (imgproc.Window, gaussfit.PeakFit, error) {
	w, err := imgproc.ExtractWindow(img, p, cfg.HalfWidth)
	if err != nil {
		return w, gaussfit.PeakFit{}, err
	}
	fit, err := cfg.Fitter.Fit(w)
	if err != nil {
		return w, gaussfit.PeakFit{}, err
	}
	return w, fit.Translate(w.Offset), nil
}

// Calibrate runs the calibration of cfg.Channel of ctl, imaged by src
func Calibrate(src camera.ImageSource, ctl source.CurrentController, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	log := cfg.logger().WithField("channel", cfg.Channel)
	sat := src.SaturationLevel()
	if !(sat > 0) {
		return Result{}, &imgproc.ArgumentError{Op: "Calibrate", Reason: fmt.Sprintf("saturation level %g must be > 0", sat)}
	}
	maxCurrent, err := ctl.MaxCurrent(cfg.Channel)
	if err != nil {
		return Result{}, errors.Wrap(err, "query max current")
	}
	st := State{Channel: cfg.Channel, MaxCurrent: maxCurrent}

	// probe
	log.WithField("current", cfg.ProbeCurrent).Info("probing")
	if err = st.apply(ctl, cfg.ProbeCurrent); err != nil {
		return Result{}, errors.Wrap(err, "set probe current")
	}
	img, err := src.AveragedExposure(cfg.ProbeExposure, cfg.ProbeFrames)
	if err != nil {
		return Result{}, errors.Wrap(err, "acquire probe image")
	}

	// center
	p, err := imgproc.Locate(img, nil)
	if err != nil {
		return Result{}, errors.Wrap(err, "locate center peak")
	}
	cw, centerFit, err := fitPeak(img, p, cfg)
	if err != nil {
		return Result{}, errors.Wrap(err, "fit center peak")
	}
	log.WithFields(logrus.Fields{
		"row": centerFit.Row, "col": centerFit.Col, "amplitude": centerFit.Amplitude,
	}).Debug("center peak")

	// secondary, located and fit on a copy with the center window zeroed so
	// a near secondary window cannot pull the fit onto the center peak
	masked := imgproc.Mask(img, cw.Region())
	p, err = imgproc.Locate(masked, nil)
	if err != nil {
		return Result{}, errors.Wrap(err, "locate secondary peak")
	}
	_, secondaryFit, err := fitPeak(masked, p, cfg)
	if err != nil {
		return Result{}, errors.Wrap(err, "fit secondary peak")
	}
	log.WithFields(logrus.Fields{
		"row": secondaryFit.Row, "col": secondaryFit.Col, "amplitude": secondaryFit.Amplitude,
	}).Debug("secondary peak")

	at := imgproc.Point{Row: int(math.Round(secondaryFit.Row)), Col: int(math.Round(secondaryFit.Col))}
	if !img.Bounds().Contains(at) {
		return Result{}, errors.Wrap(&imgproc.BoundsError{
			Window: imgproc.Region{Top: at.Row, Left: at.Col, Height: 1, Width: 1},
			Rows:   img.Rows, Cols: img.Cols}, "read secondary peak")
	}

	// feedback.  The probe image only places the peaks; the loop starts from
	// StartCurrent as if nothing were measured, so its first move is always up.
	var measured float64
	next := cfg.StartCurrent
	for {
		frac := measured / sat
		switch {
		case frac < cfg.TargetLow:
			next += cfg.StepUp
		case frac > cfg.TargetHigh:
			next -= cfg.StepDown
		}
		if err = st.apply(ctl, next); err != nil {
			return Result{}, errors.Wrapf(err, "iteration %d", st.Iteration+1)
		}
		next = st.Current
		img, err = src.AveragedExposure(cfg.LoopExposure, cfg.LoopFrames)
		if err != nil {
			return Result{}, errors.Wrapf(err, "acquire image on iteration %d", st.Iteration+1)
		}
		st.Iteration++
		measured = img.At(at.Row, at.Col)
		frac = measured / sat
		log.WithFields(logrus.Fields{
			"iteration": st.Iteration, "current": st.Current, "fraction": frac,
		}).Info("adjusted current")
		if frac >= cfg.TargetLow && frac <= cfg.TargetHigh {
			break
		}
		if st.Iteration == cfg.MaxIterations {
			return Result{}, &TimeoutError{Iterations: st.Iteration, LastFraction: frac, Current: st.Current}
		}
	}

	res := Result{
		Center: Peak{
			Row:       centerFit.Row,
			Col:       centerFit.Col,
			Intensity: measured * centerFit.Amplitude / secondaryFit.Amplitude},
		Secondary: Peak{
			Row:       secondaryFit.Row,
			Col:       secondaryFit.Col,
			Intensity: measured},
		Current:      st.Current,
		Iterations:   st.Iteration,
		CenterFit:    centerFit,
		SecondaryFit: secondaryFit}
	log.WithFields(logrus.Fields{
		"current": res.Current, "iterations": res.Iterations, "secondary": measured, "center": res.Center.Intensity,
	}).Info("calibration complete")
	return res, nil
}
