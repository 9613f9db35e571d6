package camera

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/nasa-jpl/hcifs/comm"
	"github.com/nasa-jpl/hcifs/imgproc"
	"github.com/pkg/errors"
)

const (
	// DefaultPollInterval is the first wait between readiness checks
	DefaultPollInterval = 5 * time.Millisecond

	// DefaultReadoutTimeout is how long past the exposure time a frame may
	// take to become ready
	DefaultReadoutTimeout = 10 * time.Second
)

var (
	// ErrExposureTimeout is generated when a frame does not become ready in time
	ErrExposureTimeout = errors.New("exposure did not complete in time")

	// ErrDarkShape is generated when the dark frame does not match the camera frames
	ErrDarkShape = errors.New("dark frame does not have the same dimensions as the exposure")

	errNotReady = errors.New("image not ready")
)

// Averager turns a FrameGrabber into an ImageSource.
//
// Each exposure is waited for by polling ImageReady with exponential backoff,
// bounded by the exposure time plus ReadoutTimeout.  When Dark is set it is
// subtracted from the mean and negative results are clamped to zero.
//
// Averager is not concurrent safe.
type Averager struct {
	// Cam is the underlying camera
	Cam FrameGrabber

	// Saturation is the detector's saturation level
	Saturation float64

	// Dark is an optional dark frame
	Dark *imgproc.Image

	// PollInterval is the initial readiness polling interval
	PollInterval time.Duration

	// ReadoutTimeout bounds the wait past the exposure time
	ReadoutTimeout time.Duration
}

// NewAverager returns an Averager with default polling
func NewAverager(cam FrameGrabber, saturation float64) *Averager {
	return &Averager{
		Cam:            cam,
		Saturation:     saturation,
		PollInterval:   DefaultPollInterval,
		ReadoutTimeout: DefaultReadoutTimeout}
}

// SaturationLevel satisfies ImageSource
func (a *Averager) SaturationLevel() float64 {
	return a.Saturation
}

// Expose takes a single frame and waits for it
func (a *Averager) Expose(exposure time.Duration) (imgproc.Image, error) {
	err := a.Cam.StartExposure(exposure)
	if err != nil {
		return imgproc.Image{}, &comm.DeviceError{Op: "start exposure", Err: err}
	}
	err = a.waitReady(exposure)
	if err != nil {
		return imgproc.Image{}, err
	}
	img, err := a.Cam.ReadFrame()
	if err != nil {
		return imgproc.Image{}, &comm.DeviceError{Op: "read frame", Err: err}
	}
	return img, nil
}

func (a *Averager) waitReady(exposure time.Duration) error {
	interval := a.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := a.ReadoutTimeout
	if timeout <= 0 {
		timeout = DefaultReadoutTimeout
	}
	var devErr error
	op := func() error {
		ready, err := a.Cam.ImageReady()
		if err != nil {
			// stop retrying, the device is in trouble
			devErr = err
			return nil
		}
		if !ready {
			return errNotReady
		}
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     interval,
		RandomizationFactor: 0.,
		Multiplier:          1.5,
		MaxInterval:         250 * time.Millisecond,
		MaxElapsedTime:      exposure + timeout,
		Clock:               backoff.SystemClock})
	if devErr != nil {
		return &comm.DeviceError{Op: "poll exposure", Err: devErr}
	}
	if err != nil {
		return &comm.DeviceError{Op: "poll exposure", Err: errors.Wrapf(ErrExposureTimeout, "waited %v", exposure+timeout)}
	}
	return nil
}

// AveragedExposure satisfies ImageSource
func (a *Averager) AveragedExposure(exposure time.Duration, frames int) (imgproc.Image, error) {
	if frames < 1 {
		return imgproc.Image{}, &imgproc.ArgumentError{Op: "AveragedExposure", Reason: fmt.Sprintf("frame count %d < 1", frames)}
	}
	var sum imgproc.Image
	for i := 0; i < frames; i++ {
		img, err := a.Expose(exposure)
		if err != nil {
			return imgproc.Image{}, err
		}
		if i == 0 {
			sum = img.Clone()
			continue
		}
		if !img.SameShape(sum) {
			return imgproc.Image{}, &comm.DeviceError{Op: "average frames", Err: fmt.Errorf("frame %d is %dx%d, expected %dx%d", i, img.Rows, img.Cols, sum.Rows, sum.Cols)}
		}
		for j, v := range img.Pix {
			sum.Pix[j] += v
		}
	}
	n := float64(frames)
	for j := range sum.Pix {
		sum.Pix[j] /= n
	}
	if a.Dark != nil {
		if !a.Dark.SameShape(sum) {
			return imgproc.Image{}, errors.Wrapf(ErrDarkShape, "dark %dx%d, exposure %dx%d", a.Dark.Rows, a.Dark.Cols, sum.Rows, sum.Cols)
		}
		for j := range sum.Pix {
			v := sum.Pix[j] - a.Dark.Pix[j]
			if v < 0 {
				v = 0
			}
			sum.Pix[j] = v
		}
	}
	return sum, nil
}

// TakeDark acquires an averaged frame with no dark correction and stores it
// as the dark frame.  The light path must already be blocked.  On failure the
// previous dark frame is kept.
func (a *Averager) TakeDark(exposure time.Duration, frames int) (imgproc.Image, error) {
	prev := a.Dark
	a.Dark = nil
	dark, err := a.AveragedExposure(exposure, frames)
	if err != nil {
		a.Dark = prev
		return imgproc.Image{}, err
	}
	a.Dark = &dark
	return dark, nil
}
