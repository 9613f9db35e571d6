/*Package sim provides a simulated optical bench: a light source whose current
drives the brightness of Gaussian spots on a simulated detector.

A Bench is both a source.Capability and a camera.FrameGrabber, so it can be
substituted for real hardware anywhere in the server or the calibration loop.
*/
package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nasa-jpl/hcifs/camera"
	"github.com/nasa-jpl/hcifs/imgproc"
	"github.com/nasa-jpl/hcifs/source"
	"github.com/pkg/errors"
)

// ErrNoExposure is generated when a frame is polled or read with no exposure started
var ErrNoExposure = errors.New("sim: no exposure in progress")

// Blob is a Gaussian spot whose peak grows linearly with drive current
type Blob struct {
	Row   float64 `json:"row" yaml:"Row" koanf:"Row"`
	Col   float64 `json:"col" yaml:"Col" koanf:"Col"`
	Sigma float64 `json:"sigma" yaml:"Sigma" koanf:"Sigma"`

	// Gain is the peak height in counts per mA
	Gain float64 `json:"gain" yaml:"Gain" koanf:"Gain"`
}

// Config describes a Bench
type Config struct {
	Rows       int     `json:"rows" yaml:"Rows" koanf:"Rows"`
	Cols       int     `json:"cols" yaml:"Cols" koanf:"Cols"`
	Background float64 `json:"background" yaml:"Background" koanf:"Background"`
	Saturation float64 `json:"saturation" yaml:"Saturation" koanf:"Saturation"`
	Blobs      []Blob  `json:"blobs" yaml:"Blobs" koanf:"Blobs"`

	// Limits are the per-channel current ceilings, keyed by channel
	Limits source.Limits `json:"limits" yaml:"Limits" koanf:"Limits"`

	// Channel is the channel that illuminates the detector
	Channel int `json:"channel" yaml:"Channel" koanf:"Channel"`

	// ReadyAfter is the number of ImageReady polls before a frame is ready
	ReadyAfter int `json:"readyAfter" yaml:"ReadyAfter" koanf:"ReadyAfter"`
}

// DefaultConfig is a 128x128 detector with a bright center spot and a
// fainter secondary one, lit by channel 1 of an MCLS1-like source
func DefaultConfig() Config {
	return Config{
		Rows:       128,
		Cols:       128,
		Saturation: 30900,
		Blobs: []Blob{
			{Row: 64, Col: 64, Sigma: 2.5, Gain: 2000},
			{Row: 64, Col: 88, Sigma: 2.5, Gain: 400},
		},
		Limits:  source.Limits{1: 68.09, 2: 63.89, 3: 41.59, 4: 67.39},
		Channel: 1}
}

// Bench is a concurrent safe simulated source and detector
type Bench struct {
	sync.Mutex

	cfg      Config
	enabled  bool
	current  map[int]float64
	writes   []float64
	polls    int
	exposing bool
	exposure time.Duration
}

// NewBench returns a Bench.  The source starts enabled, with all channels at zero.
func NewBench(cfg Config) *Bench {
	return &Bench{cfg: cfg, enabled: true, current: make(map[int]float64)}
}

// Source returns the bench as a light source
func (b *Bench) Source() source.Capability {
	return b
}

// Camera returns the bench as a camera
func (b *Bench) Camera() camera.FrameGrabber {
	return b
}

// SaturationLevel is the level the detector clips at
func (b *Bench) SaturationLevel() float64 {
	return b.cfg.Saturation
}

// Config returns the configuration of the bench
func (b *Bench) Config() Config {
	return b.cfg
}

// Render draws the detector image for a given drive current.  Pixels are
// clipped to the saturation level when it is positive.
func Render(cfg Config, current float64) imgproc.Image {
	img := imgproc.New(cfg.Rows, cfg.Cols)
	for r := 0; r < cfg.Rows; r++ {
		for c := 0; c < cfg.Cols; c++ {
			v := cfg.Background
			for _, blob := range cfg.Blobs {
				dr := float64(r) - blob.Row
				dc := float64(c) - blob.Col
				s2 := 2 * blob.Sigma * blob.Sigma
				v += blob.Gain * current * math.Exp(-(dr*dr+dc*dc)/s2)
			}
			if cfg.Saturation > 0 && v > cfg.Saturation {
				v = cfg.Saturation
			}
			img.Set(r, c, v)
		}
	}
	return img
}

// MaxCurrent satisfies source.CurrentController
func (b *Bench) MaxCurrent(channel int) (float64, error) {
	return b.cfg.Limits.Max(channel)
}

// SetCurrent satisfies source.CurrentController
func (b *Bench) SetCurrent(value float64, channel int) error {
	if err := b.cfg.Limits.Check(value, channel); err != nil {
		return err
	}
	b.Lock()
	defer b.Unlock()
	b.current[channel] = value
	if channel == b.cfg.Channel {
		b.writes = append(b.writes, value)
	}
	return nil
}

// GetCurrent satisfies source.Capability
func (b *Bench) GetCurrent(channel int) (float64, error) {
	if _, err := b.cfg.Limits.Max(channel); err != nil {
		return 0, err
	}
	b.Lock()
	defer b.Unlock()
	return b.current[channel], nil
}

// Enable satisfies source.Capability
func (b *Bench) Enable() error {
	b.Lock()
	defer b.Unlock()
	b.enabled = true
	return nil
}

// Disable satisfies source.Capability
func (b *Bench) Disable() error {
	b.Lock()
	defer b.Unlock()
	b.enabled = false
	return nil
}

// Status satisfies source.Capability
func (b *Bench) Status() (string, error) {
	b.Lock()
	defer b.Unlock()
	return fmt.Sprintf("enabled=%t channel=%d current=%.2f", b.enabled, b.cfg.Channel, b.current[b.cfg.Channel]), nil
}

// Writes returns every current set on the illuminating channel, in order
func (b *Bench) Writes() []float64 {
	b.Lock()
	defer b.Unlock()
	return append([]float64(nil), b.writes...)
}

// StartExposure satisfies camera.FrameGrabber.  The exposure time is recorded
// but does not scale the image.
func (b *Bench) StartExposure(d time.Duration) error {
	b.Lock()
	defer b.Unlock()
	b.exposing = true
	b.exposure = d
	b.polls = 0
	return nil
}

// ImageReady satisfies camera.FrameGrabber
func (b *Bench) ImageReady() (bool, error) {
	b.Lock()
	defer b.Unlock()
	if !b.exposing {
		return false, ErrNoExposure
	}
	b.polls++
	return b.polls > b.cfg.ReadyAfter, nil
}

// ReadFrame satisfies camera.FrameGrabber
func (b *Bench) ReadFrame() (imgproc.Image, error) {
	b.Lock()
	defer b.Unlock()
	if !b.exposing {
		return imgproc.Image{}, ErrNoExposure
	}
	b.exposing = false
	current := 0.
	if b.enabled {
		current = b.current[b.cfg.Channel]
	}
	return Render(b.cfg, current), nil
}

// LastExposure returns the exposure time of the most recent exposure
func (b *Bench) LastExposure() time.Duration {
	b.Lock()
	defer b.Unlock()
	return b.exposure
}
