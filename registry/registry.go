/*Package registry maps device type names to constructors.

Names are matched case-insensitively.  The Default registry knows every
source and camera this module can drive; programs look devices up by the type
string in their configuration rather than discovering them at runtime.
*/
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nasa-jpl/hcifs/camera"
	"github.com/nasa-jpl/hcifs/sim"
	"github.com/nasa-jpl/hcifs/source"
	"github.com/nasa-jpl/hcifs/thorlabs"
	"github.com/pkg/errors"
)

const (
	// DefaultSaturation is used for cameras that do not report one and have none configured
	DefaultSaturation = 65535

	// DefaultHTTPTimeout bounds a single frame fetch from a camera server
	DefaultHTTPTimeout = 30 * time.Second
)

var (
	// ErrUnknownType is generated when a type name has no constructor
	ErrUnknownType = errors.New("unknown device type")

	// ErrNoMaxCurrent is generated when a source without factory limits has none configured
	ErrNoMaxCurrent = errors.New("source type requires a configured max current")
)

// SourceConfig describes a light source
type SourceConfig struct {
	Type   string `json:"type" yaml:"Type" koanf:"Type"`
	Addr   string `json:"addr" yaml:"Addr" koanf:"Addr"`
	Serial bool   `json:"serial" yaml:"Serial" koanf:"Serial"`

	// Echo is true if the device echoes commands back
	Echo bool `json:"echo" yaml:"Echo" koanf:"Echo"`

	// Pacing is the minimum time between commands, where supported
	Pacing time.Duration `json:"pacing" yaml:"Pacing" koanf:"Pacing"`

	// PID is the USB product ID for USBTMC sources
	PID uint16 `json:"pid" yaml:"PID" koanf:"PID"`

	// MaxCurrent overrides or supplies per-channel current ceilings, mA
	MaxCurrent source.Limits `json:"maxCurrent" yaml:"MaxCurrent" koanf:"MaxCurrent"`
}

// CameraConfig describes a camera
type CameraConfig struct {
	Type       string  `json:"type" yaml:"Type" koanf:"Type"`
	Addr       string  `json:"addr" yaml:"Addr" koanf:"Addr"`
	Saturation float64 `json:"saturation" yaml:"Saturation" koanf:"Saturation"`

	// Dark is the path to a FITS dark frame, subtracted from every exposure
	Dark string `json:"dark" yaml:"Dark" koanf:"Dark"`

	Timeout time.Duration `json:"timeout" yaml:"Timeout" koanf:"Timeout"`
}

// SourceCtor builds a source from its configuration
type SourceCtor func(SourceConfig) (source.Capability, error)

// CameraCtor builds a frame grabber from its configuration
type CameraCtor func(CameraConfig) (camera.FrameGrabber, error)

type saturater interface {
	SaturationLevel() float64
}

// Registry is a concurrent safe table of constructors
type Registry struct {
	sync.RWMutex

	sources map[string]SourceCtor
	cameras map[string]CameraCtor
}

// New returns an empty Registry
func New() *Registry {
	return &Registry{sources: make(map[string]SourceCtor), cameras: make(map[string]CameraCtor)}
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegisterSource adds or replaces a source constructor
func (r *Registry) RegisterSource(name string, ctor SourceCtor) {
	r.Lock()
	defer r.Unlock()
	r.sources[key(name)] = ctor
}

// RegisterCamera adds or replaces a camera constructor
func (r *Registry) RegisterCamera(name string, ctor CameraCtor) {
	r.Lock()
	defer r.Unlock()
	r.cameras[key(name)] = ctor
}

// Source constructs the source named by cfg.Type
func (r *Registry) Source(cfg SourceConfig) (source.Capability, error) {
	r.RLock()
	ctor, ok := r.sources[key(cfg.Type)]
	r.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "source %q", cfg.Type)
	}
	return ctor(cfg)
}

// Camera constructs the camera named by cfg.Type and wraps it in an
// Averager, loading the dark frame if one is configured
func (r *Registry) Camera(cfg CameraConfig) (*camera.Averager, error) {
	r.RLock()
	ctor, ok := r.cameras[key(cfg.Type)]
	r.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "camera %q", cfg.Type)
	}
	fg, err := ctor(cfg)
	if err != nil {
		return nil, err
	}
	sat := cfg.Saturation
	if sat <= 0 {
		if s, ok := interface{}(fg).(saturater); ok {
			sat = s.SaturationLevel()
		} else {
			sat = DefaultSaturation
		}
	}
	avg := camera.NewAverager(fg, sat)
	if cfg.Dark != "" {
		dark, err := camera.LoadDark(cfg.Dark)
		if err != nil {
			return nil, err
		}
		avg.Dark = &dark
	}
	return avg, nil
}

// SourceTypes lists the registered source type names
func (r *Registry) SourceTypes() []string {
	r.RLock()
	defer r.RUnlock()
	out := make([]string, 0, len(r.sources))
	for k := range r.sources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CameraTypes lists the registered camera type names
func (r *Registry) CameraTypes() []string {
	r.RLock()
	defer r.RUnlock()
	out := make([]string, 0, len(r.cameras))
	for k := range r.cameras {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Default returns a registry of every supported device, with the mock source
// and camera sharing one simulated bench
func Default() *Registry {
	return WithBench(sim.NewBench(sim.DefaultConfig()))
}

// WithBench is Default with the mock devices backed by b
func WithBench(b *sim.Bench) *Registry {
	r := New()
	r.RegisterSource("mcls1", newMCLS1)
	r.RegisterSource("itc4000", newITC4000)
	r.RegisterSource("mock", func(SourceConfig) (source.Capability, error) {
		return b.Source(), nil
	})
	r.RegisterCamera("http", newHTTPCamera)
	r.RegisterCamera("mock", func(CameraConfig) (camera.FrameGrabber, error) {
		return b.Camera(), nil
	})
	return r
}

func newMCLS1(cfg SourceConfig) (source.Capability, error) {
	m := thorlabs.NewMCLS1(cfg.Addr, cfg.Serial, thorlabs.MCLS1Limits.Merge(cfg.MaxCurrent))
	m.Echo = cfg.Echo
	if cfg.Pacing != 0 {
		m.SetPacing(cfg.Pacing)
	}
	return m, nil
}

func newITC4000(cfg SourceConfig) (source.Capability, error) {
	maxCurrent, ok := cfg.MaxCurrent[thorlabs.ITC4000Channel]
	if !ok {
		return nil, errors.Wrap(ErrNoMaxCurrent, "itc4000")
	}
	pid := cfg.PID
	if pid == 0 {
		pid = thorlabs.LDC4001PID
	}
	ldc, err := thorlabs.NewITC4000(pid, maxCurrent)
	if err != nil {
		return nil, err
	}
	return ldc, nil
}

func newHTTPCamera(cfg CameraConfig) (camera.FrameGrabber, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return camera.NewHTTPCamera(cfg.Addr, timeout), nil
}
