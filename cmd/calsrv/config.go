package main

import (
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/hcifs/calib"
	"github.com/nasa-jpl/hcifs/registry"
	"github.com/nasa-jpl/hcifs/sim"
)

// EnvPrefix prefixes environment variables which override the config file,
// e.g. CALSRV_CALIBRATION_CHANNEL=2
const EnvPrefix = "CALSRV_"

// Config is the configuration of calsrv
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Endpoint is the URL stem the bench is served under
	Endpoint string `yaml:"Endpoint" koanf:"Endpoint"`

	// Mock replaces the source and camera with a simulated bench
	Mock bool `yaml:"Mock" koanf:"Mock"`

	// Bench describes the simulated bench used when Mock is true
	Bench sim.Config `yaml:"Bench" koanf:"Bench"`

	Source      registry.SourceConfig `yaml:"Source" koanf:"Source"`
	Camera      registry.CameraConfig `yaml:"Camera" koanf:"Camera"`
	Calibration calib.Config          `yaml:"Calibration" koanf:"Calibration"`
}

// DefaultConfig is the configuration used when there is no config file
func DefaultConfig() Config {
	return Config{
		Addr:     ":8000",
		Endpoint: "bench",
		Bench:    sim.DefaultConfig(),
		Source: registry.SourceConfig{
			Type: "mcls1",
			Addr: "192.168.100.40:2001"},
		Camera: registry.CameraConfig{
			Type:       "http",
			Addr:       "http://localhost:8001/qsi",
			Saturation: 30900,
			Timeout:    registry.DefaultHTTPTimeout},
		Calibration: calib.DefaultConfig()}
}

// envKey maps CALSRV_CALIBRATION_TARGETLOW to the existing key
// Calibration.TargetLow, since koanf keys are case sensitive
func envKey(k *koanf.Koanf) func(string) string {
	return func(s string) string {
		key := strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
		for _, existing := range k.Keys() {
			if strings.ToLower(existing) == key {
				return existing
			}
		}
		return key
	}
}

// LoadConfig layers the defaults, the config file at path, and the
// environment.  A missing file is not an error.
func LoadConfig(path string) (*koanf.Koanf, Config, error) {
	k := koanf.New(".")
	c := Config{}
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return k, c, errors.Wrap(err, "loading defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return k, c, errors.Wrapf(err, "loading %s", path)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey(k)), nil); err != nil {
		return k, c, errors.Wrap(err, "loading environment")
	}
	err := k.Unmarshal("", &c)
	return k, c, err
}

// WriteConfig encodes c as YAML to w
func WriteConfig(w io.Writer, c Config) error {
	return yml.NewEncoder(w).Encode(c)
}
