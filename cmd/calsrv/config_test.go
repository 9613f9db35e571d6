package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	_, c, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatal(err)
	}
	exp := DefaultConfig()
	if c.Addr != exp.Addr || c.Source.Type != "mcls1" || c.Calibration.TargetLow != 0.7 {
		t.Errorf("expected defaults, got %+v", c)
	}
	if c.Calibration.LoopExposure != 100*time.Microsecond {
		t.Errorf("expected default loop exposure of 100us, got %v", c.Calibration.LoopExposure)
	}
	if diff := cmp.Diff(exp.Bench.Blobs, c.Bench.Blobs); diff != "" {
		t.Errorf("bench blobs mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calsrv.yml")
	yml := []byte(`Mock: true
Calibration:
  Channel: 2
  StepDown: 1.5
Source:
  MaxCurrent:
    1: 50
`)
	if err := os.WriteFile(path, yml, 0644); err != nil {
		t.Fatal(err)
	}
	_, c, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Mock || c.Calibration.Channel != 2 || c.Calibration.StepDown != 1.5 {
		t.Errorf("expected file overrides to apply, got mock=%t channel=%d stepDown=%f",
			c.Mock, c.Calibration.Channel, c.Calibration.StepDown)
	}
	if c.Calibration.StepUp != 5 {
		t.Errorf("expected unset keys to keep their defaults, got stepUp=%f", c.Calibration.StepUp)
	}
	if c.Source.MaxCurrent[1] != 50 {
		t.Errorf("expected a max current override of 50 on channel 1, got %v", c.Source.MaxCurrent)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("CALSRV_CALIBRATION_TARGETHIGH", "0.85")
	t.Setenv("CALSRV_CALIBRATION_LOOPEXPOSURE", "1ms")
	t.Setenv("CALSRV_ADDR", ":9000")
	_, c, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Calibration.TargetHigh != 0.85 {
		t.Errorf("expected targetHigh of 0.85 from the environment, got %f", c.Calibration.TargetHigh)
	}
	if c.Calibration.LoopExposure != time.Millisecond {
		t.Errorf("expected loop exposure of 1ms from the environment, got %v", c.Calibration.LoopExposure)
	}
	if c.Addr != ":9000" {
		t.Errorf("expected addr of :9000 from the environment, got %s", c.Addr)
	}
}

func TestWriteConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calsrv.yml")
	c := DefaultConfig()
	c.Endpoint = "omc/mcls1"
	c.Calibration.MaxIterations = 7
	buf := &bytes.Buffer{}
	if err := WriteConfig(buf, c); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	_, got, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Endpoint != "omc/mcls1" || got.Calibration.MaxIterations != 7 {
		t.Errorf("expected written values back, got endpoint=%s maxIterations=%d", got.Endpoint, got.Calibration.MaxIterations)
	}
	if got.Calibration.ProbeExposure != c.Calibration.ProbeExposure {
		t.Errorf("expected probe exposure %v, got %v", c.Calibration.ProbeExposure, got.Calibration.ProbeExposure)
	}
}
