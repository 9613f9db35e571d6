package sim

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/hcifs/camera"
	"github.com/nasa-jpl/hcifs/source"
	"github.com/pkg/errors"
)

func TestRenderScalesWithCurrent(t *testing.T) {
	cfg := DefaultConfig()
	img := Render(cfg, 10)
	if v := img.At(64, 64); v != 20000 {
		t.Errorf("expected center peak 20000 at 10 mA, got %f", v)
	}
	if v := img.At(64, 88); v != 4000 {
		t.Errorf("expected secondary peak 4000 at 10 mA, got %f", v)
	}
}

func TestRenderClipsAtSaturation(t *testing.T) {
	cfg := DefaultConfig()
	img := Render(cfg, 60)
	if v := img.At(64, 64); v != cfg.Saturation {
		t.Errorf("expected center clipped to %f, got %f", cfg.Saturation, v)
	}
}

func TestSetCurrentLogsWritesOnLitChannel(t *testing.T) {
	b := NewBench(DefaultConfig())
	b.SetCurrent(10, 1)
	b.SetCurrent(5, 2)
	b.SetCurrent(40, 1)
	var cle *source.CurrentLimitError
	if err := b.SetCurrent(70, 1); !errors.As(err, &cle) {
		t.Errorf("expected CurrentLimitError, got %v", err)
	}
	if diff := cmp.Diff([]float64{10, 40}, b.Writes()); diff != "" {
		t.Errorf("write log mismatch (-want +got):\n%s", diff)
	}
	c, err := b.GetCurrent(2)
	if err != nil {
		t.Fatal(err)
	}
	if c != 5 {
		t.Errorf("expected channel 2 at 5 mA, got %f", c)
	}
}

func TestDisabledBenchIsDark(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Background = 12
	b := NewBench(cfg)
	b.SetCurrent(30, 1)
	b.Disable()
	b.StartExposure(time.Millisecond)
	img, err := b.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	lo, hi := img.MinMax()
	if lo != 12 || hi != 12 {
		t.Errorf("expected flat background of 12, got [%f, %f]", lo, hi)
	}
}

func TestReadyAfterPolls(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadyAfter = 2
	b := NewBench(cfg)
	if _, err := b.ImageReady(); err != ErrNoExposure {
		t.Errorf("expected ErrNoExposure, got %v", err)
	}
	b.StartExposure(time.Second)
	for i := 0; i < 2; i++ {
		if ready, _ := b.ImageReady(); ready {
			t.Fatalf("ready after only %d polls", i+1)
		}
	}
	if ready, _ := b.ImageReady(); !ready {
		t.Error("expected ready on the third poll")
	}
	if b.LastExposure() != time.Second {
		t.Errorf("expected exposure of 1s recorded, got %v", b.LastExposure())
	}
}

func TestBenchThroughAverager(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadyAfter = 1
	b := NewBench(cfg)
	b.Source().SetCurrent(20, 1)
	avg := camera.NewAverager(b.Camera(), cfg.Saturation)
	avg.PollInterval = time.Millisecond
	img, err := avg.AveragedExposure(100*time.Microsecond, 3)
	if err != nil {
		t.Fatal(err)
	}
	if v := img.At(64, 88); v != 8000 {
		t.Errorf("expected secondary peak 8000 at 20 mA, got %f", v)
	}
}
