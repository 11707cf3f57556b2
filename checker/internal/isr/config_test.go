package isr

import (
	"errors"
	"reflect"
	"testing"
)

// testDetector has a 4-column data section followed by 2 overscan columns.
func testDetector() Detector {
	return Detector{
		Gain:            2,
		ReadNoise:       4,
		SaturationLevel: 60000,
		SuspectLevel:    50000,
		Overscan:        Section{X0: 4, X1: 6},
		Data:            Section{X0: 0, X1: 4},
	}
}

func TestDefaultConfig_Steps(t *testing.T) {
	got := DefaultConfig().Steps()
	want := []string{"saturation", "suspect", "overscan", "bias", "variance", "dark", "flat", "defect", "setBadRegions"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Steps() = %v, want %v", got, want)
	}
}

func TestDefaultConfig_NeedsOverscanSection(t *testing.T) {
	if err := DefaultConfig().Validate(); err == nil {
		t.Fatal("DefaultConfig without an overscan section should not validate")
	}
	cfg := DefaultConfig()
	cfg.Detector = testDetector()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConfig_UnsupportedSteps(t *testing.T) {
	tests := []struct {
		name string
		set  func(*Config)
	}{
		{"linearize", func(c *Config) { c.DoLinearize = true }},
		{"crosstalk", func(c *Config) { c.DoCrosstalk = true }},
		{"brighterFatter", func(c *Config) { c.DoBrighterFatter = true }},
		{"fringe", func(c *Config) { c.DoFringe = true }},
		{"applyGains", func(c *Config) { c.DoApplyGains = true }},
		{"transmission", func(c *Config) { c.DoAttachTransmissionCurve = true }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Detector = testDetector()
			tc.set(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrUnsupportedStep) {
				t.Fatalf("Validate = %v, want ErrUnsupportedStep", err)
			}
		})
	}
}

func TestConfig_InvalidDetector(t *testing.T) {
	tests := []struct {
		name string
		set  func(*Detector)
	}{
		{"zero gain", func(d *Detector) { d.Gain = 0 }},
		{"negative read noise", func(d *Detector) { d.ReadNoise = -1 }},
		{"overlap", func(d *Detector) { d.Overscan = Section{X0: 3, X1: 6} }},
		{"negative start", func(d *Detector) { d.Data = Section{X0: -1, X1: 4} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Detector = testDetector()
			tc.set(&cfg.Detector)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestNewTask_CopiesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector = testDetector()
	task, err := NewTask(cfg)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	cfg.DoFlat = false
	cfg.Detector.Gain = 99
	if !task.Config().DoFlat || task.Config().Detector.Gain != 2 {
		t.Error("Task configuration changed after the caller mutated its copy")
	}
}
