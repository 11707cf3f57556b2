package isr

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedStep is returned by Config.Validate for toggles that name a
// correction this package does not implement.
var ErrUnsupportedStep = errors.New("isr: unsupported step")

// Section is a half-open column range [X0, X1) spanning all rows.
type Section struct {
	X0 int `yaml:"x0"`
	X1 int `yaml:"x1"`
}

// Empty reports whether the section selects no columns.
func (s Section) Empty() bool { return s.X1 <= s.X0 }

// Width returns the number of columns in the section.
func (s Section) Width() int { return max(s.X1-s.X0, 0) }

// Detector holds the per-detector constants the steps need.
type Detector struct {
	// Gain in electrons per ADU. Default 1.
	Gain float64
	// ReadNoise in electrons. Default 0.
	ReadNoise float64
	// SaturationLevel in ADU; pixels at or above it are flagged SAT.
	// Zero disables detection.
	SaturationLevel float64
	// SuspectLevel in ADU; pixels at or above it are flagged SUSPECT.
	// Zero disables detection.
	SuspectLevel float64
	// Overscan columns used for the per-row level. Required by DoOverscan.
	Overscan Section
	// Data columns kept after trimming. Empty keeps the full width.
	Data Section
}

// Config selects the ISR steps. The zero value disables every step; use
// DefaultConfig for the standard master-frame check.
type Config struct {
	DoSaturation    bool // default true
	DoSuspect       bool // default true
	DoSetBadRegions bool // default true
	DoOverscan      bool // default true
	DoBias          bool // default true
	DoVariance      bool // default true
	DoDark          bool // default true
	DoFlat          bool // default true
	DoDefect        bool // default true

	// Not implemented; must stay false.
	DoLinearize               bool
	DoCrosstalk               bool
	DoWidenSaturationTrails   bool
	DoBrighterFatter          bool
	DoSaturationInterpolation bool
	DoStrayLight              bool
	DoApplyGains              bool
	DoFringe                  bool
	DoMeasureBackground       bool
	DoVignette                bool
	DoAttachTransmissionCurve bool

	Detector Detector
}

// DefaultConfig returns the configuration used to validate master frames.
func DefaultConfig() Config {
	return Config{
		DoSaturation:    true,
		DoSuspect:       true,
		DoSetBadRegions: true,
		DoOverscan:      true,
		DoBias:          true,
		DoVariance:      true,
		DoDark:          true,
		DoFlat:          true,
		DoDefect:        true,
		Detector: Detector{
			Gain: 1,
		},
	}
}

// Validate checks that only implemented steps are enabled and that the
// detector constants support them.
func (c Config) Validate() error {
	unsupported := []struct {
		name string
		on   bool
	}{
		{"doLinearize", c.DoLinearize},
		{"doCrosstalk", c.DoCrosstalk},
		{"doWidenSaturationTrails", c.DoWidenSaturationTrails},
		{"doBrighterFatter", c.DoBrighterFatter},
		{"doSaturationInterpolation", c.DoSaturationInterpolation},
		{"doStrayLight", c.DoStrayLight},
		{"doApplyGains", c.DoApplyGains},
		{"doFringe", c.DoFringe},
		{"doMeasureBackground", c.DoMeasureBackground},
		{"doVignette", c.DoVignette},
		{"doAttachTransmissionCurve", c.DoAttachTransmissionCurve},
	}
	for _, u := range unsupported {
		if u.on {
			return fmt.Errorf("%w: %s", ErrUnsupportedStep, u.name)
		}
	}

	d := c.Detector
	if c.DoVariance && (d.Gain <= 0 || math.IsNaN(d.Gain)) {
		return fmt.Errorf("isr: gain must be positive for the variance step, got %v", d.Gain)
	}
	if d.ReadNoise < 0 {
		return fmt.Errorf("isr: read noise must not be negative, got %v", d.ReadNoise)
	}
	if c.DoOverscan && d.Overscan.Empty() {
		return fmt.Errorf("isr: doOverscan needs a non-empty overscan section")
	}
	if d.Overscan.X0 < 0 || d.Data.X0 < 0 {
		return fmt.Errorf("isr: sections must not start at a negative column")
	}
	if !d.Overscan.Empty() && !d.Data.Empty() && d.Overscan.X0 < d.Data.X1 && d.Data.X0 < d.Overscan.X1 {
		return fmt.Errorf("isr: overscan [%d,%d) overlaps data [%d,%d)",
			d.Overscan.X0, d.Overscan.X1, d.Data.X0, d.Data.X1)
	}
	return nil
}

// Steps lists the enabled steps in execution order.
func (c Config) Steps() []string {
	var out []string
	add := func(on bool, name string) {
		if on {
			out = append(out, name)
		}
	}
	add(c.DoSaturation, "saturation")
	add(c.DoSuspect, "suspect")
	add(c.DoOverscan, "overscan")
	add(c.DoBias, "bias")
	add(c.DoVariance, "variance")
	add(c.DoDark, "dark")
	add(c.DoFlat, "flat")
	add(c.DoDefect, "defect")
	add(c.DoSetBadRegions, "setBadRegions")
	return out
}
