package isr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/calibcheck/calibcheck/checker/internal/butler"
	"github.com/calibcheck/calibcheck/checker/internal/stats"
	"github.com/calibcheck/calibcheck/pkg/types"
)

// Errors returned by Task.Run.
var (
	ErrMissingCalibration = errors.New("isr: missing calibration")
	ErrShapeMismatch      = errors.New("isr: shape mismatch")
)

// Inputs holds the raw frame and the calibration products for one run.
type Inputs struct {
	Raw *types.Exposure

	Bias *types.Image
	Dark *types.Image
	Flat *types.Image

	// DarkTime is the exposure time the master dark corresponds to.
	// Zero means the dark is per second.
	DarkTime float64

	Defects []types.Box
}

// Source is the data access a Task needs to assemble its Inputs.
type Source interface {
	GetExposure(ctx context.Context, datasetType string, id butler.DataID) (*types.Exposure, error)
	GetImage(ctx context.Context, datasetType string, id butler.DataID) (*types.Image, float64, error)
	GetDefects(ctx context.Context, id butler.DataID) ([]types.Box, error)
}

// Task runs ISR with a fixed Config.
type Task struct {
	cfg Config
}

// NewTask validates cfg and returns a Task holding a copy of it.
func NewTask(cfg Config) (*Task, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Task{cfg: cfg}, nil
}

// Config returns a copy of the task configuration.
func (t *Task) Config() Config { return t.cfg }

// ReadInputs fetches the raw frame for id and every calibration product the
// enabled steps require. A missing dataset is a fatal setup error.
func (t *Task) ReadInputs(ctx context.Context, src Source, id butler.DataID) (Inputs, error) {
	var in Inputs
	var err error

	if in.Raw, err = src.GetExposure(ctx, butler.DatasetRaw, id); err != nil {
		return in, fmt.Errorf("isr: raw: %w", err)
	}
	if t.cfg.DoBias {
		if in.Bias, _, err = src.GetImage(ctx, butler.DatasetBias, id); err != nil {
			return in, fmt.Errorf("isr: bias: %w", err)
		}
	}
	if t.cfg.DoDark {
		if in.Dark, in.DarkTime, err = src.GetImage(ctx, butler.DatasetDark, id); err != nil {
			return in, fmt.Errorf("isr: dark: %w", err)
		}
	}
	if t.cfg.DoFlat {
		if in.Flat, _, err = src.GetImage(ctx, butler.DatasetFlat, id); err != nil {
			return in, fmt.Errorf("isr: flat: %w", err)
		}
	}
	if t.cfg.DoDefect {
		if in.Defects, err = src.GetDefects(ctx, id); err != nil {
			return in, fmt.Errorf("isr: defects: %w", err)
		}
	}
	return in, nil
}

// RunDataRef reads the inputs for id from src and runs ISR on them.
func (t *Task) RunDataRef(ctx context.Context, src Source, id butler.DataID) (*types.Exposure, error) {
	in, err := t.ReadInputs(ctx, src, id)
	if err != nil {
		return nil, err
	}
	return t.Run(ctx, in)
}

// Run applies the enabled steps to in.Raw and returns the calibrated exposure.
func (t *Task) Run(ctx context.Context, in Inputs) (*types.Exposure, error) {
	if in.Raw == nil || in.Raw.Image == nil {
		return nil, fmt.Errorf("%w: raw frame", ErrMissingCalibration)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := t.cfg
	d := cfg.Detector
	exp := &types.Exposure{
		Image: in.Raw.Image.Clone(),
		Mask:  types.NewMask(in.Raw.Width(), in.Raw.Height()),
		Meta:  in.Raw.Meta,
	}
	if in.Raw.Mask != nil {
		copy(exp.Mask.Pix, in.Raw.Mask.Pix)
	}

	if cfg.DoSaturation && d.SaturationLevel > 0 {
		n := flagAbove(exp, d.SaturationLevel, types.MaskSat)
		slog.Debug("isr: saturation", "pixels", n)
	}
	if cfg.DoSuspect && d.SuspectLevel > 0 {
		n := flagAbove(exp, d.SuspectLevel, types.MaskSuspect)
		slog.Debug("isr: suspect", "pixels", n)
	}
	if cfg.DoOverscan {
		if err := subtractOverscan(exp, d.Overscan); err != nil {
			return nil, err
		}
	}
	if !d.Data.Empty() {
		if err := trim(exp, d.Data); err != nil {
			return nil, err
		}
	}
	exp.Variance = types.NewImage(exp.Width(), exp.Height())

	if cfg.DoBias {
		if err := requireFrame("bias", in.Bias, exp); err != nil {
			return nil, err
		}
		for i, b := range in.Bias.Pix {
			exp.Image.Pix[i] -= b
		}
	}
	if cfg.DoVariance {
		rn := d.ReadNoise / d.Gain
		for i, v := range exp.Image.Pix {
			exp.Variance.Pix[i] = math.Max(v, 0)/d.Gain + rn*rn
		}
	}
	if cfg.DoDark {
		if err := requireFrame("dark", in.Dark, exp); err != nil {
			return nil, err
		}
		scale := darkScale(exp.Meta.ExpTime, in.DarkTime)
		if scale == 0 {
			slog.Warn("isr: raw frame has no exposure time, dark has no effect",
				"detector", exp.Meta.Detector, "exposure", exp.Meta.Exposure)
		}
		for i, v := range in.Dark.Pix {
			exp.Image.Pix[i] -= v * scale
		}
	}
	if cfg.DoFlat {
		if err := requireFrame("flat", in.Flat, exp); err != nil {
			return nil, err
		}
		applyFlat(exp, in.Flat)
	}
	if cfg.DoDefect {
		for _, b := range in.Defects {
			x0, y0, x1, y1, ok := b.Clip(exp.Width(), exp.Height())
			if !ok {
				continue
			}
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					exp.Mask.Or(x, y, types.MaskBad)
				}
			}
		}
	}
	if cfg.DoSetBadRegions {
		setBadRegions(exp)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return exp, nil
}

func requireFrame(name string, frame *types.Image, exp *types.Exposure) error {
	if frame == nil {
		return fmt.Errorf("%w: %s", ErrMissingCalibration, name)
	}
	if frame.Width != exp.Width() || frame.Height != exp.Height() {
		return fmt.Errorf("%w: %s is %dx%d, exposure is %dx%d",
			ErrShapeMismatch, name, frame.Width, frame.Height, exp.Width(), exp.Height())
	}
	return nil
}

func flagAbove(exp *types.Exposure, level float64, bit types.MaskPixel) int {
	var n int
	for i, v := range exp.Image.Pix {
		if v >= level {
			exp.Mask.Pix[i] |= bit
			n++
		}
	}
	return n
}

// subtractOverscan removes the per-row median of the overscan columns.
func subtractOverscan(exp *types.Exposure, sec Section) error {
	if sec.Empty() || sec.X1 > exp.Width() {
		return fmt.Errorf("%w: overscan [%d,%d) outside %d columns",
			ErrShapeMismatch, sec.X0, sec.X1, exp.Width())
	}
	w := exp.Width()
	buf := make([]float64, 0, sec.Width())
	for y := 0; y < exp.Height(); y++ {
		buf = buf[:0]
		for x := sec.X0; x < sec.X1; x++ {
			v := exp.Image.Pix[y*w+x]
			if !math.IsNaN(v) && exp.Mask.Pix[y*w+x]&types.MaskSat == 0 {
				buf = append(buf, v)
			}
		}
		level := stats.MedianOf(buf)
		if math.IsNaN(level) {
			level = 0
		}
		for x := 0; x < w; x++ {
			exp.Image.Pix[y*w+x] -= level
		}
	}
	return nil
}

func trim(exp *types.Exposure, data Section) error {
	img, err := exp.Image.Sub(data.X0, 0, data.X1, exp.Height())
	if err != nil {
		return fmt.Errorf("isr: trim: %w", err)
	}
	mask, err := exp.Mask.Sub(data.X0, 0, data.X1, exp.Height())
	if err != nil {
		return fmt.Errorf("isr: trim: %w", err)
	}
	exp.Image, exp.Mask = img, mask
	return nil
}

// darkScale returns the factor applied to the master dark.
func darkScale(expTime, darkTime float64) float64 {
	if darkTime <= 0 {
		darkTime = 1
	}
	return expTime / darkTime
}

func applyFlat(exp *types.Exposure, flat *types.Image) {
	for i, f := range flat.Pix {
		if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			exp.Image.Pix[i] = math.NaN()
			exp.Mask.Pix[i] |= types.MaskBad
			continue
		}
		exp.Image.Pix[i] /= f
		exp.Variance.Pix[i] /= f * f
	}
}

// setBadRegions replaces BAD pixels with the median of the remaining pixels.
func setBadRegions(exp *types.Exposure) {
	if exp.Mask.Count(types.MaskBad) == 0 {
		return
	}
	level, err := stats.Median(exp.Image, exp.Mask, types.MaskBad)
	if err != nil {
		slog.Warn("isr: no good pixels to fill bad regions", "err", err)
		return
	}
	for i, m := range exp.Mask.Pix {
		if m&types.MaskBad != 0 {
			exp.Image.Pix[i] = level
		}
	}
}
