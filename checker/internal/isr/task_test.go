package isr

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/calibcheck/calibcheck/checker/internal/butler"
	"github.com/calibcheck/calibcheck/pkg/types"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func constImage(w, h int, v float64) *types.Image {
	im := types.NewImage(w, h)
	im.Fill(v)
	return im
}

// flatPattern is the pixel response used by the synthetic frames, 4x3.
var flatPattern = []float64{
	0.9, 1.1, 1.0, 1.0,
	1.05, 0.95, 1.0, 1.0,
	1.0, 1.0, 0.98, 1.02,
}

// makeInputs builds a raw 6x3 frame (4 data + 2 overscan columns) whose
// calibrated value is signal everywhere.
func makeInputs(t *testing.T, signal float64) Inputs {
	t.Helper()
	const (
		overscan = 50.0
		bias     = 10.0
		darkRate = 0.5 // ADU per second
		exptime  = 30.0
	)
	raw := types.NewImage(6, 3)
	for y := 0; y < 3; y++ {
		for x := 0; x < 6; x++ {
			if x >= 4 {
				raw.Set(x, y, overscan)
				continue
			}
			raw.Set(x, y, overscan+bias+darkRate*exptime+signal*flatPattern[y*4+x])
		}
	}
	exp := types.FromImage(raw)
	exp.Meta = types.Metadata{Detector: 0, Exposure: 1, ExpTime: exptime}

	flat, err := types.NewImageFrom(4, 3, append([]float64(nil), flatPattern...))
	if err != nil {
		t.Fatal(err)
	}
	return Inputs{
		Raw:      exp,
		Bias:     constImage(4, 3, bias),
		Dark:     constImage(4, 3, darkRate*10),
		DarkTime: 10,
		Flat:     flat,
	}
}

func newTask(t *testing.T, mutate func(*Config)) *Task {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Detector = testDetector()
	if mutate != nil {
		mutate(&cfg)
	}
	task, err := NewTask(cfg)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	return task
}

func TestRun_FullChain(t *testing.T) {
	task := newTask(t, nil)
	out, err := task.Run(context.Background(), makeInputs(t, 1000))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Width() != 4 || out.Height() != 3 {
		t.Fatalf("output %dx%d, want trimmed 4x3", out.Width(), out.Height())
	}
	for i, v := range out.Image.Pix {
		if !almostEqual(v, 1000, 1e-9) {
			t.Errorf("pix[%d] = %v, want 1000", i, v)
		}
	}
	if n := out.Mask.Count(^types.MaskPixel(0)); n != 0 {
		t.Errorf("%d pixels masked, want 0", n)
	}
}

func TestRun_DoesNotModifyInputs(t *testing.T) {
	in := makeInputs(t, 1000)
	before := in.Raw.Image.Clone()
	if _, err := newTask(t, nil).Run(context.Background(), in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := range before.Pix {
		if in.Raw.Image.Pix[i] != before.Pix[i] {
			t.Fatalf("raw pix[%d] modified", i)
		}
	}
	if in.Bias.Pix[0] != 10 {
		t.Error("bias modified")
	}
}

func TestRun_OverscanOnly(t *testing.T) {
	raw, _ := types.NewImageFrom(6, 2, []float64{
		110, 111, 112, 113, 10, 12,
		20, 20, 20, 20, 20, 20,
	})
	task := newTask(t, func(c *Config) {
		*c = Config{DoOverscan: true, Detector: testDetector()}
	})
	out, err := task.Run(context.Background(), Inputs{Raw: types.FromImage(raw)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []float64{99, 100, 101, 102, 0, 0, 0, 0}
	for i, v := range want {
		if out.Image.Pix[i] != v {
			t.Errorf("pix[%d] = %v, want %v", i, out.Image.Pix[i], v)
		}
	}
}

func TestRun_SaturationAndSuspect(t *testing.T) {
	raw, _ := types.NewImageFrom(6, 1, []float64{100, 55000, 65000, 100, 0, 0})
	task := newTask(t, func(c *Config) {
		*c = Config{DoSaturation: true, DoSuspect: true, Detector: testDetector()}
	})
	out, err := task.Run(context.Background(), Inputs{Raw: types.FromImage(raw)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := out.Mask.At(1, 0); got != types.MaskSuspect {
		t.Errorf("mask(1) = %v, want SUSPECT", got)
	}
	if got := out.Mask.At(2, 0); got != types.MaskSat|types.MaskSuspect {
		t.Errorf("mask(2) = %v, want SAT|SUSPECT", got)
	}
	if got := out.Mask.At(0, 0); got != 0 {
		t.Errorf("mask(0) = %v, want 0", got)
	}
}

func TestRun_Variance(t *testing.T) {
	raw, _ := types.NewImageFrom(6, 1, []float64{100, -5, 0, 8, 0, 0})
	task := newTask(t, func(c *Config) {
		*c = Config{DoVariance: true, Detector: testDetector()}
	})
	out, err := task.Run(context.Background(), Inputs{Raw: types.FromImage(raw)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// gain 2, read noise 4 e- → (4/2)^2 = 4 ADU^2.
	want := []float64{54, 4, 4, 8}
	for i, v := range want {
		if !almostEqual(out.Variance.Pix[i], v, 1e-12) {
			t.Errorf("variance[%d] = %v, want %v", i, out.Variance.Pix[i], v)
		}
	}
}

func TestRun_DefectsAndBadRegions(t *testing.T) {
	in := makeInputs(t, 1)
	in.Defects = []types.Box{{X: 3, Y: 0, Width: 5, Height: 1}}
	in.Raw.Image.Set(3, 0, 1e4)

	out, err := newTask(t, nil).Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Mask.At(3, 0)&types.MaskBad == 0 {
		t.Fatal("defect pixel not flagged BAD")
	}
	if !almostEqual(out.Image.At(3, 0), 1, 1e-9) {
		t.Errorf("defect pixel = %v, want filled with good median 1", out.Image.At(3, 0))
	}
	if out.Mask.Count(types.MaskBad) != 1 {
		t.Errorf("BAD count = %d, want 1 (box clipped to the frame)", out.Mask.Count(types.MaskBad))
	}
}

func TestRun_NonPositiveFlat(t *testing.T) {
	in := makeInputs(t, 1)
	in.Flat.Set(0, 2, 0)

	task := newTask(t, func(c *Config) { c.DoSetBadRegions = false })
	out, err := task.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Mask.At(0, 2)&types.MaskBad == 0 {
		t.Error("zero flat pixel not flagged BAD")
	}
	if !math.IsNaN(out.Image.At(0, 2)) {
		t.Errorf("zero flat pixel = %v, want NaN", out.Image.At(0, 2))
	}
}

func TestRun_MissingCalibration(t *testing.T) {
	in := makeInputs(t, 1)
	in.Dark = nil
	_, err := newTask(t, nil).Run(context.Background(), in)
	if !errors.Is(err, ErrMissingCalibration) {
		t.Fatalf("err = %v, want ErrMissingCalibration", err)
	}
}

func TestRun_ShapeMismatch(t *testing.T) {
	in := makeInputs(t, 1)
	in.Flat = constImage(6, 3, 1)
	_, err := newTask(t, nil).Run(context.Background(), in)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTask(t, nil).Run(ctx, makeInputs(t, 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDarkScale(t *testing.T) {
	if got := darkScale(30, 10); got != 3 {
		t.Errorf("darkScale(30,10) = %v, want 3", got)
	}
	if got := darkScale(30, 0); got != 30 {
		t.Errorf("darkScale(30,0) = %v, want 30 (per-second dark)", got)
	}
}

// stubSource serves fixed frames and records which datasets were requested.
type stubSource struct {
	in        Inputs
	requested []string
}

func (s *stubSource) GetExposure(_ context.Context, datasetType string, _ butler.DataID) (*types.Exposure, error) {
	s.requested = append(s.requested, datasetType)
	return s.in.Raw, nil
}

func (s *stubSource) GetImage(_ context.Context, datasetType string, id butler.DataID) (*types.Image, float64, error) {
	s.requested = append(s.requested, datasetType)
	switch datasetType {
	case butler.DatasetBias:
		return s.in.Bias, 0, nil
	case butler.DatasetDark:
		return s.in.Dark, s.in.DarkTime, nil
	case butler.DatasetFlat:
		if s.in.Flat == nil {
			return nil, 0, butler.ErrDatasetNotFound
		}
		return s.in.Flat, 0, nil
	}
	return nil, 0, butler.ErrUnknownDatasetType
}

func (s *stubSource) GetDefects(_ context.Context, _ butler.DataID) ([]types.Box, error) {
	s.requested = append(s.requested, butler.DatasetDefects)
	return s.in.Defects, nil
}

func TestRunDataRef(t *testing.T) {
	src := &stubSource{in: makeInputs(t, 2)}
	out, err := newTask(t, nil).RunDataRef(context.Background(), src, butler.DataID{Exposure: 1})
	if err != nil {
		t.Fatalf("RunDataRef: %v", err)
	}
	if !almostEqual(out.Image.At(1, 1), 2, 1e-9) {
		t.Errorf("pix = %v, want 2", out.Image.At(1, 1))
	}
	if len(src.requested) != 5 {
		t.Errorf("requested %v, want raw, bias, dark, flat, defects", src.requested)
	}
}

func TestReadInputs_SkipsDisabledSteps(t *testing.T) {
	src := &stubSource{in: makeInputs(t, 2)}
	task := newTask(t, func(c *Config) {
		c.DoDark = false
		c.DoDefect = false
	})
	if _, err := task.ReadInputs(context.Background(), src, butler.DataID{}); err != nil {
		t.Fatalf("ReadInputs: %v", err)
	}
	for _, r := range src.requested {
		if r == butler.DatasetDark || r == butler.DatasetDefects {
			t.Errorf("requested %q although the step is disabled", r)
		}
	}
}

func TestReadInputs_MissingFlat(t *testing.T) {
	in := makeInputs(t, 2)
	in.Flat = nil
	src := &stubSource{in: in}
	_, err := newTask(t, nil).ReadInputs(context.Background(), src, butler.DataID{})
	if !errors.Is(err, butler.ErrDatasetNotFound) {
		t.Fatalf("err = %v, want ErrDatasetNotFound", err)
	}
}
