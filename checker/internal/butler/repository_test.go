package butler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calibcheck/calibcheck/pkg/types"
)

// writeFrame writes img as the given dataset under repo.
func writeFrame(t *testing.T, repo *Repository, datasetType string, id DataID, img *types.Image, exptime float64) {
	t.Helper()
	p, err := repo.Path(datasetType, id)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteImage(&buf, img, exptime); err != nil {
		t.Fatalf("WriteImage: %v", err)
	}
	if err := os.WriteFile(p, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
}

func newRepo(t *testing.T, cache *Cache) *Repository {
	t.Helper()
	root := t.TempDir()
	return New(root, filepath.Join(root, "calibs"), cache)
}

func ramp(w, h int) *types.Image {
	im := types.NewImage(w, h)
	for i := range im.Pix {
		im.Pix[i] = float64(i) + 0.5
	}
	return im
}

var testID = DataID{Detector: 0, Exposure: 2020012800028}

func TestFITS_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	src := ramp(4, 3)
	if err := WriteImage(&buf, src, 30); err != nil {
		t.Fatalf("WriteImage: %v", err)
	}
	got, exptime, err := ReadImage(&buf)
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	if got.Width != 4 || got.Height != 3 {
		t.Fatalf("shape = %dx%d, want 4x3", got.Width, got.Height)
	}
	for i := range src.Pix {
		if got.Pix[i] != src.Pix[i] {
			t.Errorf("pix[%d] = %v, want %v", i, got.Pix[i], src.Pix[i])
		}
	}
	if exptime != 30 {
		t.Errorf("exptime = %v, want 30", exptime)
	}
}

func TestMask_RoundTrip(t *testing.T) {
	m := types.NewMask(3, 2)
	m.Or(0, 0, types.MaskBad)
	m.Or(2, 1, types.MaskSat|types.MaskIntrp)

	var buf bytes.Buffer
	if err := WriteMask(&buf, m); err != nil {
		t.Fatalf("WriteMask: %v", err)
	}
	got, err := ReadMask(&buf)
	if err != nil {
		t.Fatalf("ReadMask: %v", err)
	}
	for i := range m.Pix {
		if got.Pix[i] != m.Pix[i] {
			t.Errorf("mask[%d] = %v, want %v", i, got.Pix[i], m.Pix[i])
		}
	}
}

func TestRepository_PathUsesCalibRoot(t *testing.T) {
	repo := New("/data", "/calibs", nil)
	p, err := repo.Path(DatasetBias, testID)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if want := filepath.Join("/calibs", "bias", "bias-det000.fits"); p != want {
		t.Errorf("Path(bias) = %q, want %q", p, want)
	}
	p, _ = repo.Path(DatasetRaw, testID)
	if want := filepath.Join("/data", "raw", "2020012800028", "raw-2020012800028-det000.fits"); p != want {
		t.Errorf("Path(raw) = %q, want %q", p, want)
	}
}

func TestRepository_GetExposure(t *testing.T) {
	repo := newRepo(t, nil)
	writeFrame(t, repo, DatasetRaw, testID, ramp(5, 4), 15)

	exp, err := repo.GetExposure(context.Background(), DatasetRaw, testID)
	if err != nil {
		t.Fatalf("GetExposure: %v", err)
	}
	if exp.Meta.ExpTime != 15 || exp.Meta.Exposure != testID.Exposure {
		t.Errorf("Meta = %+v", exp.Meta)
	}
	if exp.Mask.Width != 5 || exp.Variance.Height != 4 {
		t.Error("mask/variance planes not allocated with the image geometry")
	}
	if !repo.Exists(DatasetRaw, testID) {
		t.Error("Exists(raw) = false after writing")
	}
}

func TestRepository_NotFound(t *testing.T) {
	repo := newRepo(t, nil)
	_, _, err := repo.GetImage(context.Background(), DatasetFlat, testID)
	if !errors.Is(err, ErrDatasetNotFound) {
		t.Fatalf("err = %v, want ErrDatasetNotFound", err)
	}
	if repo.Exists(DatasetFlat, testID) {
		t.Error("Exists(flat) = true on empty repo")
	}
}

func TestRepository_CancelledContext(t *testing.T) {
	repo := newRepo(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := repo.GetImage(ctx, DatasetRaw, testID); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRepository_GetDefects(t *testing.T) {
	repo := newRepo(t, nil)
	p, _ := repo.Path(DatasetDefects, testID)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	content := `
defects:
  - {x: 3, y: 0, width: 1, height: 10}
  - {x: 0, y: 5, width: 4, height: 2}
`
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	boxes, err := repo.GetDefects(context.Background(), testID)
	if err != nil {
		t.Fatalf("GetDefects: %v", err)
	}
	if len(boxes) != 2 {
		t.Fatalf("len = %d, want 2", len(boxes))
	}
	if boxes[1] != (types.Box{X: 0, Y: 5, Width: 4, Height: 2}) {
		t.Errorf("boxes[1] = %+v", boxes[1])
	}
}

func TestRepository_GetDefects_RejectsEmptyBox(t *testing.T) {
	repo := newRepo(t, nil)
	p, _ := repo.Path(DatasetDefects, testID)
	_ = os.MkdirAll(filepath.Dir(p), 0o755)
	_ = os.WriteFile(p, []byte("defects:\n  - {x: 1, y: 1, width: 0, height: 3}\n"), 0o600)

	if _, err := repo.GetDefects(context.Background(), testID); err == nil {
		t.Fatal("expected error for zero-width defect")
	}
}

func TestRepository_CachesCalibrations(t *testing.T) {
	cache := NewCache(time.Hour)
	repo := newRepo(t, cache)
	writeFrame(t, repo, DatasetBias, testID, ramp(2, 2), 0)
	writeFrame(t, repo, DatasetRaw, testID, ramp(2, 2), 0)

	first, _, err := repo.GetImage(context.Background(), DatasetBias, testID)
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}
	second, _, err := repo.GetImage(context.Background(), DatasetBias, testID)
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}
	if first != second {
		t.Error("second bias read did not come from the cache")
	}

	if _, _, err := repo.GetImage(context.Background(), DatasetRaw, testID); err != nil {
		t.Fatalf("GetImage raw: %v", err)
	}
	if cache.Count() != 1 {
		t.Errorf("cache Count = %d, want 1 (raw frames are not cached)", cache.Count())
	}
}

func TestRepository_CacheInvalidatedByModTime(t *testing.T) {
	cache := NewCache(time.Hour)
	repo := newRepo(t, cache)
	writeFrame(t, repo, DatasetFlat, testID, ramp(2, 2), 0)

	first, _, err := repo.GetImage(context.Background(), DatasetFlat, testID)
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}

	p, _ := repo.Path(DatasetFlat, testID)
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(p, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	second, _, err := repo.GetImage(context.Background(), DatasetFlat, testID)
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}
	if first == second {
		t.Error("flat was served from cache after the file changed")
	}
}

func TestRepository_PutExposure(t *testing.T) {
	repo := newRepo(t, nil)
	exp := types.FromImage(ramp(3, 3))
	exp.Meta.ExpTime = 12
	exp.Mask.Or(1, 1, types.MaskBad)

	if err := repo.PutExposure(context.Background(), testID, exp); err != nil {
		t.Fatalf("PutExposure: %v", err)
	}

	got, err := repo.GetExposure(context.Background(), DatasetPostISR, testID)
	if err != nil {
		t.Fatalf("GetExposure(postISRCCD): %v", err)
	}
	if got.Image.At(2, 2) != exp.Image.At(2, 2) || got.Meta.ExpTime != 12 {
		t.Errorf("postISRCCD did not round-trip: pix=%v exptime=%v", got.Image.At(2, 2), got.Meta.ExpTime)
	}

	mask, err := repo.GetMask(context.Background(), testID)
	if err != nil {
		t.Fatalf("GetMask: %v", err)
	}
	if mask.At(1, 1) != types.MaskBad {
		t.Errorf("mask(1,1) = %v, want BAD", mask.At(1, 1))
	}
}
