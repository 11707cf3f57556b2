package butler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/calibcheck/calibcheck/pkg/types"
)

// Repository reads and writes datasets under a data root and a calibration root.
type Repository struct {
	Root      string
	CalibRoot string

	cache *Cache
}

// New returns a Repository. cache may be nil to disable calibration caching.
func New(root, calibRoot string, cache *Cache) *Repository {
	return &Repository{Root: root, CalibRoot: calibRoot, cache: cache}
}

// Path returns the filesystem path of a dataset.
func (r *Repository) Path(datasetType string, id DataID) (string, error) {
	rel, err := Resolve(datasetType, id)
	if err != nil {
		return "", err
	}
	root := r.Root
	if IsCalib(datasetType) {
		root = r.CalibRoot
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

// Exists reports whether the dataset file is present.
func (r *Repository) Exists(datasetType string, id DataID) bool {
	p, err := r.Path(datasetType, id)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// GetExposure reads a frame dataset as an Exposure with an empty mask and a
// zero variance plane.
func (r *Repository) GetExposure(ctx context.Context, datasetType string, id DataID) (*types.Exposure, error) {
	img, exptime, err := r.GetImage(ctx, datasetType, id)
	if err != nil {
		return nil, err
	}
	exp := types.FromImage(img)
	exp.Meta = types.Metadata{Detector: id.Detector, Exposure: id.Exposure, ExpTime: exptime}
	return exp, nil
}

// GetImage reads a frame dataset. Calibration products go through the cache.
func (r *Repository) GetImage(ctx context.Context, datasetType string, id DataID) (*types.Image, float64, error) {
	if datasetType == DatasetDefects {
		return nil, 0, fmt.Errorf("butler: %s is not an image dataset", datasetType)
	}
	e, err := r.load(ctx, datasetType, id, func(p string) (*Entry, error) {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		img, exptime, err := ReadImage(f)
		if err != nil {
			return nil, err
		}
		return &Entry{Image: img, ExpTime: exptime}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return e.Image, e.ExpTime, nil
}

// defectsFile is the on-disk layout of a defects dataset.
type defectsFile struct {
	Defects []types.Box `yaml:"defects"`
}

// GetDefects reads the defect boxes for a detector.
func (r *Repository) GetDefects(ctx context.Context, id DataID) ([]types.Box, error) {
	e, err := r.load(ctx, DatasetDefects, id, func(p string) (*Entry, error) {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		var df defectsFile
		if err := yaml.Unmarshal(data, &df); err != nil {
			return nil, fmt.Errorf("parse defects: %w", err)
		}
		for i, b := range df.Defects {
			if b.Width <= 0 || b.Height <= 0 {
				return nil, fmt.Errorf("defects[%d]: width and height must be positive", i)
			}
		}
		return &Entry{Defects: df.Defects}, nil
	})
	if err != nil {
		return nil, err
	}
	return e.Defects, nil
}

// load stats the dataset file, consults the cache for calibration products
// and otherwise decodes the file with decode.
func (r *Repository) load(ctx context.Context, datasetType string, id DataID, decode func(string) (*Entry, error)) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := r.Path(datasetType, id)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s %s (%s)", ErrDatasetNotFound, datasetType, id, p)
		}
		return nil, fmt.Errorf("butler: stat %s: %w", p, err)
	}

	useCache := r.cache != nil && IsCalib(datasetType)
	if useCache {
		if e, ok := r.cache.Get(p, info.ModTime()); ok {
			return e, nil
		}
	}

	e, err := decode(p)
	if err != nil {
		return nil, fmt.Errorf("butler: read %s %s: %w", datasetType, id, err)
	}
	e.ModTime = info.ModTime()
	if useCache {
		r.cache.Put(p, e)
	}
	slog.Debug("butler: loaded dataset", "type", datasetType, "detector", id.Detector, "exposure", id.Exposure, "path", p)
	return e, nil
}

// PutExposure writes the image and mask planes of exp as the postISRCCD and
// postISRCCD_mask datasets.
func (r *Repository) PutExposure(ctx context.Context, id DataID, exp *types.Exposure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	imgPath, err := r.Path(DatasetPostISR, id)
	if err != nil {
		return err
	}
	maskPath, err := r.Path(DatasetPostMask, id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(imgPath), 0o755); err != nil {
		return fmt.Errorf("butler: mkdir: %w", err)
	}
	if err := writeAtomic(imgPath, func(f *os.File) error {
		return WriteImage(f, exp.Image, exp.Meta.ExpTime)
	}); err != nil {
		return fmt.Errorf("butler: put %s %s: %w", DatasetPostISR, id, err)
	}
	if err := writeAtomic(maskPath, func(f *os.File) error {
		return WriteMask(f, exp.Mask)
	}); err != nil {
		return fmt.Errorf("butler: put %s %s: %w", DatasetPostMask, id, err)
	}
	return nil
}

// GetMask reads the persisted mask plane of a postISRCCD dataset.
func (r *Repository) GetMask(ctx context.Context, id DataID) (*types.Mask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := r.Path(DatasetPostMask, id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s %s (%s)", ErrDatasetNotFound, DatasetPostMask, id, p)
		}
		return nil, fmt.Errorf("butler: open %s: %w", p, err)
	}
	defer f.Close()
	return ReadMask(f)
}

// writeAtomic writes to a temporary file in the target directory and renames
// it into place.
func writeAtomic(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
