package butler

import (
	"errors"
	"fmt"
	"path"
	"sort"
)

// Dataset types understood by Resolve.
const (
	DatasetRaw      = "raw"
	DatasetBias     = "bias"
	DatasetDark     = "dark"
	DatasetFlat     = "flat"
	DatasetDefects  = "defects"
	DatasetPostISR  = "postISRCCD"
	DatasetPostMask = "postISRCCD_mask"
)

// Errors returned by Resolve and Repository.
var (
	ErrUnknownDatasetType = errors.New("butler: unknown dataset type")
	ErrInvalidDataID      = errors.New("butler: invalid data id")
	ErrDatasetNotFound    = errors.New("butler: dataset not found")
)

// DataID identifies one detector of one exposure.
type DataID struct {
	Detector int   `yaml:"detector"`
	Exposure int64 `yaml:"exposure"`
}

func (id DataID) String() string {
	return fmt.Sprintf("detector=%d exposure=%d", id.Detector, id.Exposure)
}

// Validate rejects negative identifiers.
func (id DataID) Validate() error {
	if id.Detector < 0 || id.Exposure < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDataID, id)
	}
	return nil
}

type datasetDef struct {
	calib    bool
	template func(id DataID) string
}

var datasets = map[string]datasetDef{
	DatasetRaw: {template: func(id DataID) string {
		return fmt.Sprintf("raw/%d/raw-%d-det%03d.fits", id.Exposure, id.Exposure, id.Detector)
	}},
	DatasetPostISR: {template: func(id DataID) string {
		return fmt.Sprintf("postISRCCD/%d/postISRCCD-%d-det%03d.fits", id.Exposure, id.Exposure, id.Detector)
	}},
	DatasetPostMask: {template: func(id DataID) string {
		return fmt.Sprintf("postISRCCD/%d/postISRMask-%d-det%03d.fits", id.Exposure, id.Exposure, id.Detector)
	}},
	DatasetBias: {calib: true, template: func(id DataID) string {
		return fmt.Sprintf("bias/bias-det%03d.fits", id.Detector)
	}},
	DatasetDark: {calib: true, template: func(id DataID) string {
		return fmt.Sprintf("dark/dark-det%03d.fits", id.Detector)
	}},
	DatasetFlat: {calib: true, template: func(id DataID) string {
		return fmt.Sprintf("flat/flat-det%03d.fits", id.Detector)
	}},
	DatasetDefects: {calib: true, template: func(id DataID) string {
		return fmt.Sprintf("defects/defects-det%03d.yaml", id.Detector)
	}},
}

// Resolve returns the slash-separated path of a dataset relative to its root.
func Resolve(datasetType string, id DataID) (string, error) {
	def, ok := datasets[datasetType]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownDatasetType, datasetType)
	}
	if err := id.Validate(); err != nil {
		return "", err
	}
	return path.Clean(def.template(id)), nil
}

// IsCalib reports whether datasetType lives under the calibration root.
func IsCalib(datasetType string) bool {
	return datasets[datasetType].calib
}

// DatasetTypes returns the known dataset types in sorted order.
func DatasetTypes() []string {
	out := make([]string, 0, len(datasets))
	for k := range datasets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
