package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultPackageDirEnv = "CI_CPP_GEN2_DIR"
	DefaultCacheTTL      = 10 * time.Minute
	DefaultGain          = 1.0
)

// DefaultExcludePlanes are the mask planes left out of the statistics.
var DefaultExcludePlanes = []string{"BAD", "SAT", "SUSPECT", "NO_DATA"}

// Config is the top-level calibcheck configuration.
// Fields map 1:1 to calibcheck.example.yaml.
type Config struct {
	Repository RepositoryConfig `yaml:"repository"`
	Detectors  []Detector       `yaml:"detectors"`
	ISR        ISRConfig        `yaml:"isr"`
	Datasets   []Dataset        `yaml:"datasets"`
	Validation ValidationConfig `yaml:"validation"`
	Report     ReportConfig     `yaml:"report"`
	History    HistoryConfig    `yaml:"history"`
	Cache      CacheConfig      `yaml:"cache"`
}

// RepositoryConfig locates the data and calibration roots.
type RepositoryConfig struct {
	// PackageDirEnv names the environment variable that holds the package
	// directory. <dir>/DATA and <dir>/DATA/calibs are used as roots unless
	// Root / CalibRoot are set.
	PackageDirEnv string `yaml:"package_dir_env"`

	// Root overrides the data repository root.
	Root string `yaml:"root"`

	// CalibRoot overrides the calibration root. Defaults to <root>/calibs.
	CalibRoot string `yaml:"calib_root"`
}

// Roots returns the data and calibration roots, resolving the package
// directory from the environment when Root is unset.
func (r RepositoryConfig) Roots() (root, calibRoot string, err error) {
	root = r.Root
	if root == "" {
		if r.PackageDirEnv == "" {
			return "", "", fmt.Errorf("config: repository.root or repository.package_dir_env is required")
		}
		dir := os.Getenv(r.PackageDirEnv)
		if dir == "" {
			return "", "", fmt.Errorf("config: environment variable %s is not set", r.PackageDirEnv)
		}
		root = filepath.Join(dir, "DATA")
	}
	calibRoot = r.CalibRoot
	if calibRoot == "" {
		calibRoot = filepath.Join(root, "calibs")
	}
	return root, calibRoot, nil
}

// Section is a half-open column range [x0, x1).
type Section struct {
	X0 int `yaml:"x0"`
	X1 int `yaml:"x1"`
}

// Detector holds the constants of one detector.
type Detector struct {
	// ID matches Dataset.Detector.
	ID int `yaml:"id"`

	// Gain in electrons per ADU.
	Gain float64 `yaml:"gain"`

	// ReadNoise in electrons.
	ReadNoise float64 `yaml:"read_noise"`

	// Saturation and Suspect are ADU levels; 0 disables the flag.
	Saturation float64 `yaml:"saturation"`
	Suspect    float64 `yaml:"suspect"`

	// Overscan and Data are column sections of the raw frame.
	Overscan Section `yaml:"overscan"`
	Data     Section `yaml:"data"`
}

// ISRConfig toggles the ISR steps. Unset fields keep the defaults from
// defaults(): the nine implemented steps on, everything else off.
type ISRConfig struct {
	DoSaturation    bool `yaml:"do_saturation"`
	DoSuspect       bool `yaml:"do_suspect"`
	DoSetBadRegions bool `yaml:"do_set_bad_regions"`
	DoOverscan      bool `yaml:"do_overscan"`
	DoBias          bool `yaml:"do_bias"`
	DoVariance      bool `yaml:"do_variance"`
	DoDark          bool `yaml:"do_dark"`
	DoFlat          bool `yaml:"do_flat"`
	DoDefect        bool `yaml:"do_defect"`

	DoLinearize               bool `yaml:"do_linearize"`
	DoCrosstalk               bool `yaml:"do_crosstalk"`
	DoWidenSaturationTrails   bool `yaml:"do_widen_saturation_trails"`
	DoBrighterFatter          bool `yaml:"do_brighter_fatter"`
	DoSaturationInterpolation bool `yaml:"do_saturation_interpolation"`
	DoStrayLight              bool `yaml:"do_stray_light"`
	DoApplyGains              bool `yaml:"do_apply_gains"`
	DoFringe                  bool `yaml:"do_fringe"`
	DoMeasureBackground       bool `yaml:"do_measure_background"`
	DoVignette                bool `yaml:"do_vignette"`
	DoAttachTransmissionCurve bool `yaml:"do_attach_transmission_curve"`

	// WriteOutput persists the calibrated exposure as postISRCCD.
	WriteOutput bool `yaml:"write_output"`
}

// Dataset identifies one raw frame: a detector of an exposure.
type Dataset struct {
	Detector int   `yaml:"detector"`
	Exposure int64 `yaml:"exposure"`
}

// ValidationConfig configures the normalization check.
type ValidationConfig struct {
	// ExcludePlanes names the mask planes left out of the statistics.
	ExcludePlanes []string `yaml:"exclude_planes"`

	// Inclusive accepts |mean/median - 1| == stdev.
	Inclusive bool `yaml:"inclusive"`

	// Epsilon widens the bound to stdev + epsilon.
	Epsilon float64 `yaml:"epsilon"`

	// Rules are extra conditions like "masked_fraction < 0.1".
	Rules []string `yaml:"rules"`
}

// ReportConfig configures the Prometheus textfile report.
type ReportConfig struct {
	// MetricsPath is the textfile to write; empty disables the report.
	MetricsPath string `yaml:"metrics_path"`
}

// HistoryConfig configures the SQLite run history.
type HistoryConfig struct {
	// Path is the SQLite database file; empty disables the history.
	Path string `yaml:"path"`
}

// CacheConfig configures the calibration frame cache.
type CacheConfig struct {
	// TTL is how long decoded calibration frames are reused.
	TTL time.Duration `yaml:"ttl"`
}

// Detector returns the detector with the given id.
func (c *Config) Detector(id int) (Detector, bool) {
	for _, d := range c.Detectors {
		if d.ID == id {
			return d, true
		}
	}
	return Detector{}, false
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config data, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	for i := range cfg.Detectors {
		if cfg.Detectors[i].Gain == 0 {
			cfg.Detectors[i].Gain = DefaultGain
		}
	}
	if cfg.Validation.ExcludePlanes == nil {
		cfg.Validation.ExcludePlanes = append([]string(nil), DefaultExcludePlanes...)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Repository: RepositoryConfig{
			PackageDirEnv: DefaultPackageDirEnv,
		},
		ISR: ISRConfig{
			DoSaturation:    true,
			DoSuspect:       true,
			DoSetBadRegions: true,
			DoOverscan:      true,
			DoBias:          true,
			DoVariance:      true,
			DoDark:          true,
			DoFlat:          true,
			DoDefect:        true,
		},
		Cache: CacheConfig{TTL: DefaultCacheTTL},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Repository.Root == "" && cfg.Repository.PackageDirEnv == "" {
		return fmt.Errorf("repository.root or repository.package_dir_env is required")
	}
	if len(cfg.Datasets) == 0 {
		return fmt.Errorf("datasets: at least one dataset is required")
	}
	seen := make(map[int]bool, len(cfg.Detectors))
	for i, d := range cfg.Detectors {
		if seen[d.ID] {
			return fmt.Errorf("detectors[%d]: duplicate id %d", i, d.ID)
		}
		seen[d.ID] = true
		if d.Gain < 0 {
			return fmt.Errorf("detectors[%d]: gain must be positive", i)
		}
		if d.ReadNoise < 0 {
			return fmt.Errorf("detectors[%d]: read_noise must not be negative", i)
		}
		if d.Overscan.X1 < d.Overscan.X0 || d.Data.X1 < d.Data.X0 {
			return fmt.Errorf("detectors[%d]: section end before start", i)
		}
	}
	for i, ds := range cfg.Datasets {
		if ds.Detector < 0 || ds.Exposure < 0 {
			return fmt.Errorf("datasets[%d]: detector and exposure must not be negative", i)
		}
		if !seen[ds.Detector] {
			return fmt.Errorf("datasets[%d]: no detectors entry for detector %d", i, ds.Detector)
		}
	}
	for _, p := range cfg.Validation.ExcludePlanes {
		switch strings.ToUpper(strings.TrimSpace(p)) {
		case "BAD", "SAT", "SUSPECT", "NO_DATA", "INTRP":
		default:
			return fmt.Errorf("validation.exclude_planes: unknown plane %q", p)
		}
	}
	if cfg.Validation.Epsilon < 0 {
		return fmt.Errorf("validation.epsilon must not be negative")
	}
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	return nil
}
