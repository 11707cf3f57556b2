package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Metric family names.
const (
	MetricMean           = "calibcheck_frame_mean"
	MetricMedian         = "calibcheck_frame_median"
	MetricStdev          = "calibcheck_frame_stdev"
	MetricPixelsUsed     = "calibcheck_frame_pixels_used"
	MetricMaskedFraction = "calibcheck_frame_masked_fraction"
	MetricDeviation      = "calibcheck_normalization_deviation"
	MetricOK             = "calibcheck_normalization_ok"
	MetricLastRun        = "calibcheck_last_run_timestamp_seconds"
)

// Sample is the outcome of one dataset check.
type Sample struct {
	Detector       int
	Exposure       int64
	Mean           float64
	Median         float64
	Stdev          float64
	PixelsUsed     int
	MaskedFraction float64
	Deviation      float64
	Passed         bool
	CheckedAt      time.Time
}

type family struct {
	name  string
	help  string
	value func(Sample) float64
}

var families = []family{
	{MetricMean, "Mean of the unmasked pixels of the calibrated frame.", func(s Sample) float64 { return s.Mean }},
	{MetricMedian, "Median of the unmasked pixels of the calibrated frame.", func(s Sample) float64 { return s.Median }},
	{MetricStdev, "Sample standard deviation of the unmasked pixels.", func(s Sample) float64 { return s.Stdev }},
	{MetricPixelsUsed, "Number of pixels the statistics were computed over.", func(s Sample) float64 { return float64(s.PixelsUsed) }},
	{MetricMaskedFraction, "Fraction of pixels excluded by the mask.", func(s Sample) float64 { return s.MaskedFraction }},
	{MetricDeviation, "Absolute deviation |mean/median - 1|.", func(s Sample) float64 { return s.Deviation }},
	{MetricOK, "1 if the frame passed the normalization check, 0 otherwise.", func(s Sample) float64 { return boolToFloat(s.Passed) }},
	{MetricLastRun, "Unix time of the last check of the dataset.", func(s Sample) float64 { return float64(s.CheckedAt.Unix()) }},
}

// Families converts samples into gauge metric families. Series are ordered
// by detector, then exposure.
func Families(samples []Sample) []*dto.MetricFamily {
	sorted := append([]Sample(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Detector != sorted[j].Detector {
			return sorted[i].Detector < sorted[j].Detector
		}
		return sorted[i].Exposure < sorted[j].Exposure
	})

	out := make([]*dto.MetricFamily, 0, len(families))
	for _, f := range families {
		mf := &dto.MetricFamily{
			Name: proto.String(f.name),
			Help: proto.String(f.help),
			Type: dto.MetricType_GAUGE.Enum(),
		}
		for _, s := range sorted {
			mf.Metric = append(mf.Metric, &dto.Metric{
				Label: labels(s),
				Gauge: &dto.Gauge{Value: proto.Float64(f.value(s))},
			})
		}
		out = append(out, mf)
	}
	return out
}

func labels(s Sample) []*dto.LabelPair {
	return []*dto.LabelPair{
		{Name: proto.String("detector"), Value: proto.String(strconv.Itoa(s.Detector))},
		{Name: proto.String("exposure"), Value: proto.String(strconv.FormatInt(s.Exposure, 10))},
	}
}

// Encode writes samples to w in the Prometheus text format.
func Encode(w io.Writer, samples []Sample) error {
	for _, mf := range Families(samples) {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("report: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Write renders samples to path through a temporary file and a rename.
func Write(path string, samples []Sample) error {
	var buf bytes.Buffer
	if err := Encode(&buf, samples); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".calibcheck-*.prom")
	if err != nil {
		return fmt.Errorf("report: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("report: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("report: close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("report: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("report: rename: %w", err)
	}
	return nil
}

// Parse decodes a Prometheus text exposition into metric families.
// A partial result with a non-fatal parse warning is still returned.
func Parse(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("report: parse text: %w", err)
	}
	return mfs, nil
}

// Read parses the textfile at path back into samples. A missing file yields
// no samples and no error.
func Read(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("report: open: %w", err)
	}
	defer f.Close()

	mfs, err := Parse(f)
	if err != nil {
		return nil, err
	}
	return samplesFrom(mfs)
}

// Merge returns prev with every entry replaced by the sample in next for the
// same detector and exposure, plus the samples in next that prev lacked.
func Merge(prev, next []Sample) []Sample {
	type key struct {
		det int
		exp int64
	}
	idx := make(map[key]int, len(prev)+len(next))
	out := make([]Sample, 0, len(prev)+len(next))
	for _, s := range append(append([]Sample(nil), prev...), next...) {
		k := key{s.Detector, s.Exposure}
		if i, ok := idx[k]; ok {
			out[i] = s
			continue
		}
		idx[k] = len(out)
		out = append(out, s)
	}
	return out
}

func samplesFrom(mfs map[string]*dto.MetricFamily) ([]Sample, error) {
	type key struct {
		det int
		exp int64
	}
	byKey := make(map[key]*Sample)
	var order []key

	for _, f := range families {
		mf := mfs[f.name]
		if mf == nil {
			continue
		}
		for _, m := range mf.GetMetric() {
			det, exp, err := parseLabels(m)
			if err != nil {
				return nil, fmt.Errorf("report: %s: %w", f.name, err)
			}
			k := key{det, exp}
			s, ok := byKey[k]
			if !ok {
				s = &Sample{Detector: det, Exposure: exp}
				byKey[k] = s
				order = append(order, k)
			}
			setField(s, f.name, valueOf(m))
		}
	}

	out := make([]Sample, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out, nil
}

func parseLabels(m *dto.Metric) (int, int64, error) {
	var det, exp string
	for _, lp := range m.GetLabel() {
		switch lp.GetName() {
		case "detector":
			det = lp.GetValue()
		case "exposure":
			exp = lp.GetValue()
		}
	}
	d, err := strconv.Atoi(det)
	if err != nil {
		return 0, 0, fmt.Errorf("detector label %q: %w", det, err)
	}
	e, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("exposure label %q: %w", exp, err)
	}
	return d, e, nil
}

// valueOf returns the value of a gauge, counter or untyped metric.
func valueOf(m *dto.Metric) float64 {
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}

func setField(s *Sample, name string, v float64) {
	switch name {
	case MetricMean:
		s.Mean = v
	case MetricMedian:
		s.Median = v
	case MetricStdev:
		s.Stdev = v
	case MetricPixelsUsed:
		s.PixelsUsed = int(v)
	case MetricMaskedFraction:
		s.MaskedFraction = v
	case MetricDeviation:
		s.Deviation = v
	case MetricOK:
		s.Passed = v == 1
	case MetricLastRun:
		s.CheckedAt = time.Unix(int64(v), 0).UTC()
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
