package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/calibcheck/calibcheck/checker/internal/butler"
	"github.com/calibcheck/calibcheck/checker/internal/config"
	"github.com/calibcheck/calibcheck/checker/internal/history"
	"github.com/calibcheck/calibcheck/checker/internal/isr"
	"github.com/calibcheck/calibcheck/checker/internal/report"
	"github.com/calibcheck/calibcheck/checker/internal/validate"
)

// Outcome is the result of checking one dataset.
type Outcome struct {
	ID     butler.DataID
	Report validate.Report
	Steps  []string
	// Err is nil when the frame passed. Setup failures (missing datasets,
	// ISR errors) and validation failures both land here.
	Err       error
	CheckedAt time.Time
}

// Passed reports whether the dataset passed every check.
func (o Outcome) Passed() bool { return o.Err == nil }

// Validated reports whether the frame got as far as the statistics, so the
// outcome carries numbers worth reporting.
func (o Outcome) Validated() bool {
	return o.Err == nil ||
		errors.Is(o.Err, validate.ErrToleranceExceeded) ||
		errors.Is(o.Err, validate.ErrRuleViolated)
}

// Options are the optional outputs of a Runner.
type Options struct {
	// WriteOutput persists each calibrated exposure as postISRCCD.
	WriteOutput bool
	// MetricsPath is the Prometheus textfile to update; empty disables it.
	MetricsPath string
	// History receives one run per dataset; nil disables it.
	History *history.Store
}

// Runner checks a fixed list of datasets against one repository.
// A Runner is built from a single config; rebuild it on reload.
type Runner struct {
	repo      *butler.Repository
	tasks     map[int]*isr.Task
	validator *validate.Validator
	datasets  []butler.DataID
	opts      Options
	now       func() time.Time
}

// New builds a Runner for cfg. Every detector's ISR config and the
// validation policy are checked up front.
func New(cfg *config.Config, repo *butler.Repository, opts Options) (*Runner, error) {
	tasks := make(map[int]*isr.Task, len(cfg.Detectors))
	for _, d := range cfg.Detectors {
		t, err := isr.NewTask(ISRConfig(cfg.ISR, d))
		if err != nil {
			return nil, fmt.Errorf("runner: detector %d: %w", d.ID, err)
		}
		tasks[d.ID] = t
	}
	policy, err := Policy(cfg.Validation)
	if err != nil {
		return nil, err
	}
	v, err := validate.New(policy)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	datasets := DataIDs(cfg.Datasets)
	for _, id := range datasets {
		if _, ok := tasks[id.Detector]; !ok {
			return nil, fmt.Errorf("runner: no detector config for %s", id)
		}
	}
	return &Runner{
		repo:      repo,
		tasks:     tasks,
		validator: v,
		datasets:  datasets,
		opts:      opts,
		now:       time.Now,
	}, nil
}

// Run checks every dataset in order and reports the outcomes. The returned
// error covers reporting failures and context cancellation only; per-dataset
// failures are in the outcomes.
func (r *Runner) Run(ctx context.Context) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(r.datasets))
	for _, id := range r.datasets {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		out := r.Check(ctx, id)
		logOutcome(out)
		outcomes = append(outcomes, out)

		if r.opts.History != nil {
			if _, err := r.opts.History.Record(ctx, runFrom(out)); err != nil {
				return outcomes, fmt.Errorf("runner: %w", err)
			}
		}
	}

	if r.opts.MetricsPath != "" {
		if err := r.writeMetrics(outcomes); err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

// Check runs ISR and the normalization check for one dataset.
func (r *Runner) Check(ctx context.Context, id butler.DataID) Outcome {
	out := Outcome{ID: id, CheckedAt: r.now().UTC()}

	task, ok := r.tasks[id.Detector]
	if !ok {
		out.Err = fmt.Errorf("runner: no detector config for %s", id)
		return out
	}
	out.Steps = task.Config().Steps()

	exp, err := task.RunDataRef(ctx, r.repo, id)
	if err != nil {
		out.Err = err
		return out
	}
	if r.opts.WriteOutput {
		if err := r.repo.PutExposure(ctx, id, exp); err != nil {
			out.Err = err
			return out
		}
	}
	out.Report, out.Err = r.validator.Check(exp.Image, exp.Mask)
	return out
}

// Failed counts the outcomes that did not pass.
func Failed(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if !o.Passed() {
			n++
		}
	}
	return n
}

func (r *Runner) writeMetrics(outcomes []Outcome) error {
	prev, err := report.Read(r.opts.MetricsPath)
	if err != nil {
		slog.Warn("runner: previous metrics unreadable, starting fresh", "path", r.opts.MetricsPath, "err", err)
	}
	var next []report.Sample
	for _, o := range outcomes {
		if o.Validated() {
			next = append(next, sampleFrom(o))
		}
	}
	if err := report.Write(r.opts.MetricsPath, report.Merge(prev, next)); err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	return nil
}

func sampleFrom(o Outcome) report.Sample {
	st := o.Report.Stats
	return report.Sample{
		Detector:       o.ID.Detector,
		Exposure:       o.ID.Exposure,
		Mean:           st.Mean,
		Median:         st.Median,
		Stdev:          st.Stdev,
		PixelsUsed:     st.N,
		MaskedFraction: st.MaskedFraction(),
		Deviation:      o.Report.Deviation,
		Passed:         o.Passed(),
		CheckedAt:      o.CheckedAt,
	}
}

func runFrom(o Outcome) history.Run {
	st := o.Report.Stats
	run := history.Run{
		Detector:       o.ID.Detector,
		Exposure:       o.ID.Exposure,
		Mean:           st.Mean,
		Median:         st.Median,
		Stdev:          st.Stdev,
		Pixels:         st.N,
		MaskedFraction: st.MaskedFraction(),
		Deviation:      o.Report.Deviation,
		Passed:         o.Passed(),
		Steps:          o.Steps,
		CreatedAt:      o.CheckedAt,
	}
	if o.Err != nil {
		run.Reason = o.Err.Error()
	}
	return run
}

func logOutcome(o Outcome) {
	st := o.Report.Stats
	switch {
	case o.Passed():
		slog.Info("frame normalized",
			"detector", o.ID.Detector,
			"exposure", o.ID.Exposure,
			"mean", st.Mean,
			"median", st.Median,
			"stdev", st.Stdev,
			"deviation", o.Report.Deviation,
			"pixels", st.N,
		)
	case o.Validated():
		slog.Error("frame not normalized",
			"detector", o.ID.Detector,
			"exposure", o.ID.Exposure,
			"mean", st.Mean,
			"median", st.Median,
			"stdev", st.Stdev,
			"deviation", o.Report.Deviation,
			"err", o.Err,
		)
	default:
		slog.Error("check failed", "detector", o.ID.Detector, "exposure", o.ID.Exposure, "err", o.Err)
	}
}
