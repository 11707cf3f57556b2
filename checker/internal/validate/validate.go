package validate

import (
	"errors"
	"fmt"
	"math"

	"github.com/calibcheck/calibcheck/checker/internal/stats"
	"github.com/calibcheck/calibcheck/pkg/types"
)

// DefaultExclude is the set of mask planes excluded from statistics when a
// Policy does not name its own.
const DefaultExclude = types.MaskBad | types.MaskSat | types.MaskSuspect | types.MaskNoData

// Errors returned by Validate and Check.
var (
	ErrToleranceExceeded = errors.New("validate: tolerance exceeded")
	ErrZeroMedian        = errors.New("validate: median is zero")
	ErrRuleViolated      = errors.New("validate: rule violated")
)

// ToleranceError reports a frame whose mean strays from its median by at
// least one standard deviation.
type ToleranceError struct {
	Mean      float64
	Median    float64
	Stdev     float64
	Deviation float64
	Bound     float64
}

func (e *ToleranceError) Error() string {
	return fmt.Sprintf("validate: |mean/median - 1| = %g not below %g (mean=%g median=%g stdev=%g)",
		e.Deviation, e.Bound, e.Mean, e.Median, e.Stdev)
}

// Unwrap lets errors.Is match ErrToleranceExceeded.
func (e *ToleranceError) Unwrap() error { return ErrToleranceExceeded }

// Policy configures a Validator.
type Policy struct {
	// Exclude lists the mask bits whose pixels are left out of the statistics.
	// Zero means DefaultExclude.
	Exclude types.MaskPixel

	// Inclusive accepts deviation == bound.
	Inclusive bool

	// Epsilon is added to stdev to form the bound.
	Epsilon float64

	// Rules are extra "field op value" conditions that must all hold.
	Rules []string
}

// Report is the outcome of one Check.
type Report struct {
	Stats     stats.Result
	Deviation float64
	Bound     float64
	Passed    bool
}

// Validator checks frame normalization under a fixed Policy.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	policy Policy
	rules  []rule
}

// New returns a Validator for p. It fails if any rule cannot be parsed.
func New(p Policy) (*Validator, error) {
	if p.Exclude == 0 {
		p.Exclude = DefaultExclude
	}
	if p.Epsilon < 0 || math.IsNaN(p.Epsilon) {
		return nil, fmt.Errorf("validate: epsilon must be a non-negative number, got %v", p.Epsilon)
	}
	v := &Validator{policy: p}
	for _, expr := range p.Rules {
		r, err := parseRule(expr)
		if err != nil {
			return nil, err
		}
		v.rules = append(v.rules, r)
	}
	return v, nil
}

// Validate checks img/mask with the default policy.
func Validate(img *types.Image, mask *types.Mask) error {
	v, _ := New(Policy{})
	return v.Validate(img, mask)
}

// Policy returns the effective policy.
func (v *Validator) Policy() Policy { return v.policy }

// Validate returns nil when the frame is correctly normalized.
func (v *Validator) Validate(img *types.Image, mask *types.Mask) error {
	_, err := v.Check(img, mask)
	return err
}

// Check computes the frame statistics and validates them. The Report is
// filled in as far as the computation got, even when an error is returned.
func (v *Validator) Check(img *types.Image, mask *types.Mask) (Report, error) {
	res, err := stats.Compute(img, mask, v.policy.Exclude)
	rep := Report{Stats: res}
	if err != nil {
		return rep, fmt.Errorf("validate: %w", err)
	}
	if res.Median == 0 {
		return rep, fmt.Errorf("%w (mean=%g stdev=%g)", ErrZeroMedian, res.Mean, res.Stdev)
	}

	rep.Deviation = math.Abs(res.Mean/res.Median - 1.0)
	rep.Bound = res.Stdev + v.policy.Epsilon

	ok := rep.Deviation < rep.Bound
	if v.policy.Inclusive {
		ok = rep.Deviation <= rep.Bound
	}
	if !ok {
		return rep, &ToleranceError{
			Mean:      res.Mean,
			Median:    res.Median,
			Stdev:     res.Stdev,
			Deviation: rep.Deviation,
			Bound:     rep.Bound,
		}
	}

	for _, r := range v.rules {
		if err := r.eval(rep); err != nil {
			return rep, err
		}
	}

	rep.Passed = true
	return rep, nil
}
