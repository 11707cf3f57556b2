package validate

import (
	"fmt"
	"strconv"
	"strings"
)

// RuleError reports a Policy rule that did not hold.
type RuleError struct {
	Rule  string
	Value float64
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("validate: rule %q failed (value %g)", e.Rule, e.Value)
}

// Unwrap lets errors.Is match ErrRuleViolated.
func (e *RuleError) Unwrap() error { return ErrRuleViolated }

// rule is a parsed "field op value" condition.
//
// Supported fields:
//
//	mean, median, stdev, deviation
//	pixels            usable pixel count
//	masked            excluded pixel count
//	masked_fraction   masked / total, 0..1
type rule struct {
	expr      string
	field     string
	op        string
	threshold float64
}

func parseRule(expr string) (rule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return rule{}, fmt.Errorf("validate: rule %q: want \"field op value\"", expr)
	}
	r := rule{expr: expr, field: parts[0], op: parts[1]}
	if _, ok := fieldValue(r.field, Report{}); !ok {
		return rule{}, fmt.Errorf("validate: rule %q: unknown field %q", expr, r.field)
	}
	switch r.op {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return rule{}, fmt.Errorf("validate: rule %q: unknown operator %q", expr, r.op)
	}
	v, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return rule{}, fmt.Errorf("validate: rule %q: %w", expr, err)
	}
	r.threshold = v
	return r, nil
}

func (r rule) eval(rep Report) error {
	v, _ := fieldValue(r.field, rep)
	if compareFloat(v, r.op, r.threshold) {
		return nil
	}
	return &RuleError{Rule: r.expr, Value: v}
}

// fieldValue maps a field name to its value in the report.
func fieldValue(field string, rep Report) (float64, bool) {
	switch field {
	case "mean":
		return rep.Stats.Mean, true
	case "median":
		return rep.Stats.Median, true
	case "stdev":
		return rep.Stats.Stdev, true
	case "deviation":
		return rep.Deviation, true
	case "pixels":
		return float64(rep.Stats.N), true
	case "masked":
		return float64(rep.Stats.Masked), true
	case "masked_fraction":
		return rep.Stats.MaskedFraction(), true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
