package runner

import (
	"fmt"

	"github.com/calibcheck/calibcheck/checker/internal/butler"
	"github.com/calibcheck/calibcheck/checker/internal/config"
	"github.com/calibcheck/calibcheck/checker/internal/isr"
	"github.com/calibcheck/calibcheck/checker/internal/validate"
	"github.com/calibcheck/calibcheck/pkg/types"
)

// ISRConfig maps the isr section of cfg and the constants of detector d onto
// an isr.Config.
func ISRConfig(c config.ISRConfig, d config.Detector) isr.Config {
	return isr.Config{
		DoSaturation:    c.DoSaturation,
		DoSuspect:       c.DoSuspect,
		DoSetBadRegions: c.DoSetBadRegions,
		DoOverscan:      c.DoOverscan,
		DoBias:          c.DoBias,
		DoVariance:      c.DoVariance,
		DoDark:          c.DoDark,
		DoFlat:          c.DoFlat,
		DoDefect:        c.DoDefect,

		DoLinearize:               c.DoLinearize,
		DoCrosstalk:               c.DoCrosstalk,
		DoWidenSaturationTrails:   c.DoWidenSaturationTrails,
		DoBrighterFatter:          c.DoBrighterFatter,
		DoSaturationInterpolation: c.DoSaturationInterpolation,
		DoStrayLight:              c.DoStrayLight,
		DoApplyGains:              c.DoApplyGains,
		DoFringe:                  c.DoFringe,
		DoMeasureBackground:       c.DoMeasureBackground,
		DoVignette:                c.DoVignette,
		DoAttachTransmissionCurve: c.DoAttachTransmissionCurve,

		Detector: isr.Detector{
			Gain:            d.Gain,
			ReadNoise:       d.ReadNoise,
			SaturationLevel: d.Saturation,
			SuspectLevel:    d.Suspect,
			Overscan:        isr.Section{X0: d.Overscan.X0, X1: d.Overscan.X1},
			Data:            isr.Section{X0: d.Data.X0, X1: d.Data.X1},
		},
	}
}

// Policy maps the validation section onto a validate.Policy.
func Policy(c config.ValidationConfig) (validate.Policy, error) {
	bits, err := types.PlanesBits(c.ExcludePlanes)
	if err != nil {
		return validate.Policy{}, fmt.Errorf("runner: exclude planes: %w", err)
	}
	return validate.Policy{
		Exclude:   bits,
		Inclusive: c.Inclusive,
		Epsilon:   c.Epsilon,
		Rules:     append([]string(nil), c.Rules...),
	}, nil
}

// DataIDs returns the configured datasets in file order.
func DataIDs(ds []config.Dataset) []butler.DataID {
	out := make([]butler.DataID, 0, len(ds))
	for _, d := range ds {
		out = append(out, butler.DataID{Detector: d.Detector, Exposure: d.Exposure})
	}
	return out
}
