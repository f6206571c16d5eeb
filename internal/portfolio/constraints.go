package portfolio

import (
	"fmt"
	"sort"

	"github.com/openquant/crucible/internal/core"
)

// Constraints bound the target weights a strategy may request. A zero
// value for MaxWeight or MaxGross means that limit is not enforced.
type Constraints struct {
	// MaxWeight caps a single symbol's absolute weight.
	MaxWeight float64 `json:"max_weight" mapstructure:"max_weight"`
	// MaxGross caps the sum of absolute weights.
	MaxGross   float64 `json:"max_gross" mapstructure:"max_gross"`
	AllowShort bool    `json:"allow_short" mapstructure:"allow_short"`
}

// DefaultConstraints allows a fully invested long-only book without
// leverage.
func DefaultConstraints() Constraints {
	return Constraints{
		MaxWeight:  1.0,
		MaxGross:   1.0,
		AllowShort: false,
	}
}

// Validate rejects limits that cannot be satisfied.
func (c Constraints) Validate() error {
	if c.MaxWeight < 0 {
		return fmt.Errorf("max weight %f is negative", c.MaxWeight)
	}
	if c.MaxGross < 0 {
		return fmt.Errorf("max gross %f is negative", c.MaxGross)
	}
	if c.MaxWeight > 0 && c.MaxGross > 0 && c.MaxWeight > c.MaxGross {
		return fmt.Errorf("max weight %f exceeds max gross %f", c.MaxWeight, c.MaxGross)
	}
	return nil
}

// Violation records one constraint that clamped a requested weight.
// Symbol is empty for portfolio-level rules.
type Violation struct {
	Symbol string `json:"symbol,omitempty"`
	Reason string `json:"reason"`
}

// Apply clamps the requested weights to the constraints and reports
// what was clamped. The input map is never mutated. Clamping order is
// fixed: shorting, then per-symbol caps, then gross scaling, with
// symbols visited alphabetically so diagnostics are deterministic.
func (c Constraints) Apply(weights core.TargetWeights) (core.TargetWeights, []Violation) {
	symbols := make([]string, 0, len(weights))
	for sym := range weights {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	out := make(core.TargetWeights, len(weights))
	var violations []Violation

	for _, sym := range symbols {
		w := weights[sym]

		if w < 0 && !c.AllowShort {
			violations = append(violations, Violation{
				Symbol: sym,
				Reason: fmt.Sprintf("short weight %.4f with shorting disabled, clamped to 0", w),
			})
			w = 0
		}

		if c.MaxWeight > 0 && w > c.MaxWeight {
			violations = append(violations, Violation{
				Symbol: sym,
				Reason: fmt.Sprintf("weight %.4f above max %.4f, clamped", w, c.MaxWeight),
			})
			w = c.MaxWeight
		} else if c.MaxWeight > 0 && w < -c.MaxWeight {
			violations = append(violations, Violation{
				Symbol: sym,
				Reason: fmt.Sprintf("weight %.4f below -max %.4f, clamped", w, c.MaxWeight),
			})
			w = -c.MaxWeight
		}

		out[sym] = w
	}

	if gross := out.Gross(); c.MaxGross > 0 && gross > c.MaxGross {
		scale := c.MaxGross / gross
		for _, sym := range symbols {
			out[sym] *= scale
		}
		violations = append(violations, Violation{
			Reason: fmt.Sprintf("gross exposure %.4f above max %.4f, scaled by %.4f", gross, c.MaxGross, scale),
		})
	}

	return out, violations
}
