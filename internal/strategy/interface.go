package strategy

import (
	"fmt"

	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/timeline"
)

// Strategy maps a decision context to target portfolio weights. A
// strategy may carry internal state across calls (entry tracking and the
// like) but that state must be derivable solely from contexts it has
// already seen; the executor calls Evaluate exactly once per eligible
// timestamp, in order, never skipping or replaying.
//
// Weights are fractions of the strategy's budget; symbols absent from
// the result are implicitly zero.
type Strategy interface {
	Name() string
	Universe() []string
	RequiredLookback() int

	// Tunables declares the bounded parameters the optimizer may search.
	// A strategy with nothing to tune returns nil.
	Tunables() []Param

	Evaluate(ctx *timeline.Context) (core.TargetWeights, error)
}

// ParamKind is the type of a tunable parameter.
type ParamKind string

const (
	KindContinuous  ParamKind = "continuous"
	KindInteger     ParamKind = "integer"
	KindCategorical ParamKind = "categorical"
)

// Param declares one tunable parameter with its bounds. Continuous and
// integer parameters use [Min, Max]; categorical parameters enumerate
// Choices.
type Param struct {
	Name    string    `json:"name"`
	Kind    ParamKind `json:"kind"`
	Min     float64   `json:"min,omitempty"`
	Max     float64   `json:"max,omitempty"`
	Choices []string  `json:"choices,omitempty"`
	Default any       `json:"default,omitempty"`
}

// Validate checks the declaration is usable by the optimizer.
func (p Param) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("param has empty name")
	}
	switch p.Kind {
	case KindContinuous, KindInteger:
		if p.Max < p.Min {
			return fmt.Errorf("param %s: max %f below min %f", p.Name, p.Max, p.Min)
		}
	case KindCategorical:
		if len(p.Choices) == 0 {
			return fmt.Errorf("param %s: categorical with no choices", p.Name)
		}
	default:
		return fmt.Errorf("param %s: unknown kind %q", p.Name, p.Kind)
	}
	return nil
}

// IntParam reads an integer from a parameter map, tolerating the float64
// values that config files and the optimizer both produce.
func IntParam(params map[string]any, name string, def int) int {
	v, ok := params[name]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

// FloatParam reads a float from a parameter map.
func FloatParam(params map[string]any, name string, def float64) float64 {
	v, ok := params[name]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return def
	}
}

// StringParam reads a string from a parameter map.
func StringParam(params map[string]any, name, def string) string {
	if v, ok := params[name].(string); ok && v != "" {
		return v
	}
	return def
}
