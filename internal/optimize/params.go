package optimize

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/openquant/crucible/internal/strategy"
)

// ParameterSet is one concrete assignment of values to tunable
// parameters: a genome. Integer genes are stored as int, continuous as
// float64 and categorical as string, so a set can be handed straight
// to a strategy factory.
type ParameterSet map[string]any

// Clone returns an independent copy. Genetic operators never mutate a
// parent in place.
func (ps ParameterSet) Clone() ParameterSet {
	out := make(ParameterSet, len(ps))
	for k, v := range ps {
		out[k] = v
	}
	return out
}

// validateSpace checks every declared parameter is usable for search.
func validateSpace(space []strategy.Param) error {
	if len(space) == 0 {
		return fmt.Errorf("no tunable parameters declared")
	}
	seen := make(map[string]struct{}, len(space))
	for _, p := range space {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate parameter %s", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// randomSet samples one genome uniformly at random within bounds. The
// space slice fixes the gene order, so a given rng state always yields
// the same set.
func randomSet(rng *rand.Rand, space []strategy.Param) ParameterSet {
	set := make(ParameterSet, len(space))
	for _, p := range space {
		switch p.Kind {
		case strategy.KindInteger:
			lo, hi := int(p.Min), int(p.Max)
			set[p.Name] = lo + rng.Intn(hi-lo+1)
		case strategy.KindContinuous:
			set[p.Name] = p.Min + rng.Float64()*(p.Max-p.Min)
		case strategy.KindCategorical:
			set[p.Name] = p.Choices[rng.Intn(len(p.Choices))]
		}
	}
	return set
}

// crossover blends two parents into one child: numeric genes average,
// categorical genes pick one parent at random. Parents are read only.
func crossover(rng *rand.Rand, space []strategy.Param, a, b ParameterSet) ParameterSet {
	child := make(ParameterSet, len(space))
	for _, p := range space {
		switch p.Kind {
		case strategy.KindInteger:
			av := strategy.IntParam(a, p.Name, int(p.Min))
			bv := strategy.IntParam(b, p.Name, int(p.Min))
			child[p.Name] = clampInt(int(math.Round(float64(av+bv)/2)), int(p.Min), int(p.Max))
		case strategy.KindContinuous:
			av := strategy.FloatParam(a, p.Name, p.Min)
			bv := strategy.FloatParam(b, p.Name, p.Min)
			child[p.Name] = clampFloat((av+bv)/2, p.Min, p.Max)
		case strategy.KindCategorical:
			if rng.Float64() < 0.5 {
				child[p.Name] = a[p.Name]
			} else {
				child[p.Name] = b[p.Name]
			}
		}
	}
	return child
}

// mutate perturbs each gene with probability rate. Numeric genes move
// by a random step bounded by strength times the gene's range, then
// clamp back into bounds; integer steps that round to zero become a
// unit step so small ranges still move. Categorical genes resample
// uniformly.
func mutate(rng *rand.Rand, space []strategy.Param, set ParameterSet, rate, strength float64) ParameterSet {
	out := set.Clone()
	for _, p := range space {
		if rng.Float64() >= rate {
			continue
		}
		switch p.Kind {
		case strategy.KindInteger:
			step := math.Round((rng.Float64()*2 - 1) * strength * (p.Max - p.Min))
			if step == 0 {
				if rng.Float64() < 0.5 {
					step = 1
				} else {
					step = -1
				}
			}
			v := strategy.IntParam(out, p.Name, int(p.Min)) + int(step)
			out[p.Name] = clampInt(v, int(p.Min), int(p.Max))
		case strategy.KindContinuous:
			v := strategy.FloatParam(out, p.Name, p.Min) + (rng.Float64()*2-1)*strength*(p.Max-p.Min)
			out[p.Name] = clampFloat(v, p.Min, p.Max)
		case strategy.KindCategorical:
			out[p.Name] = p.Choices[rng.Intn(len(p.Choices))]
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
