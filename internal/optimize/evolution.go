// Package optimize searches bounded strategy parameter spaces with a
// genetic algorithm. Fitness evaluations run in parallel, one
// independent backtest per candidate; everything random happens on a
// single seeded generator between evaluations, so a search with the
// same seed and the same data reproduces exactly.
package optimize

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/strategy"
)

// fitness assigned to candidates whose backtest failed
var sentinelFitness = math.Inf(-1)

// Evaluator scores one genome. Implementations must be safe for
// concurrent calls and deterministic: the same parameters on the same
// data always yield the same fitness.
type Evaluator interface {
	Evaluate(ctx context.Context, genome ParameterSet) (float64, error)
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, genome ParameterSet) (float64, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, genome ParameterSet) (float64, error) {
	return f(ctx, genome)
}

// Config tunes the evolutionary search.
type Config struct {
	Population       int     `json:"population" mapstructure:"population"`
	Generations      int     `json:"generations" mapstructure:"generations"`
	CrossoverRate    float64 `json:"crossover_rate" mapstructure:"crossover_rate"`
	MutationRate     float64 `json:"mutation_rate" mapstructure:"mutation_rate"`
	MutationStrength float64 `json:"mutation_strength" mapstructure:"mutation_strength"`
	TournamentSize   int     `json:"tournament_size" mapstructure:"tournament_size"`
	ElitismCount     int     `json:"elitism_count" mapstructure:"elitism_count"`

	// Patience stops the search after this many generations without a
	// new best. Zero disables early stopping.
	Patience int `json:"patience" mapstructure:"patience"`

	// Workers bounds concurrent fitness evaluations. Zero means one
	// per available CPU.
	Workers int `json:"workers" mapstructure:"workers"`

	Seed int64 `json:"seed" mapstructure:"seed"`
}

// DefaultConfig returns the search settings used when none are given.
func DefaultConfig() Config {
	return Config{
		Population:       40,
		Generations:      30,
		CrossoverRate:    0.9,
		MutationRate:     0.15,
		MutationStrength: 0.3,
		TournamentSize:   3,
		ElitismCount:     2,
		Patience:         8,
		Workers:          0,
		Seed:             42,
	}
}

// Validate checks the search settings.
func (c Config) Validate() error {
	if c.Population < 2 {
		return fmt.Errorf("population must be at least 2, got %d", c.Population)
	}
	if c.Generations < 1 {
		return fmt.Errorf("generations must be at least 1, got %d", c.Generations)
	}
	if c.CrossoverRate < 0 || c.CrossoverRate > 1 {
		return fmt.Errorf("crossover_rate must be in [0, 1], got %f", c.CrossoverRate)
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		return fmt.Errorf("mutation_rate must be in [0, 1], got %f", c.MutationRate)
	}
	if c.MutationStrength < 0 {
		return fmt.Errorf("mutation_strength must be non-negative, got %f", c.MutationStrength)
	}
	if c.TournamentSize < 1 {
		return fmt.Errorf("tournament_size must be at least 1, got %d", c.TournamentSize)
	}
	if c.ElitismCount < 0 || c.ElitismCount >= c.Population {
		return fmt.Errorf("elitism_count must be in [0, population), got %d", c.ElitismCount)
	}
	if c.Patience < 0 {
		return fmt.Errorf("patience must be non-negative, got %d", c.Patience)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	return nil
}

// Individual is one evaluated genome.
type Individual struct {
	Params  ParameterSet `json:"params"`
	Fitness float64      `json:"fitness"`
}

// Generation summarizes one evaluated generation. Best, Mean, and
// Worst cover only the candidates that evaluated; Failures counts the
// rest. When every candidate failed all three are -Inf.
type Generation struct {
	Index    int     `json:"index"`
	Best     float64 `json:"best"`
	Mean     float64 `json:"mean"`
	Worst    float64 `json:"worst"`
	Failures int     `json:"failures"`
}

// Result is the outcome of a search: the best individual ever
// observed, which is not necessarily in the final generation.
type Result struct {
	Best        Individual    `json:"best"`
	Generations []Generation  `json:"generations"`
	Evaluations int           `json:"evaluations"`
	Seed        int64         `json:"seed"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Optimizer evolves a population of genomes against an Evaluator.
type Optimizer struct {
	cfg    Config
	space  []strategy.Param
	eval   Evaluator
	logger *zap.Logger
	rng    *rand.Rand
}

// NewOptimizer validates the configuration and the parameter space.
func NewOptimizer(cfg Config, space []strategy.Param, eval Evaluator, logger *zap.Logger) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}
	if err := validateSpace(space); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}
	if eval == nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("nil evaluator"))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		cfg:    cfg,
		space:  space,
		eval:   eval,
		logger: logger,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Run evolves the population and returns the best individual ever
// seen. Cancellation is honored between generations; a generation in
// flight drains its evaluations first. When every candidate in every
// generation failed there is no winner to return and the search errors.
func (o *Optimizer) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	res := &Result{Seed: o.cfg.Seed}

	o.logger.Info("evolutionary search started",
		zap.Int("population", o.cfg.Population),
		zap.Int("generations", o.cfg.Generations),
		zap.Int("parameters", len(o.space)),
		zap.Int64("seed", o.cfg.Seed))

	population := make([]ParameterSet, o.cfg.Population)
	for i := range population {
		population[i] = randomSet(o.rng, o.space)
	}

	best := Individual{Fitness: sentinelFitness}
	stale := 0

	for gen := 0; gen < o.cfg.Generations; gen++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		evaluated, failures := o.evaluatePopulation(ctx, population)
		res.Evaluations += len(evaluated)

		sort.SliceStable(evaluated, func(i, j int) bool {
			return evaluated[i].Fitness > evaluated[j].Fitness
		})

		if evaluated[0].Fitness > best.Fitness {
			best = Individual{Params: evaluated[0].Params.Clone(), Fitness: evaluated[0].Fitness}
			stale = 0
		} else {
			stale++
		}

		g := summarize(gen, evaluated, failures)
		res.Generations = append(res.Generations, g)
		o.logger.Info("generation complete",
			zap.Int("generation", gen+1),
			zap.Float64("best", g.Best),
			zap.Float64("mean", g.Mean),
			zap.Float64("worst", g.Worst),
			zap.Int("failures", failures))

		if o.cfg.Patience > 0 && stale >= o.cfg.Patience {
			o.logger.Info("stopping early",
				zap.Int("generation", gen+1),
				zap.Int("stale_generations", stale))
			break
		}
		if gen == o.cfg.Generations-1 {
			break
		}

		population = o.nextGeneration(evaluated)
	}

	if math.IsInf(best.Fitness, -1) {
		return nil, core.WrapError(core.ErrRunFailed,
			fmt.Errorf("every candidate failed evaluation across %d generations", len(res.Generations)))
	}

	res.Best = best
	res.Elapsed = time.Since(started)

	o.logger.Info("evolutionary search complete",
		zap.Float64("best_fitness", best.Fitness),
		zap.Int("evaluations", res.Evaluations),
		zap.Int("generations", len(res.Generations)),
		zap.Duration("elapsed", res.Elapsed))

	return res, nil
}

// evaluatePopulation scores every genome, bounded by the worker
// budget. A failed backtest gets the sentinel fitness and a warning,
// never aborts the generation. Results land by index, so the outcome
// is independent of scheduling.
func (o *Optimizer) evaluatePopulation(ctx context.Context, population []ParameterSet) ([]Individual, int) {
	individuals := make([]Individual, len(population))

	workers := o.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range population {
		g.Go(func() error {
			fit, err := o.eval.Evaluate(gctx, population[i])
			if err != nil || math.IsNaN(fit) {
				if err != nil {
					o.logger.Warn("candidate failed",
						zap.Any("params", population[i]),
						zap.Error(err))
				}
				individuals[i] = Individual{Params: population[i], Fitness: sentinelFitness}
				return nil
			}
			individuals[i] = Individual{Params: population[i], Fitness: fit}
			return nil
		})
	}
	_ = g.Wait()

	failures := 0
	for _, ind := range individuals {
		if math.IsInf(ind.Fitness, -1) {
			failures++
		}
	}
	return individuals, failures
}

// nextGeneration keeps the elite and fills the rest from tournament
// parents through crossover and mutation.
func (o *Optimizer) nextGeneration(sorted []Individual) []ParameterSet {
	next := make([]ParameterSet, 0, o.cfg.Population)
	for i := 0; i < o.cfg.ElitismCount; i++ {
		next = append(next, sorted[i].Params.Clone())
	}

	for len(next) < o.cfg.Population {
		parent := o.tournament(sorted)
		var child ParameterSet
		if o.rng.Float64() < o.cfg.CrossoverRate {
			child = crossover(o.rng, o.space, parent.Params, o.tournament(sorted).Params)
		} else {
			child = parent.Params.Clone()
		}
		next = append(next, mutate(o.rng, o.space, child, o.cfg.MutationRate, o.cfg.MutationStrength))
	}
	return next
}

// tournament picks the fittest of k uniformly drawn individuals.
func (o *Optimizer) tournament(sorted []Individual) Individual {
	best := sorted[o.rng.Intn(len(sorted))]
	for i := 1; i < o.cfg.TournamentSize; i++ {
		contestant := sorted[o.rng.Intn(len(sorted))]
		if contestant.Fitness > best.Fitness {
			best = contestant
		}
	}
	return best
}

// summarize compresses a fitness-sorted generation into its
// diagnostic row.
func summarize(index int, sorted []Individual, failures int) Generation {
	g := Generation{
		Index:    index,
		Best:     sorted[0].Fitness,
		Failures: failures,
	}
	scores := make([]float64, 0, len(sorted))
	for _, ind := range sorted {
		if !math.IsInf(ind.Fitness, -1) {
			scores = append(scores, ind.Fitness)
		}
	}
	if len(scores) == 0 {
		g.Mean = sentinelFitness
		g.Worst = sentinelFitness
		return g
	}
	g.Mean = stat.Mean(scores, nil)
	g.Worst = scores[len(scores)-1]
	return g
}
