package walkforward

import (
	"fmt"
	"time"
)

// Config shapes the window schedule and the reporting thresholds.
type Config struct {
	TrainSpan  time.Duration `json:"train_span" mapstructure:"train_span"`
	TestSpan   time.Duration `json:"test_span" mapstructure:"test_span"`
	Step       time.Duration `json:"step" mapstructure:"step"`
	MaxWindows int           `json:"max_windows" mapstructure:"max_windows"`

	// Parallel bounds how many windows optimize at once. Zero means
	// one per available CPU.
	Parallel int `json:"parallel" mapstructure:"parallel"`

	Thresholds Thresholds `json:"thresholds" mapstructure:"thresholds"`
}

// Thresholds bound what counts as a stable result. Crossing one adds
// a flag to the report; it never rejects the run, that call belongs to
// the reader.
type Thresholds struct {
	// MaxDegradation flags runs whose mean in-sample CAGR exceeds the
	// mean out-of-sample CAGR by more than this. Zero disables.
	MaxDegradation float64 `json:"max_degradation" mapstructure:"max_degradation"`
	// MaxParamCV flags parameters whose winning values vary across
	// windows with a coefficient of variation above this. Zero
	// disables.
	MaxParamCV float64 `json:"max_param_cv" mapstructure:"max_param_cv"`
}

// DefaultConfig returns a yearly-train, quarterly-test schedule.
func DefaultConfig() Config {
	return Config{
		TrainSpan:  360 * 24 * time.Hour,
		TestSpan:   90 * 24 * time.Hour,
		Step:       90 * 24 * time.Hour,
		MaxWindows: 0,
		Parallel:   0,
		Thresholds: DefaultThresholds(),
	}
}

// DefaultThresholds flags a 10-point CAGR give-back or a parameter
// wandering more than half its mean.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxDegradation: 0.10,
		MaxParamCV:     0.5,
	}
}

// Validate checks the schedule is generable.
func (c Config) Validate() error {
	if c.TrainSpan <= 0 || c.TestSpan <= 0 || c.Step <= 0 {
		return fmt.Errorf("train %v, test %v and step %v must all be positive", c.TrainSpan, c.TestSpan, c.Step)
	}
	if c.Step < c.TestSpan {
		return fmt.Errorf("step %v below test span %v would overlap test ranges", c.Step, c.TestSpan)
	}
	if c.MaxWindows < 0 {
		return fmt.Errorf("max windows %d is negative", c.MaxWindows)
	}
	if c.Parallel < 0 {
		return fmt.Errorf("parallel %d is negative", c.Parallel)
	}
	if c.Thresholds.MaxDegradation < 0 {
		return fmt.Errorf("max degradation %f is negative", c.Thresholds.MaxDegradation)
	}
	if c.Thresholds.MaxParamCV < 0 {
		return fmt.Errorf("max parameter cv %f is negative", c.Thresholds.MaxParamCV)
	}
	return nil
}
