package walkforward

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Aggregate is the cross-window stability profile.
type Aggregate struct {
	Windows     int                `json:"windows"`
	MeanISCAGR  float64            `json:"mean_is_cagr"`
	MeanOOSCAGR float64            `json:"mean_oos_cagr"`
	StdOOSCAGR  float64            `json:"std_oos_cagr"`
	Degradation float64            `json:"degradation"` // mean IS CAGR minus mean OOS CAGR
	ParamCV     map[string]float64 `json:"param_cv"`
	NegativeOOS int                `json:"negative_oos"`
}

// Flag marks something a reader should weigh before trusting the
// result. Flags report, they never reject.
type Flag struct {
	Window int    `json:"window"` // -1 when the flag covers the whole run
	Param  string `json:"param,omitempty"`
	Reason string `json:"reason"`
}

// aggregateWindows folds per-window results into the stability profile
// and its threshold flags. Flags come out in a fixed order: negative
// windows by index, then degradation, then parameters alphabetically.
func aggregateWindows(windows []WindowResult, th Thresholds) (Aggregate, []Flag) {
	agg := Aggregate{Windows: len(windows), ParamCV: make(map[string]float64)}
	if len(windows) == 0 {
		return agg, nil
	}

	isCAGR := make([]float64, len(windows))
	oosCAGR := make([]float64, len(windows))
	var flags []Flag
	for i, w := range windows {
		isCAGR[i] = w.TrainStats.CAGR
		oosCAGR[i] = w.Test.Stats.CAGR
		if w.Test.Stats.TotalReturn < 0 {
			agg.NegativeOOS++
			flags = append(flags, Flag{
				Window: w.Window.Index,
				Reason: fmt.Sprintf("out-of-sample return %.4f is negative", w.Test.Stats.TotalReturn),
			})
		}
	}

	agg.MeanISCAGR = stat.Mean(isCAGR, nil)
	if len(oosCAGR) < 2 {
		agg.MeanOOSCAGR = oosCAGR[0]
	} else {
		agg.MeanOOSCAGR, agg.StdOOSCAGR = stat.MeanStdDev(oosCAGR, nil)
	}
	agg.Degradation = agg.MeanISCAGR - agg.MeanOOSCAGR

	if th.MaxDegradation > 0 && agg.Degradation > th.MaxDegradation {
		flags = append(flags, Flag{
			Window: -1,
			Reason: fmt.Sprintf("in-sample edge degrades out of sample: %.4f CAGR give-back exceeds %.4f",
				agg.Degradation, th.MaxDegradation),
		})
	}

	flags = append(flags, paramStability(windows, th, agg.ParamCV)...)
	return agg, flags
}

// paramStability computes each numeric parameter's coefficient of
// variation across the window winners, std over |mean| so parameters
// centered below zero read the same as their mirror. A parameter whose
// winners average to zero has no defined CV; it is flagged and left out
// of the map, which keeps every reported value finite. Categorical
// parameters are flagged when the windows cannot agree on one value.
func paramStability(windows []WindowResult, th Thresholds, cv map[string]float64) []Flag {
	numeric := make(map[string][]float64)
	choices := make(map[string]map[string]struct{})
	for _, w := range windows {
		for name, v := range w.BestParams {
			switch x := v.(type) {
			case int:
				numeric[name] = append(numeric[name], float64(x))
			case float64:
				numeric[name] = append(numeric[name], x)
			case string:
				if choices[name] == nil {
					choices[name] = make(map[string]struct{})
				}
				choices[name][x] = struct{}{}
			}
		}
	}

	var flags []Flag
	for _, name := range sortedKeys(numeric) {
		values := numeric[name]
		var mean, std float64
		if len(values) < 2 {
			mean = values[0]
		} else {
			mean, std = stat.MeanStdDev(values, nil)
		}

		if std > 0 && math.Abs(mean) < 1e-12 {
			flags = append(flags, Flag{
				Window: -1,
				Param:  name,
				Reason: fmt.Sprintf("parameter %s winners average to zero (std %.4f): cv undefined", name, std),
			})
			continue
		}

		var c float64
		if std > 0 {
			c = std / math.Abs(mean)
		}
		cv[name] = c

		if th.MaxParamCV > 0 && c > th.MaxParamCV {
			flags = append(flags, Flag{
				Window: -1,
				Param:  name,
				Reason: fmt.Sprintf("parameter %s unstable across windows: cv %.4f exceeds %.4f", name, c, th.MaxParamCV),
			})
		}
	}

	for _, name := range sortedKeys(choices) {
		if len(choices[name]) > 1 {
			flags = append(flags, Flag{
				Window: -1,
				Param:  name,
				Reason: fmt.Sprintf("parameter %s has %d distinct winning values across windows", name, len(choices[name])),
			})
		}
	}
	return flags
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
