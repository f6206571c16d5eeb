// Package alert reviews finished runs against configured threshold
// rules. A rule compares one stat of the completed run to a fixed
// value; rules that trip produce findings that travel with the run's
// completion event. Findings report, they never reject a run.
package alert

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/openquant/crucible/internal/core"
)

// Severity grades a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rule is one configured check, e.g. `sharpe < 0.5` or
// `degradation > 0.10`. Expr is "stat op value" where op is one of
// >, <, >=, <=, ==, !=. Stat names match the keys the app publishes
// for each run kind (cagr, sharpe, max_drawdown, win_rate, composite,
// total_trades; walk-forward runs add degradation, mean_oos_cagr,
// std_oos_cagr, negative_oos).
type Rule struct {
	Name     string   `mapstructure:"name" json:"name"`
	Expr     string   `mapstructure:"expr" json:"expr"`
	Severity Severity `mapstructure:"severity" json:"severity"`
	Message  string   `mapstructure:"message" json:"message,omitempty"`
}

var exprPattern = regexp.MustCompile(`^(\w+)\s*(>=|<=|==|!=|>|<)\s*(-?[\d.]+)$`)

// Validate rejects rules the reviewer cannot evaluate, so a bad
// expression fails at config load rather than silently never firing.
func (r Rule) Validate() error {
	if r.Name == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("alert rule has no name"))
	}
	if _, _, _, err := r.parse(); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	switch r.Severity {
	case "", SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("alert rule %q: unknown severity %q", r.Name, r.Severity))
	}
	return nil
}

func (r Rule) parse() (stat, op string, threshold float64, err error) {
	m := exprPattern.FindStringSubmatch(strings.TrimSpace(r.Expr))
	if len(m) != 4 {
		return "", "", 0, fmt.Errorf("alert rule %q: cannot parse expr %q", r.Name, r.Expr)
	}
	threshold, err = strconv.ParseFloat(m[3], 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("alert rule %q: bad threshold in %q", r.Name, r.Expr)
	}
	return m[1], m[2], threshold, nil
}

// eval reports whether the rule trips against the stats map, along
// with the observed value. A stat the map does not carry never trips:
// a plain backtest has no degradation, and a rule about degradation
// should stay quiet for it.
func (r Rule) eval(stats map[string]float64) (fired bool, value float64) {
	stat, op, threshold, err := r.parse()
	if err != nil {
		return false, 0
	}
	value, ok := stats[stat]
	if !ok {
		return false, 0
	}
	switch op {
	case ">":
		fired = value > threshold
	case "<":
		fired = value < threshold
	case ">=":
		fired = value >= threshold
	case "<=":
		fired = value <= threshold
	case "==":
		fired = value == threshold
	case "!=":
		fired = value != threshold
	}
	return fired, value
}
