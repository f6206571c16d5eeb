package alert

import "fmt"

// Finding is one tripped rule for one run.
type Finding struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Value    float64  `json:"value"`
	Message  string   `json:"message"`
}

// String renders the finding the way it appears in logs and events.
func (f Finding) String() string {
	return fmt.Sprintf("[%s] %s: %s", f.Severity, f.Rule, f.Message)
}

// Review evaluates every rule against a finished run's stats and
// returns the findings in rule order. Rules whose expressions fail to
// parse are skipped; Validate at config load is the place that rejects
// them.
func Review(rules []Rule, stats map[string]float64) []Finding {
	var findings []Finding
	for _, r := range rules {
		fired, value := r.eval(stats)
		if !fired {
			continue
		}
		f := Finding{
			Rule:     r.Name,
			Severity: r.Severity,
			Value:    value,
			Message:  r.Message,
		}
		if f.Severity == "" {
			f.Severity = SeverityWarning
		}
		if f.Message == "" {
			f.Message = fmt.Sprintf("%s (observed %.4f)", r.Expr, value)
		}
		findings = append(findings, f)
	}
	return findings
}
