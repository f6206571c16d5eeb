package alert

import (
	"errors"
	"strings"
	"testing"

	"github.com/openquant/crucible/internal/core"
)

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr *core.Error
	}{
		{
			name: "valid",
			rule: Rule{Name: "low-sharpe", Expr: "sharpe < 0.5", Severity: SeverityWarning},
		},
		{
			name: "valid negative threshold",
			rule: Rule{Name: "losing", Expr: "cagr <= -0.05"},
		},
		{
			name: "spaces optional",
			rule: Rule{Name: "tight", Expr: "max_drawdown>=0.3"},
		},
		{
			name:    "missing name",
			rule:    Rule{Expr: "sharpe < 0.5"},
			wantErr: core.ErrConfigMissing,
		},
		{
			name:    "garbage expr",
			rule:    Rule{Name: "bad", Expr: "sharpe is low"},
			wantErr: core.ErrConfigInvalid,
		},
		{
			name:    "missing operator",
			rule:    Rule{Name: "bad", Expr: "sharpe 0.5"},
			wantErr: core.ErrConfigInvalid,
		},
		{
			name:    "unknown severity",
			rule:    Rule{Name: "bad", Expr: "sharpe < 0.5", Severity: "panic"},
			wantErr: core.ErrConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want code %s", err, tt.wantErr.Code)
			}
		})
	}
}

func TestRuleEval_Operators(t *testing.T) {
	stats := map[string]float64{"sharpe": 0.5}

	tests := []struct {
		expr  string
		fired bool
	}{
		{"sharpe > 0.4", true},
		{"sharpe > 0.5", false},
		{"sharpe >= 0.5", true},
		{"sharpe < 0.6", true},
		{"sharpe < 0.5", false},
		{"sharpe <= 0.5", true},
		{"sharpe == 0.5", true},
		{"sharpe != 0.5", false},
		{"sharpe != 0.4", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			r := Rule{Name: "r", Expr: tt.expr}
			fired, value := r.eval(stats)
			if fired != tt.fired {
				t.Errorf("eval(%q) fired = %v, want %v", tt.expr, fired, tt.fired)
			}
			if fired && value != 0.5 {
				t.Errorf("eval(%q) value = %v, want 0.5", tt.expr, value)
			}
		})
	}
}

func TestRuleEval_AbsentStatNeverFires(t *testing.T) {
	// A backtest publishes no degradation stat; a degradation rule
	// must stay quiet rather than fire on a zero default.
	r := Rule{Name: "degraded", Expr: "degradation > 0.0"}
	if fired, _ := r.eval(map[string]float64{"sharpe": 1.2}); fired {
		t.Fatal("rule fired on a stat the run does not publish")
	}
}

func TestReview(t *testing.T) {
	rules := []Rule{
		{Name: "low-sharpe", Expr: "sharpe < 1.0", Severity: SeverityWarning, Message: "sharpe below target"},
		{Name: "deep-dd", Expr: "max_drawdown > 0.30", Severity: SeverityCritical},
		{Name: "no-trades", Expr: "total_trades == 0"},
	}
	stats := map[string]float64{
		"sharpe":       0.4,
		"max_drawdown": 0.45,
		"total_trades": 12,
	}

	findings := Review(rules, stats)
	if len(findings) != 2 {
		t.Fatalf("got %d findings, want 2: %v", len(findings), findings)
	}

	if findings[0].Rule != "low-sharpe" || findings[0].Message != "sharpe below target" {
		t.Errorf("first finding = %+v", findings[0])
	}
	if findings[0].Value != 0.4 {
		t.Errorf("first finding value = %v, want 0.4", findings[0].Value)
	}

	// Defaults fill in for rules that configure only an expression.
	if findings[1].Severity != SeverityCritical {
		t.Errorf("second finding severity = %s", findings[1].Severity)
	}
	if !strings.Contains(findings[1].Message, "max_drawdown > 0.30") {
		t.Errorf("default message %q does not quote the expression", findings[1].Message)
	}
	if !strings.Contains(findings[1].Message, "0.4500") {
		t.Errorf("default message %q does not carry the observed value", findings[1].Message)
	}
}

func TestReview_NoRules(t *testing.T) {
	if got := Review(nil, map[string]float64{"sharpe": 0}); got != nil {
		t.Fatalf("Review(nil) = %v, want nil", got)
	}
}

func TestFindingString(t *testing.T) {
	f := Finding{Rule: "deep-dd", Severity: SeverityCritical, Value: 0.45, Message: "drawdown too deep"}
	want := "[critical] deep-dd: drawdown too deep"
	if got := f.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
