package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("expected non-nil registry")
	}
}

func TestRegistry_RecordRequest(t *testing.T) {
	reg := NewRegistry()

	reg.RecordRequest("GET", "/api/v1/runs", 200, 0.05)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() == "http_requests_total" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected http_requests_total metric")
	}
}

func TestRegistry_RecordRequest_StatusCodes(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			reg := NewRegistry()
			reg.RecordRequest("GET", "/test", tt.status, 0.01)

			mfs, err := reg.Gather()
			if err != nil {
				t.Fatalf("gather failed: %v", err)
			}

			found := false
			for _, mf := range mfs {
				if mf.GetName() == "http_requests_total" {
					for _, m := range mf.GetMetric() {
						for _, label := range m.GetLabel() {
							if label.GetName() == "status" && label.GetValue() == tt.expected {
								found = true
							}
						}
					}
				}
			}
			if !found {
				t.Errorf("expected status label %s for status code %d", tt.expected, tt.status)
			}
		})
	}
}

func TestRegistry_InFlight(t *testing.T) {
	reg := NewRegistry()

	reg.InFlightInc()
	reg.InFlightInc()
	reg.InFlightDec()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() == "http_requests_in_flight" {
			found = true
			for _, m := range mf.GetMetric() {
				if m.GetGauge().GetValue() != 1 {
					t.Errorf("expected in-flight gauge to be 1, got %v", m.GetGauge().GetValue())
				}
			}
		}
	}
	if !found {
		t.Error("expected http_requests_in_flight metric")
	}
}

func TestRegistry_RecordBacktest(t *testing.T) {
	reg := NewRegistry()

	reg.RecordBacktest("completed", 1.5)
	reg.RecordBacktest("completed", 0.5)
	reg.RecordBacktest("failed", 0.1)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	var total float64
	var histCount uint64
	for _, mf := range mfs {
		switch mf.GetName() {
		case "crucible_backtests_total":
			for _, m := range mf.GetMetric() {
				total += m.GetCounter().GetValue()
			}
		case "crucible_backtest_duration_seconds":
			for _, m := range mf.GetMetric() {
				histCount = m.GetHistogram().GetSampleCount()
			}
		}
	}
	if total != 3 {
		t.Errorf("expected 3 backtests recorded, got %v", total)
	}
	if histCount != 3 {
		t.Errorf("expected 3 duration samples, got %d", histCount)
	}
}

func TestRegistry_RecordEvolution(t *testing.T) {
	reg := NewRegistry()

	reg.RecordEvolution(30, 1200)
	reg.RecordEvolution(12, 480)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	values := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			values[mf.GetName()] = m.GetCounter().GetValue()
		}
	}
	if values["crucible_evolution_generations_total"] != 42 {
		t.Errorf("expected 42 generations, got %v", values["crucible_evolution_generations_total"])
	}
	if values["crucible_evolution_evaluations_total"] != 1680 {
		t.Errorf("expected 1680 evaluations, got %v", values["crucible_evolution_evaluations_total"])
	}
}

func TestRegistry_JobsActive(t *testing.T) {
	reg := NewRegistry()

	reg.SetJobsActive("backtest", 3)
	reg.SetJobsActive("backtest", 1)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	for _, mf := range mfs {
		if mf.GetName() == "crucible_jobs_active" {
			for _, m := range mf.GetMetric() {
				if m.GetGauge().GetValue() != 1 {
					t.Errorf("expected gauge 1, got %v", m.GetGauge().GetValue())
				}
			}
		}
	}
}

func TestRegistry_NilSafe(t *testing.T) {
	var reg *Registry

	// None of these may panic on a nil registry.
	reg.RecordRequest("GET", "/", 200, 0.01)
	reg.InFlightInc()
	reg.InFlightDec()
	reg.RecordBacktest("completed", 1)
	reg.RecordEvolution(1, 40)
	reg.RecordWindows(4)
	reg.SetJobsActive("backtest", 1)
}

// Ensure the registry implements prometheus.Gatherer interface
func TestRegistry_ImplementsGatherer(t *testing.T) {
	reg := NewRegistry()
	var _ prometheus.Gatherer = reg
}
