package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/openquant/crucible/internal/api/job"
	"github.com/openquant/crucible/internal/api/response"
	"github.com/openquant/crucible/internal/app"
	"github.com/openquant/crucible/internal/backtest"
	"github.com/openquant/crucible/internal/config"
	"github.com/openquant/crucible/internal/core"
	"github.com/openquant/crucible/internal/metrics"
	"github.com/openquant/crucible/internal/optimize"
	"github.com/openquant/crucible/internal/report"
	"github.com/openquant/crucible/internal/storage/results"
	"github.com/openquant/crucible/internal/walkforward"
)

// mockRunner returns canned results without touching the engine.
type mockRunner struct {
	res *backtest.Result
	rep *walkforward.Report
	evo *report.EvolutionReport
	err error
}

func (m *mockRunner) RunBacktest(ctx context.Context, spec app.RunSpec) (*backtest.Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.res, nil
}

func (m *mockRunner) RunWalkForward(ctx context.Context, spec app.RunSpec) (*walkforward.Report, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.rep, nil
}

func (m *mockRunner) RunEvolution(ctx context.Context, spec app.RunSpec) (*report.EvolutionReport, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.evo, nil
}

func completedResult(id string) *backtest.Result {
	return &backtest.Result{
		RunID:    id,
		Strategy: "macross",
		Universe: []string{"AAA"},
		State:    backtest.StateCompleted,
		Stats:    backtest.Stats{TotalReturn: 0.12, TotalTrades: 4},
	}
}

func newTestServer(t *testing.T, runner Runner, store results.Store, apiKey string) *httptest.Server {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.APIKey = apiKey
	s := NewServer(cfg, runner, store, metrics.NewRegistry(), zap.NewNop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, apiKey string, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, data
}

const validRunBody = `{
	"strategy": "macross",
	"symbols": ["AAA"],
	"timeframe": "1d",
	"start": "2024-01-01",
	"end": "2024-06-01"
}`

func submitJob(t *testing.T, ts *httptest.Server, path, body string) string {
	t.Helper()
	resp, data := doJSON(t, "POST", ts.URL+path, "", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, data)
	}
	var env struct {
		Data struct {
			JobID  string `json:"job_id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if env.Data.JobID == "" {
		t.Fatal("expected job_id in response")
	}
	if env.Data.Status != string(job.StatusPending) {
		t.Errorf("expected pending, got %s", env.Data.Status)
	}
	return env.Data.JobID
}

func waitForJob(t *testing.T, ts *httptest.Server, id string) job.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, data := doJSON(t, "GET", ts.URL+"/api/v1/jobs/"+id, "", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("job poll: %d: %s", resp.StatusCode, data)
		}
		var env struct {
			Data job.Job `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decoding job: %v", err)
		}
		if env.Data.Status == job.StatusComplete || env.Data.Status == job.StatusFailed {
			return env.Data
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return job.Job{}
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, &mockRunner{}, results.NewMemoryStore(10), "")

	resp, data := doJSON(t, "GET", ts.URL+"/healthz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(data), `"status":"ok"`) {
		t.Errorf("unexpected body %s", data)
	}
}

func TestServer_CreateBacktest(t *testing.T) {
	runner := &mockRunner{res: completedResult("run-123")}
	ts := newTestServer(t, runner, results.NewMemoryStore(10), "")

	id := submitJob(t, ts, "/api/v1/backtests", validRunBody)
	j := waitForJob(t, ts, id)

	if j.Status != job.StatusComplete {
		t.Fatalf("expected complete, got %s (%+v)", j.Status, j.Error)
	}
	if j.Progress != 100 {
		t.Errorf("expected progress 100, got %d", j.Progress)
	}
	summary, ok := j.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected summary map, got %T", j.Result)
	}
	if summary["run_id"] != "run-123" {
		t.Errorf("expected run_id run-123, got %v", summary["run_id"])
	}
	if summary["state"] != string(backtest.StateCompleted) {
		t.Errorf("expected COMPLETED, got %v", summary["state"])
	}
}

func TestServer_CreateBacktest_BadRequest(t *testing.T) {
	ts := newTestServer(t, &mockRunner{}, results.NewMemoryStore(10), "")

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"strategy": `},
		{"missing strategy", `{"symbols":["AAA"],"timeframe":"1d","start":"2024-01-01","end":"2024-06-01"}`},
		{"no symbols", `{"strategy":"macross","timeframe":"1d","start":"2024-01-01","end":"2024-06-01"}`},
		{"bad date", `{"strategy":"macross","symbols":["AAA"],"timeframe":"1d","start":"Jan 1","end":"2024-06-01"}`},
		{"inverted range", `{"strategy":"macross","symbols":["AAA"],"timeframe":"1d","start":"2024-06-01","end":"2024-01-01"}`},
		{"bad timeframe", `{"strategy":"macross","symbols":["AAA"],"timeframe":"3d","start":"2024-01-01","end":"2024-06-01"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := doJSON(t, "POST", ts.URL+"/api/v1/backtests", "", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", resp.StatusCode, data)
			}
		})
	}
}

func TestServer_JobFailure(t *testing.T) {
	runner := &mockRunner{err: core.WrapError(core.ErrNoData, errors.New("AAA 1d"))}
	ts := newTestServer(t, runner, results.NewMemoryStore(10), "")

	id := submitJob(t, ts, "/api/v1/backtests", validRunBody)
	j := waitForJob(t, ts, id)

	if j.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %s", j.Status)
	}
	if j.Error == nil || j.Error.Code != "NO_DATA" {
		t.Errorf("expected NO_DATA failure, got %+v", j.Error)
	}
}

func TestServer_CreateWalkForward(t *testing.T) {
	runner := &mockRunner{rep: &walkforward.Report{
		RunID:    "wf-1",
		Strategy: "meanrev",
		Windows:  make([]walkforward.WindowResult, 3),
	}}
	ts := newTestServer(t, runner, results.NewMemoryStore(10), "")

	id := submitJob(t, ts, "/api/v1/walkforwards", validRunBody)
	j := waitForJob(t, ts, id)

	if j.Status != job.StatusComplete {
		t.Fatalf("expected complete, got %s (%+v)", j.Status, j.Error)
	}
	summary := j.Result.(map[string]any)
	if summary["run_id"] != "wf-1" {
		t.Errorf("expected run_id wf-1, got %v", summary["run_id"])
	}
	if summary["windows"] != float64(3) {
		t.Errorf("expected 3 windows, got %v", summary["windows"])
	}
}

func TestServer_CreateEvolution(t *testing.T) {
	runner := &mockRunner{evo: &report.EvolutionReport{
		RunID: "evo-1",
		Search: optimize.Result{
			Best:        optimize.Individual{Params: optimize.ParameterSet{"fast": 12}, Fitness: 1.8},
			Generations: make([]optimize.Generation, 5),
			Evaluations: 120,
			Seed:        42,
		},
	}}
	ts := newTestServer(t, runner, results.NewMemoryStore(10), "")

	id := submitJob(t, ts, "/api/v1/evolutions", validRunBody)
	j := waitForJob(t, ts, id)

	if j.Status != job.StatusComplete {
		t.Fatalf("expected complete, got %s (%+v)", j.Status, j.Error)
	}
	summary := j.Result.(map[string]any)
	if summary["run_id"] != "evo-1" {
		t.Errorf("expected run_id evo-1, got %v", summary["run_id"])
	}
	if summary["evaluations"] != float64(120) {
		t.Errorf("expected 120 evaluations, got %v", summary["evaluations"])
	}
}

func TestServer_Auth(t *testing.T) {
	store := results.NewMemoryStore(10)
	ts := newTestServer(t, &mockRunner{}, store, "sekrit")

	// API routes demand the key.
	resp, _ := doJSON(t, "GET", ts.URL+"/api/v1/runs", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, "GET", ts.URL+"/api/v1/runs", "wrong", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong key, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, "GET", ts.URL+"/api/v1/runs", "sekrit", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with key, got %d", resp.StatusCode)
	}

	// Probe routes stay open.
	resp, _ = doJSON(t, "GET", ts.URL+"/healthz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected open healthz, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, "GET", ts.URL+"/metrics", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected open metrics, got %d", resp.StatusCode)
	}
}

func seedRun(t *testing.T, store results.Store, id string, kind results.Kind, strategy string) results.RunRecord {
	t.Helper()
	rec := results.RunRecord{
		ID:        id,
		Kind:      kind,
		Strategy:  strategy,
		Symbols:   []string{"AAA"},
		Timeframe: core.Timeframe1d,
		Start:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		State:     backtest.StateCompleted,
		Stats:     backtest.Stats{TotalReturn: 0.05},
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveRun(context.Background(), rec); err != nil {
		t.Fatalf("seeding run: %v", err)
	}
	return rec
}

func TestServer_ListRuns(t *testing.T) {
	store := results.NewMemoryStore(10)
	seedRun(t, store, "r1", results.KindBacktest, "macross")
	seedRun(t, store, "r2", results.KindBacktest, "meanrev")
	seedRun(t, store, "r3", results.KindWalkForward, "meanrev")
	ts := newTestServer(t, &mockRunner{}, store, "")

	resp, data := doJSON(t, "GET", ts.URL+"/api/v1/runs?kind=backtest", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, data)
	}
	var env struct {
		Data struct {
			Runs  []results.RunRecord `json:"runs"`
			Total int                 `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if env.Data.Total != 2 || len(env.Data.Runs) != 2 {
		t.Errorf("expected 2 backtests, got total %d, runs %d", env.Data.Total, len(env.Data.Runs))
	}

	// Pagination keeps the full total.
	resp, data = doJSON(t, "GET", ts.URL+"/api/v1/runs?kind=backtest&limit=1", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if env.Data.Total != 2 || len(env.Data.Runs) != 1 {
		t.Errorf("expected 1 of 2, got total %d, runs %d", env.Data.Total, len(env.Data.Runs))
	}

	resp, _ = doJSON(t, "GET", ts.URL+"/api/v1/runs?limit=zero", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestServer_GetRun(t *testing.T) {
	store := results.NewMemoryStore(10)
	seedRun(t, store, "r1", results.KindBacktest, "macross")
	ts := newTestServer(t, &mockRunner{}, store, "")

	resp, data := doJSON(t, "GET", ts.URL+"/api/v1/runs/r1", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var env struct {
		Data results.RunRecord `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if env.Data.ID != "r1" || env.Data.Strategy != "macross" {
		t.Errorf("unexpected record %+v", env.Data)
	}

	resp, data = doJSON(t, "GET", ts.URL+"/api/v1/runs/missing", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	var fail response.ErrorResponse
	if err := json.Unmarshal(data, &fail); err != nil {
		t.Fatalf("decoding error: %v", err)
	}
	if fail.Error.Code != "RUN_NOT_FOUND" {
		t.Errorf("expected RUN_NOT_FOUND, got %s", fail.Error.Code)
	}
}

func TestServer_RunSeries(t *testing.T) {
	store := results.NewMemoryStore(10)
	rec := seedRun(t, store, "r1", results.KindBacktest, "macross")
	nav := []core.NavSnapshot{
		{Time: rec.Start, Cash: 100000, NAV: 100000},
		{Time: rec.Start.AddDate(0, 0, 1), Cash: 50000, PositionsValue: 51000, NAV: 101000},
	}
	if err := store.SaveNAV(context.Background(), "r1", nav); err != nil {
		t.Fatalf("seeding nav: %v", err)
	}
	ts := newTestServer(t, &mockRunner{}, store, "")

	resp, data := doJSON(t, "GET", ts.URL+"/api/v1/runs/r1/nav", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var env struct {
		Data struct {
			RunID string             `json:"run_id"`
			NAV   []core.NavSnapshot `json:"nav"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(env.Data.NAV) != 2 {
		t.Errorf("expected 2 snapshots, got %d", len(env.Data.NAV))
	}

	// Stored run with no trades answers an empty list, not null.
	resp, data = doJSON(t, "GET", ts.URL+"/api/v1/runs/r1/trades", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(data), `"trades":[]`) {
		t.Errorf("expected empty trades array, got %s", data)
	}

	resp, _ = doJSON(t, "GET", ts.URL+"/api/v1/runs/missing/nav", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", resp.StatusCode)
	}
}

func TestServer_DeleteRun(t *testing.T) {
	store := results.NewMemoryStore(10)
	seedRun(t, store, "r1", results.KindBacktest, "macross")
	ts := newTestServer(t, &mockRunner{}, store, "")

	resp, _ := doJSON(t, "DELETE", ts.URL+"/api/v1/runs/r1", "", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, "GET", ts.URL+"/api/v1/runs/r1", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, "DELETE", ts.URL+"/api/v1/runs/r1", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 deleting twice, got %d", resp.StatusCode)
	}
}

func TestServer_ListJobs(t *testing.T) {
	runner := &mockRunner{res: completedResult("run-1")}
	ts := newTestServer(t, runner, results.NewMemoryStore(10), "")

	id := submitJob(t, ts, "/api/v1/backtests", validRunBody)
	waitForJob(t, ts, id)

	resp, data := doJSON(t, "GET", ts.URL+"/api/v1/jobs", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var env struct {
		Data []job.Job `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(env.Data) != 1 || env.Data[0].ID != id {
		t.Errorf("expected the submitted job, got %+v", env.Data)
	}
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, &mockRunner{}, results.NewMemoryStore(10), "")

	resp, data := doJSON(t, "GET", ts.URL+"/metrics", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(data), "go_goroutines") {
		t.Error("expected runtime metrics in exposition")
	}
}

func TestServer_MetricsDisabled(t *testing.T) {
	cfg := config.Defaults()
	s := NewServer(cfg, &mockRunner{}, results.NewMemoryStore(10), nil, zap.NewNop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	resp, _ := doJSON(t, "GET", ts.URL+"/metrics", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 when metrics disabled, got %d", resp.StatusCode)
	}
}
