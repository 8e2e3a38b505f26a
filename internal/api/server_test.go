package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/backtest"
	"backlab/internal/market"
	"backlab/internal/strategy"
)

type fixedSource struct{}

func (fixedSource) Name() string { return "test" }

func (fixedSource) Fetch(ctx context.Context, req market.FetchRequest) ([]market.Candle, error) {
	tf, err := market.ParseTimeframe(req.Interval)
	if err != nil {
		return nil, err
	}
	step := tf.DurationMillis()
	limit := req.Limit
	if limit <= 0 {
		limit = 1000
	}
	var out []market.Candle
	for ts := req.Start; ts <= req.End && len(out) < limit; ts += step {
		price := 100 + float64(ts/step)
		out = append(out, market.Candle{
			OpenTime: ts, CloseTime: ts + step - 1,
			Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 1,
		})
	}
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *backtest.ResultStore) {
	t.Helper()
	dir := t.TempDir()
	candles, err := market.NewStore(filepath.Join(dir, "candles"))
	require.NoError(t, err)
	t.Cleanup(func() { candles.Close() })

	strategies, err := strategy.NewStore(filepath.Join(dir, "strategies.db"))
	require.NoError(t, err)
	t.Cleanup(func() { strategies.Close() })

	results, err := backtest.NewResultStore(filepath.Join(dir, "backtests.db"))
	require.NoError(t, err)
	t.Cleanup(func() { results.Close() })

	svc, err := market.NewService(market.ServiceConfig{
		Store:           candles,
		Sources:         map[string]market.CandleSource{"test": fixedSource{}},
		DefaultExchange: "test",
		RateLimitPerMin: 60000,
	})
	require.NoError(t, err)

	hub := backtest.NewHub()
	engine := backtest.NewEngine(results, strategies, svc, hub)
	runner := backtest.NewRunner(engine, results, backtest.RunnerConfig{MaxConcurrent: 2})

	server, err := NewServer(Config{
		Strategies: strategies,
		Market:     svc,
		Results:    results,
		Runner:     runner,
		Hub:        hub,
	})
	require.NoError(t, err)
	return server, results
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func validStrategyBody(name string) map[string]any {
	return map[string]any{
		"name": name,
		"entry_rules": map[string]any{
			"indicator": "sma", "params": map[string]any{"period": 1},
			"comparator": "above", "value": 0,
		},
		"exit_rules": map[string]any{
			"indicator": "sma", "params": map[string]any{"period": 1},
			"comparator": "below", "value": 0,
		},
	}
}

func TestStrategyCRUD(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/strategies", validStrategyBody("breakout"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Strategy strategy.Strategy `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Strategy.ID)

	t.Run("get", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/api/strategies/"+created.Strategy.ID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("list", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/api/strategies", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var list struct {
			Strategies []strategy.Strategy `json:"strategies"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		assert.Len(t, list.Strategies, 1)
	})

	t.Run("update", func(t *testing.T) {
		body := validStrategyBody("breakout v2")
		rec := doJSON(t, h, http.MethodPut, "/api/strategies/"+created.Strategy.ID, body)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("invalid rule tree rejected", func(t *testing.T) {
		body := validStrategyBody("broken")
		body["entry_rules"] = map[string]any{"indicator": "sma", "comparator": "near", "value": 0}
		rec := doJSON(t, h, http.MethodPost, "/api/strategies", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodDelete, "/api/strategies/"+created.Strategy.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = doJSON(t, h, http.MethodGet, "/api/strategies/"+created.Strategy.ID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRunStartUnknownStrategy(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server.Handler(), http.MethodPost, "/api/backtests", map[string]any{
		"strategy_id":     "missing",
		"symbol":          "BTCUSDT",
		"timeframe":       "1h",
		"start":           3_600_000,
		"end":             36_000_000,
		"initial_balance": 10000,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	server, results := newTestServer(t)
	h := server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/strategies", validStrategyBody("always in"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Strategy strategy.Strategy `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Seed the candle dataset through the fetch API.
	rec = doJSON(t, h, http.MethodPost, "/api/data/fetch", map[string]any{
		"symbol":    "BTCUSDT",
		"timeframe": "1h",
		"start_ts":  3_600_000,
		"end_ts":    36_000_000,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var fetchResp struct {
		Job market.FetchJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetchResp))
	waitForFetch(t, h, fetchResp.Job.ID)

	rec = doJSON(t, h, http.MethodPost, "/api/backtests", map[string]any{
		"strategy_id":     created.Strategy.ID,
		"symbol":          "BTCUSDT",
		"timeframe":       "1h",
		"start":           3_600_000,
		"end":             36_000_000,
		"initial_balance": 10000,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var runResp struct {
		Run backtest.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runResp))

	run := waitForRun(t, results, runResp.Run.ID)
	assert.Equal(t, backtest.StatusCompleted, run.Status)

	t.Run("trades endpoint", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/api/backtests/"+run.ID+"/trades", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("report endpoint renders html", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/api/backtests/"+run.ID+"/report", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	})
}

func waitForFetch(t *testing.T, h http.Handler, jobID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, h, http.MethodGet, "/api/data/fetch/"+jobID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Job market.FetchJob `json:"job"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		switch resp.Job.Status {
		case market.JobStatusDone:
			return
		case market.JobStatusFailed, market.JobStatusPartial:
			t.Fatalf("fetch job ended %s: %s", resp.Job.Status, resp.Job.Message)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("fetch job never finished")
}

func waitForRun(t *testing.T, results *backtest.ResultStore, runID string) backtest.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := results.GetRun(context.Background(), runID)
		require.NoError(t, err)
		if backtest.Terminal(run.Status) {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run never reached a terminal status")
	return backtest.Run{}
}
