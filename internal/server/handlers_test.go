package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThePloy1990/portfolio-assistant/internal/optimization"
	"github.com/ThePloy1990/portfolio-assistant/internal/scenario"
	"github.com/ThePloy1990/portfolio-assistant/internal/snapshot"
)

// fakeOptimizer returns a canned result or error.
type fakeOptimizer struct {
	result *optimization.Result
	err    error
}

func (f *fakeOptimizer) Optimize(ctx context.Context, req optimization.Request) (*optimization.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

func newTestServer(t *testing.T, opt Optimizer) (*Server, *snapshot.Registry) {
	srv, registry, _ := newTestStack(t, opt)
	return srv, registry
}

func newTestStack(t *testing.T, opt Optimizer) (*Server, *snapshot.Registry, *snapshot.Store) {
	t.Helper()

	durable, err := snapshot.NewFileStore(t.TempDir())
	require.NoError(t, err)

	store := snapshot.NewStore(newTestCache(t), durable, zerolog.Nop())
	srv, registry := serverOverStore(store, opt)
	return srv, registry, store
}

func newTestCache(t *testing.T) *snapshot.RedisCache {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache := snapshot.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func serverOverStore(store *snapshot.Store, opt Optimizer) (*Server, *snapshot.Registry) {
	registry := snapshot.NewRegistry(store, zerolog.Nop())
	deriver := scenario.NewDeriver(registry, zerolog.Nop())

	srv := New(Config{
		Port:     0,
		Log:      zerolog.Nop(),
		Handlers: NewHandlers(registry, deriver, opt, zerolog.Nop()),
		System:   NewSystemHandlers(map[string]Pinger{"cache": okPinger{}}, zerolog.Nop()),
		DevMode:  true,
	})
	return srv, registry
}

func apiSnapshot() map[string]interface{} {
	return map[string]interface{}{
		"meta": map[string]interface{}{
			"snapshot_id":  "",
			"timestamp":    "2025-03-01T12:00:00Z",
			"tickers":      []string{"AAPL", "MSFT", "GOOG"},
			"horizon_days": 30,
		},
		"mu": map[string]float64{"AAPL": 0.08, "MSFT": 0.06, "GOOG": 0.07},
		"sigma": map[string]map[string]float64{
			"AAPL": {"AAPL": 0.04, "MSFT": 0.01, "GOOG": 0.02},
			"MSFT": {"AAPL": 0.01, "MSFT": 0.03, "GOOG": 0.01},
			"GOOG": {"AAPL": 0.02, "MSFT": 0.01, "GOOG": 0.05},
		},
	}
}

func doJSON(t *testing.T, srv *Server, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestSaveAndGetSnapshot(t *testing.T) {
	srv, _ := newTestServer(t, &fakeOptimizer{})

	rec := doJSON(t, srv, http.MethodPost, "/api/snapshots", apiSnapshot())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		SnapshotID string `json:"snapshot_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "2025-03-01T12-00-00.000000Z", created.SnapshotID)

	rec = doJSON(t, srv, http.MethodGet, "/api/snapshots/"+created.SnapshotID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got snapshot.MarketSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.SnapshotID, got.Meta.ID)
	assert.InDelta(t, 0.08, got.Mu["AAPL"], 1e-12)
}

// brokenBackend fails every operation, standing in for an unreachable
// durable side.
type brokenBackend struct{}

func (brokenBackend) Name() string                                      { return "file" }
func (brokenBackend) Put(ctx context.Context, id string, _ []byte) error { return errors.New("disk full") }
func (brokenBackend) Get(ctx context.Context, id string) ([]byte, bool, error) {
	return nil, false, errors.New("disk full")
}
func (brokenBackend) ListIDs(ctx context.Context) ([]string, error) {
	return nil, errors.New("disk full")
}
func (brokenBackend) DeleteAll(ctx context.Context) error { return errors.New("disk full") }
func (brokenBackend) Ping(ctx context.Context) error      { return errors.New("disk full") }

func TestSaveSnapshotPartialWriteMultiStatus(t *testing.T) {
	store := snapshot.NewStore(newTestCache(t), brokenBackend{}, zerolog.Nop())
	srv, _ := serverOverStore(store, &fakeOptimizer{})

	rec := doJSON(t, srv, http.MethodPost, "/api/snapshots", apiSnapshot())
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())

	var body struct {
		SnapshotID    string `json:"snapshot_id"`
		CacheFailed   bool   `json:"cache_failed"`
		DurableFailed bool   `json:"durable_failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2025-03-01T12-00-00.000000Z", body.SnapshotID)
	assert.False(t, body.CacheFailed)
	assert.True(t, body.DurableFailed)

	// The cached side of the write still serves reads.
	rec = doJSON(t, srv, http.MethodGet, "/api/snapshots/"+body.SnapshotID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetSnapshotUnreadableRecord(t *testing.T) {
	srv, _, store := newTestStack(t, &fakeOptimizer{})

	// A record no compatibility rewrite can rescue.
	err := store.Put(context.Background(), "bad-record", []byte(`{"not_a_snapshot": true}`))
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodGet, "/api/snapshots/bad-record", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "bad-record")
}

func TestGetSnapshotNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &fakeOptimizer{})

	rec := doJSON(t, srv, http.MethodGet, "/api/snapshots/absent", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSnapshots(t *testing.T) {
	srv, _ := newTestServer(t, &fakeOptimizer{})

	require.Equal(t, http.StatusCreated, doJSON(t, srv, http.MethodPost, "/api/snapshots", apiSnapshot()).Code)

	rec := doJSON(t, srv, http.MethodGet, "/api/snapshots", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		SnapshotIDs []string `json:"snapshot_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, []string{"2025-03-01T12-00-00.000000Z"}, listed.SnapshotIDs)
}

func TestLatestSnapshotWithCutoff(t *testing.T) {
	srv, registry := newTestServer(t, &fakeOptimizer{})
	ctx := context.Background()

	for _, ts := range []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	} {
		_, err := registry.Save(ctx, &snapshot.MarketSnapshot{
			Meta: snapshot.Meta{Timestamp: ts, Tickers: []string{"AAPL"}},
			Mu:   map[string]float64{"AAPL": 0.08},
			Sigma: map[string]map[string]float64{
				"AAPL": {"AAPL": 0.04},
			},
		})
		require.NoError(t, err)
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/snapshots/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got snapshot.MarketSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2025, got.Meta.Timestamp.Year())
	assert.Equal(t, time.February, got.Meta.Timestamp.Month())

	rec = doJSON(t, srv, http.MethodGet, "/api/snapshots/latest?before=2025-01-15T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, time.January, got.Meta.Timestamp.Month())

	rec = doJSON(t, srv, http.MethodGet, "/api/snapshots/latest?before=2024-01-01T00:00:00Z", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAllRequiresConfirmation(t *testing.T) {
	srv, _ := newTestServer(t, &fakeOptimizer{})

	rec := doJSON(t, srv, http.MethodDelete, "/api/snapshots", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/snapshots?confirm=true", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeriveScenarioEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeOptimizer{})

	require.Equal(t, http.StatusCreated, doJSON(t, srv, http.MethodPost, "/api/snapshots", apiSnapshot()).Code)

	rec := doJSON(t, srv, http.MethodPost, "/api/scenarios", map[string]interface{}{
		"base_snapshot_id": "2025-03-01T12-00-00.000000Z",
		"deltas": []map[string]interface{}{
			{"ticker": "AAPL", "delta": 0.02},
			{"ticker": "TSLA", "delta": 0.01},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var derived struct {
		SnapshotID     string   `json:"snapshot_id"`
		SkippedTickers []string `json:"skipped_tickers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &derived))
	assert.Contains(t, derived.SnapshotID, "-scn-")
	assert.Equal(t, []string{"TSLA"}, derived.SkippedTickers)
}

func TestDeriveScenarioMissingBase(t *testing.T) {
	srv, _ := newTestServer(t, &fakeOptimizer{})

	rec := doJSON(t, srv, http.MethodPost, "/api/scenarios", map[string]interface{}{
		"base_snapshot_id": "absent",
		"deltas":           []map[string]interface{}{{"ticker": "AAPL", "delta": 0.02}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOptimizeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeOptimizer{
		result: &optimization.Result{
			SnapshotID:     "snap",
			Strategy:       "max_sharpe",
			Weights:        map[string]float64{"AAPL": 0.6, "MSFT": 0.4},
			ExpectedReturn: 0.07,
			Risk:           0.15,
			Sharpe:         0.43,
		},
	})

	rec := doJSON(t, srv, http.MethodPost, "/api/optimize", map[string]interface{}{
		"strategy": "max_sharpe",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Weights map[string]float64 `json:"weights"`
		Sharpe  float64            `json:"sharpe"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.InDelta(t, 0.6, res.Weights["AAPL"], 1e-12)
	assert.InDelta(t, 0.43, res.Sharpe, 1e-12)
}

func TestOptimizeInsufficientUniverse(t *testing.T) {
	srv, _ := newTestServer(t, &fakeOptimizer{
		err: &optimization.InsufficientUniverseError{Available: []string{"A", "B"}, Required: 3},
	})

	rec := doJSON(t, srv, http.MethodPost, "/api/optimize", map[string]interface{}{
		"strategy": "max_sharpe",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var res struct {
		AvailableTickers []string `json:"available_tickers"`
		Required         int      `json:"required"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, []string{"A", "B"}, res.AvailableTickers)
	assert.Equal(t, 3, res.Required)
}

func TestOptimizeRequiresStrategy(t *testing.T) {
	srv, _ := newTestServer(t, &fakeOptimizer{})

	rec := doJSON(t, srv, http.MethodPost, "/api/optimize", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeOptimizer{})

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t, &fakeOptimizer{})

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
