package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ThePloy1990/portfolio-assistant/internal/optimization"
	"github.com/ThePloy1990/portfolio-assistant/internal/scenario"
	"github.com/ThePloy1990/portfolio-assistant/internal/snapshot"
)

// Registry is the snapshot surface the handlers need.
type Registry interface {
	Save(ctx context.Context, snap *snapshot.MarketSnapshot) (string, error)
	Load(ctx context.Context, id string) (*snapshot.MarketSnapshot, error)
	Latest(ctx context.Context, before *time.Time) (*snapshot.MarketSnapshot, error)
	ListIDs(ctx context.Context) ([]string, error)
	DeleteAllDangerously(ctx context.Context) error
}

// Deriver is the scenario surface the handlers need.
type Deriver interface {
	Derive(ctx context.Context, baseID string, deltas []scenario.Delta) (*scenario.Result, error)
}

// Optimizer is the engine surface the handlers need.
type Optimizer interface {
	Optimize(ctx context.Context, req optimization.Request) (*optimization.Result, error)
}

// Handlers handles HTTP requests for snapshots, scenarios and optimization.
type Handlers struct {
	registry  Registry
	deriver   Deriver
	optimizer Optimizer
	log       zerolog.Logger
}

// NewHandlers creates the API handlers.
func NewHandlers(registry Registry, deriver Deriver, optimizer Optimizer, log zerolog.Logger) *Handlers {
	return &Handlers{
		registry:  registry,
		deriver:   deriver,
		optimizer: optimizer,
		log:       log.With().Str("component", "api_handlers").Logger(),
	}
}

// HandleSaveSnapshot handles POST /api/snapshots - persists a snapshot and
// returns its assigned id. A partial dual-write failure still returns the id
// together with which backend needs repair.
func (h *Handlers) HandleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap snapshot.MarketSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid snapshot payload: "+err.Error())
		return
	}

	id, err := h.registry.Save(r.Context(), &snap)
	if err != nil {
		var dual *snapshot.DualWriteError
		if errors.As(err, &dual) {
			h.writeJSON(w, http.StatusMultiStatus, map[string]interface{}{
				"snapshot_id":    id,
				"cache_failed":   dual.CacheFailed(),
				"durable_failed": dual.DurableFailed(),
				"error":          dual.Error(),
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"snapshot_id": id})
}

// HandleListSnapshots handles GET /api/snapshots - lists all snapshot ids.
func (h *Handlers) HandleListSnapshots(w http.ResponseWriter, r *http.Request) {
	ids, err := h.registry.ListIDs(r.Context())
	if err != nil {
		h.writeBackendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"snapshot_ids": ids})
}

// HandleLatestSnapshot handles GET /api/snapshots/latest?before=RFC3339.
func (h *Handlers) HandleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	var before *time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid 'before' timestamp, want RFC3339")
			return
		}
		before = &t
	}

	snap, err := h.registry.Latest(r.Context(), before)
	if err != nil {
		h.writeBackendError(w, err)
		return
	}
	if snap == nil {
		h.writeError(w, http.StatusNotFound, "no snapshot available")
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// HandleGetSnapshot handles GET /api/snapshots/{id}.
func (h *Handlers) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := h.registry.Load(r.Context(), id)
	if err != nil {
		h.writeSnapshotError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// HandleDeleteAllSnapshots handles DELETE /api/snapshots?confirm=true.
func (h *Handlers) HandleDeleteAllSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		h.writeError(w, http.StatusBadRequest, "destructive operation requires confirm=true")
		return
	}
	if err := h.registry.DeleteAllDangerously(r.Context()); err != nil {
		h.writeBackendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

type scenarioRequest struct {
	BaseSnapshotID string           `json:"base_snapshot_id"`
	Deltas         []scenario.Delta `json:"deltas"`
}

// HandleDeriveScenario handles POST /api/scenarios.
func (h *Handlers) HandleDeriveScenario(w http.ResponseWriter, r *http.Request) {
	var req scenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid scenario payload: "+err.Error())
		return
	}
	if req.BaseSnapshotID == "" {
		h.writeError(w, http.StatusBadRequest, "base_snapshot_id is required")
		return
	}

	res, err := h.deriver.Derive(r.Context(), req.BaseSnapshotID, req.Deltas)
	if err != nil {
		h.writeSnapshotError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"snapshot_id":     res.SnapshotID,
		"skipped_tickers": res.SkippedTickers,
	})
}

type optimizeRequest struct {
	SnapshotID   string   `json:"snapshot_id"`
	Tickers      []string `json:"tickers"`
	Strategy     string   `json:"strategy"`
	MinWeight    float64  `json:"min_weight"`
	MaxWeight    float64  `json:"max_weight"`
	RiskFreeRate float64  `json:"risk_free_rate"`
	TargetReturn *float64 `json:"target_return"`
	RiskAversion float64  `json:"risk_aversion"`
	Tau          float64  `json:"tau"`
	LookbackDays int      `json:"lookback_days"`
}

// HandleOptimize handles POST /api/optimize.
func (h *Handlers) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid optimize payload: "+err.Error())
		return
	}
	if req.Strategy == "" {
		h.writeError(w, http.StatusBadRequest, "strategy is required")
		return
	}

	res, err := h.optimizer.Optimize(r.Context(), optimization.Request{
		SnapshotID: req.SnapshotID,
		Tickers:    req.Tickers,
		Strategy:   req.Strategy,
		Params: optimization.Params{
			MinWeight:    req.MinWeight,
			MaxWeight:    req.MaxWeight,
			RiskFreeRate: req.RiskFreeRate,
			TargetReturn: req.TargetReturn,
			RiskAversion: req.RiskAversion,
			Tau:          req.Tau,
			LookbackDays: req.LookbackDays,
		},
	})
	if err != nil {
		h.writeOptimizeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot_id":     res.SnapshotID,
		"strategy":        res.Strategy,
		"weights":         res.Weights,
		"expected_return": res.ExpectedReturn,
		"risk":            res.Risk,
		"sharpe":          res.Sharpe,
		"fallback":        res.Fallback,
		"warnings":        res.Warnings,
	})
}

// Error mapping

func (h *Handlers) writeSnapshotError(w http.ResponseWriter, err error) {
	var schemaErr *snapshot.SchemaError
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "snapshot not found")
	case errors.As(err, &schemaErr):
		h.writeError(w, http.StatusUnprocessableEntity, schemaErr.Error())
	default:
		h.writeBackendError(w, err)
	}
}

func (h *Handlers) writeOptimizeError(w http.ResponseWriter, err error) {
	var universeErr *optimization.InsufficientUniverseError
	switch {
	case errors.As(err, &universeErr):
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":             universeErr.Error(),
			"available_tickers": universeErr.Available,
			"required":          universeErr.Required,
		})
	case errors.Is(err, optimization.ErrInsufficientHistory):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.writeSnapshotError(w, err)
	}
}

func (h *Handlers) writeBackendError(w http.ResponseWriter, err error) {
	var backendErr *snapshot.BackendError
	if errors.As(err, &backendErr) {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":   backendErr.Error(),
			"backend": backendErr.Backend,
			"op":      string(backendErr.Op),
		})
		return
	}
	h.writeError(w, http.StatusInternalServerError, err.Error())
}

// HTTP helpers

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": message,
	})
}
