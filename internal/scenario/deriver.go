// Package scenario derives hypothetical market snapshots from stored ones by
// applying expected-return shocks, producing immutable forks with
// deterministic, content-addressed ids.
package scenario

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ThePloy1990/portfolio-assistant/internal/snapshot"
)

const (
	// scenarioIDSep joins the base snapshot id with the scenario hash.
	// Chaining scenarios replaces the suffix instead of stacking it, so a
	// scenario-of-a-scenario keeps a single-level id.
	scenarioIDSep = "-scn-"

	// SourceScenario marks derived snapshots in their metadata.
	SourceScenario = "scenario_adjustment"

	hashLen = 8
)

// Delta is one expected-return shock: an additive adjustment, in the same
// units as mu, for a single ticker.
type Delta struct {
	Ticker string  `json:"ticker"`
	Delta  float64 `json:"delta"`
}

// Registry is the snapshot catalog surface the deriver needs.
type Registry interface {
	Load(ctx context.Context, id string) (*snapshot.MarketSnapshot, error)
	Save(ctx context.Context, snap *snapshot.MarketSnapshot) (string, error)
}

// Deriver forks snapshots into scenario variants.
type Deriver struct {
	registry Registry
	log      zerolog.Logger
}

// NewDeriver creates a scenario deriver over the given registry.
func NewDeriver(registry Registry, log zerolog.Logger) *Deriver {
	return &Deriver{
		registry: registry,
		log:      log.With().Str("component", "scenario_deriver").Logger(),
	}
}

// Result reports a derivation: the new snapshot id and any tickers whose
// deltas were dropped because the base snapshot does not cover them.
type Result struct {
	SnapshotID     string
	SkippedTickers []string
}

// Derive loads the base snapshot, applies the deltas to a deep copy of its
// expected returns, and persists the fork under a deterministic id. The base
// snapshot is never modified. Duplicate tickers in the delta list resolve
// last-wins; tickers absent from the base are skipped with a warning and
// reported in the result. Deriving the same deltas from the same base always
// yields the same id.
func (d *Deriver) Derive(ctx context.Context, baseID string, deltas []Delta) (*Result, error) {
	if len(deltas) == 0 {
		return nil, fmt.Errorf("no deltas provided")
	}

	base, err := d.registry.Load(ctx, baseID)
	if err != nil {
		return nil, err
	}

	// Last-wins collapse before hashing, so the id depends on effective
	// deltas, not on their ordering or repetition.
	effective := make(map[string]float64, len(deltas))
	for _, dl := range deltas {
		effective[dl.Ticker] = dl.Delta
	}

	fork := base.Clone()
	var skipped []string
	for ticker, delta := range effective {
		if _, ok := fork.Mu[ticker]; !ok {
			skipped = append(skipped, ticker)
			continue
		}
		fork.Mu[ticker] += delta
	}
	for _, ticker := range skipped {
		d.log.Warn().
			Str("base_snapshot_id", baseID).
			Str("ticker", ticker).
			Msg("Delta ticker not in base snapshot, skipping")
		delete(effective, ticker)
	}
	if len(effective) == 0 {
		return nil, fmt.Errorf("no delta ticker present in base snapshot %s", baseID)
	}
	sort.Strings(skipped)

	id, err := ScenarioID(baseID, effective)
	if err != nil {
		return nil, err
	}

	fork.Meta.ID = id
	fork.Meta.Source = SourceScenario
	// The fork is created now, not when the base was observed. Zeroing the
	// inherited timestamp makes the registry stamp the save time.
	fork.Meta.Timestamp = time.Time{}
	if fork.Meta.Properties == nil {
		fork.Meta.Properties = make(map[string]interface{}, 2)
	}
	fork.Meta.Properties["base_snapshot_id"] = baseID
	fork.Meta.Properties["applied_deltas"] = effective

	if _, err := d.registry.Save(ctx, fork); err != nil {
		return nil, err
	}

	d.log.Info().
		Str("base_snapshot_id", baseID).
		Str("scenario_id", id).
		Int("deltas", len(effective)).
		Msg("Scenario derived")

	return &Result{SnapshotID: id, SkippedTickers: skipped}, nil
}

// ScenarioID computes the deterministic id for a scenario: the base id with
// any existing scenario suffix stripped, joined with the first 8 hex chars of
// the SHA-256 of the canonical delta encoding. json.Marshal writes map keys
// in sorted order, which makes the encoding canonical.
func ScenarioID(baseID string, deltas map[string]float64) (string, error) {
	encoded, err := json.Marshal(deltas)
	if err != nil {
		return "", fmt.Errorf("failed to encode deltas: %w", err)
	}
	sum := sha256.Sum256(encoded)
	hash := hex.EncodeToString(sum[:])[:hashLen]

	root := baseID
	if i := strings.Index(root, scenarioIDSep); i >= 0 {
		root = root[:i]
	}
	return root + scenarioIDSep + hash, nil
}
