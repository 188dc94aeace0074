package snapshot

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// IDTimeLayout is the canonical snapshot id format: a UTC timestamp with
// microsecond precision, colons replaced with dashes so ids stay safe as
// filenames and object keys. Ids sort lexicographically in time order.
const IDTimeLayout = "2006-01-02T15-04-05.000000Z"

// Registry is the snapshot catalog: it assigns ids, enforces metadata
// defaults, tolerates legacy record layouts on read, and resolves
// "latest" queries over the dual-backend store.
type Registry struct {
	store *Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewRegistry builds a registry over the given store. The clock defaults to
// time.Now and is only overridden in tests.
func NewRegistry(store *Store, log zerolog.Logger) *Registry {
	return &Registry{
		store: store,
		log:   log.With().Str("component", "snapshot_registry").Logger(),
		now:   time.Now,
	}
}

// FormatID renders a timestamp as a canonical snapshot id.
func FormatID(ts time.Time) string {
	return ts.UTC().Format(IDTimeLayout)
}

// Save persists the snapshot to both backends, assigning an id and timestamp
// when the caller left them empty. The possibly-assigned id is returned even
// when one backend failed, alongside the *DualWriteError describing which
// side needs repair.
func (r *Registry) Save(ctx context.Context, snap *MarketSnapshot) (string, error) {
	if snap.Meta.Timestamp.IsZero() {
		snap.Meta.Timestamp = r.now().UTC()
	}
	if snap.Meta.ID == "" {
		snap.Meta.ID = FormatID(snap.Meta.Timestamp)
	}
	if snap.Meta.HorizonDays <= 0 {
		snap.Meta.HorizonDays = DefaultHorizonDays
	}

	if err := snap.Validate(); err != nil {
		return "", err
	}

	data, err := Marshal(snap)
	if err != nil {
		return "", err
	}

	if err := r.store.Put(ctx, snap.Meta.ID, data); err != nil {
		return snap.Meta.ID, err
	}

	r.log.Info().
		Str("snapshot_id", snap.Meta.ID).
		Int("tickers", len(snap.Meta.Tickers)).
		Msg("Snapshot saved")
	return snap.Meta.ID, nil
}

// Load fetches and decodes a snapshot. Returns ErrNotFound when neither
// backend has the id, and *SchemaError when the stored bytes cannot be
// understood even after legacy normalization.
func (r *Registry) Load(ctx context.Context, id string) (*MarketSnapshot, error) {
	data, found, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return Unmarshal(id, data)
}

// ListIDs returns the sorted union of ids across both backends.
func (r *Registry) ListIDs(ctx context.Context) ([]string, error) {
	return r.store.ListIDs(ctx)
}

// Latest resolves the most recent snapshot by metadata timestamp, optionally
// restricted to those strictly before the cutoff. Id order is only a hint:
// legacy records can carry timestamps out of line with their ids, so every
// candidate's metadata decides. Records that fail to decode are skipped with
// a warning rather than failing the query. Returns (nil, nil) when no
// snapshot qualifies.
func (r *Registry) Latest(ctx context.Context, before *time.Time) (*MarketSnapshot, error) {
	ids, err := r.store.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	// Ids are timestamp-shaped, so reverse lexicographic walks newest-first.
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	var best *MarketSnapshot
	for _, id := range ids {
		snap, err := r.Load(ctx, id)
		if err != nil {
			r.log.Warn().Err(err).Str("snapshot_id", id).Msg("Skipping unreadable snapshot in latest scan")
			continue
		}
		if before != nil && !snap.Meta.Timestamp.Before(*before) {
			continue
		}
		if best == nil || snap.Meta.Timestamp.After(best.Meta.Timestamp) {
			best = snap
		}
	}
	return best, nil
}

// DeleteAllDangerously wipes every snapshot from both backends.
func (r *Registry) DeleteAllDangerously(ctx context.Context) error {
	r.log.Warn().Msg("Deleting all snapshots from both backends")
	return r.store.DeleteAll(ctx)
}
