package snapshot

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
)

// Backend is the byte-level contract both sides of the store satisfy: the
// fast cache (Redis) and the durable file/object store.
type Backend interface {
	Name() string
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) (data []byte, found bool, err error)
	ListIDs(ctx context.Context) ([]string, error)
	DeleteAll(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Store persists serialized snapshots through a cache backend and a durable
// backend. There is no cross-backend transaction: a Put that succeeds on one
// side and fails on the other leaves a visible inconsistency window, reported
// to the caller through DualWriteError and reconciled on the read path by
// unioning visibility across both backends.
type Store struct {
	cache   Backend
	durable Backend
	log     zerolog.Logger
}

// NewStore wires the two backends together.
func NewStore(cache, durable Backend, log zerolog.Logger) *Store {
	return &Store{
		cache:   cache,
		durable: durable,
		log:     log.With().Str("component", "snapshot_store").Logger(),
	}
}

// Put writes the record to both backends. Both writes are always attempted;
// a failure on either side is reported via *DualWriteError naming the failed
// backend(s) so the caller can retry just that side.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	var dual DualWriteError

	if err := s.cache.Put(ctx, id, data); err != nil {
		s.log.Warn().Err(err).Str("snapshot_id", id).Msg("Cache write failed")
		dual.Cache = &BackendError{Backend: s.cache.Name(), Op: OpWrite, Err: err}
	}
	if err := s.durable.Put(ctx, id, data); err != nil {
		s.log.Error().Err(err).Str("snapshot_id", id).Msg("Durable write failed")
		dual.Durable = &BackendError{Backend: s.durable.Name(), Op: OpWrite, Err: err}
	}

	if dual.Cache != nil || dual.Durable != nil {
		return &dual
	}
	return nil
}

// Get reads through the cache: cache hit wins, otherwise the durable backend
// is consulted and a hit repopulates the cache best-effort. Cache read errors
// degrade to a durable read rather than failing the call.
func (s *Store) Get(ctx context.Context, id string) ([]byte, bool, error) {
	data, found, err := s.cache.Get(ctx, id)
	if err != nil {
		s.log.Warn().Err(err).Str("snapshot_id", id).Msg("Cache read failed, falling back to durable backend")
	} else if found {
		return data, true, nil
	}

	data, found, err = s.durable.Get(ctx, id)
	if err != nil {
		return nil, false, &BackendError{Backend: s.durable.Name(), Op: OpRead, Err: err}
	}
	if !found {
		return nil, false, nil
	}

	if err := s.cache.Put(ctx, id, data); err != nil {
		s.log.Debug().Err(err).Str("snapshot_id", id).Msg("Cache repopulation failed")
	}

	return data, true, nil
}

// ListIDs returns the sorted union of ids visible from both backends. The
// durable backend is authoritative for existence, but during a dual-write
// inconsistency window the cache may hold writes the durable side missed, so
// neither view is hidden. The call fails only when both backends fail.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	durableIDs, durableErr := s.durable.ListIDs(ctx)
	if durableErr != nil {
		s.log.Warn().Err(durableErr).Msg("Durable list failed")
	}
	for _, id := range durableIDs {
		seen[id] = struct{}{}
	}

	cacheIDs, cacheErr := s.cache.ListIDs(ctx)
	if cacheErr != nil {
		s.log.Warn().Err(cacheErr).Msg("Cache list failed")
	}
	for _, id := range cacheIDs {
		seen[id] = struct{}{}
	}

	if durableErr != nil && cacheErr != nil {
		return nil, &BackendError{Backend: s.durable.Name(), Op: OpList, Err: durableErr}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteAll wipes both backends. Destructive; test/maintenance use only.
func (s *Store) DeleteAll(ctx context.Context) error {
	if err := s.cache.DeleteAll(ctx); err != nil {
		return &BackendError{Backend: s.cache.Name(), Op: OpDelete, Err: err}
	}
	if err := s.durable.DeleteAll(ctx); err != nil {
		return &BackendError{Backend: s.durable.Name(), Op: OpDelete, Err: err}
	}
	return nil
}

// CacheName exposes the cache backend name for health reporting.
func (s *Store) CacheName() string { return s.cache.Name() }

// DurableName exposes the durable backend name for health reporting.
func (s *Store) DurableName() string { return s.durable.Name() }

// PingCache checks cache reachability.
func (s *Store) PingCache(ctx context.Context) error { return s.cache.Ping(ctx) }

// PingDurable checks durable backend reachability.
func (s *Store) PingDurable(ctx context.Context) error { return s.durable.Ping(ctx) }
