package snapshot

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ReconcileJob periodically warms the cache from the durable backend so that
// reads survive a cache flush and the two backends converge after a partial
// dual-write failure.
type ReconcileJob struct {
	store   *Store
	log     zerolog.Logger
	timeout time.Duration
}

// NewReconcileJob creates the job with the given per-run timeout.
func NewReconcileJob(store *Store, timeout time.Duration, log zerolog.Logger) *ReconcileJob {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ReconcileJob{
		store:   store,
		log:     log.With().Str("component", "snapshot_reconcile").Logger(),
		timeout: timeout,
	}
}

// Name identifies the job in scheduler logs.
func (j *ReconcileJob) Name() string { return "snapshot-reconcile" }

// Run copies every durable record missing from the cache back into it. Per-id
// failures are logged and counted, never fatal for the run.
func (j *ReconcileJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	warmed, failed, err := j.Reconcile(ctx)
	if err != nil {
		return err
	}
	if warmed > 0 || failed > 0 {
		j.log.Info().Int("warmed", warmed).Int("failed", failed).Msg("Cache reconciliation completed")
	}
	return nil
}

// Reconcile performs one warm-up pass and reports how many records were
// copied into the cache and how many could not be.
func (j *ReconcileJob) Reconcile(ctx context.Context) (warmed, failed int, err error) {
	durableIDs, err := j.store.durable.ListIDs(ctx)
	if err != nil {
		return 0, 0, &BackendError{Backend: j.store.durable.Name(), Op: OpList, Err: err}
	}

	cacheIDs, err := j.store.cache.ListIDs(ctx)
	if err != nil {
		return 0, 0, &BackendError{Backend: j.store.cache.Name(), Op: OpList, Err: err}
	}
	cached := make(map[string]struct{}, len(cacheIDs))
	for _, id := range cacheIDs {
		cached[id] = struct{}{}
	}

	for _, id := range durableIDs {
		if _, ok := cached[id]; ok {
			continue
		}
		data, found, err := j.store.durable.Get(ctx, id)
		if err != nil || !found {
			j.log.Warn().Err(err).Str("snapshot_id", id).Msg("Failed to read durable record during reconciliation")
			failed++
			continue
		}
		if err := j.store.cache.Put(ctx, id, data); err != nil {
			j.log.Warn().Err(err).Str("snapshot_id", id).Msg("Failed to warm cache record")
			failed++
			continue
		}
		warmed++
	}
	return warmed, failed, nil
}
