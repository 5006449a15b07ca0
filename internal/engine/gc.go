package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// PruneResult describes what a prune removed.
type PruneResult struct {
	SnapshotID    int64
	ChunksRemoved int
}

// PruneSnapshot deletes snapshot id and then every chunk no surviving
// snapshot references. It waits for in-flight builds and restores to finish
// and blocks new ones while it runs.
func (e *Engine) PruneSnapshot(ctx context.Context, id int64) (PruneResult, error) {
	e.gate.Lock()
	defer e.gate.Unlock()

	start := time.Now()
	if _, err := e.catalog.GetSnapshot(ctx, id); err != nil {
		return PruneResult{}, err
	}
	if err := e.catalog.DeleteSnapshot(ctx, id); err != nil {
		return PruneResult{}, fmt.Errorf("prune snapshot %d: %w", id, err)
	}

	removed, err := e.sweepChunks(ctx)
	res := PruneResult{SnapshotID: id, ChunksRemoved: removed}
	if err != nil {
		return res, fmt.Errorf("prune snapshot %d: %w", id, err)
	}

	e.log.WithFields(logrus.Fields{
		"snapshot":       id,
		"chunks_removed": removed,
		"duration":       time.Since(start).Round(time.Millisecond),
	}).Info("snapshot pruned")
	return res, nil
}

// sweepChunks deletes every stored chunk that no catalog entry references.
// The caller holds the gate exclusively.
func (e *Engine) sweepChunks(ctx context.Context) (int, error) {
	refs, err := e.catalog.AllReferencedChunkHashes(ctx)
	if err != nil {
		return 0, err
	}
	hashes, err := e.chunks.ListHashes(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, h := range hashes {
		if _, live := refs[h]; live {
			continue
		}
		if err := e.chunks.Delete(ctx, h); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// SweepResult describes what a sweep removed.
type SweepResult struct {
	StagedRemoved int
	ChunksRemoved int
	TempRemoved   int
}

// tempCleaner is implemented by backends that can leave temp files behind.
type tempCleaner interface {
	CleanupTemp(ctx context.Context) (int, error)
}

// Sweep removes what interrupted work leaves behind: staged snapshots of
// builds that never committed, temp files, and unreferenced chunks. Only
// staged snapshots of this process's builds are protected by the gate, so a
// sweep must not run while another process is building into the same
// repository.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	e.gate.Lock()
	defer e.gate.Unlock()

	var res SweepResult
	staged, err := e.catalog.ListStaged(ctx)
	if err != nil {
		return res, fmt.Errorf("sweep: %w", err)
	}
	for _, s := range staged {
		if err := e.catalog.DeleteSnapshot(ctx, s.ID); err != nil {
			return res, fmt.Errorf("sweep: staged snapshot %d: %w", s.ID, err)
		}
		res.StagedRemoved++
	}

	for _, part := range []any{e.chunks, e.catalog} {
		if c, ok := part.(tempCleaner); ok {
			n, err := c.CleanupTemp(ctx)
			res.TempRemoved += n
			if err != nil {
				return res, fmt.Errorf("sweep: %w", err)
			}
		}
	}

	res.ChunksRemoved, err = e.sweepChunks(ctx)
	if err != nil {
		return res, fmt.Errorf("sweep: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"staged_removed": res.StagedRemoved,
		"chunks_removed": res.ChunksRemoved,
		"temp_removed":   res.TempRemoved,
	}).Info("sweep finished")
	return res, nil
}
