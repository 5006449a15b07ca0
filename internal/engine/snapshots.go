package engine

import (
	"context"

	"github.com/keshon/snapvault/internal/chunker"
	"github.com/keshon/snapvault/internal/store"
)

// ListSnapshots returns every committed snapshot in ascending id order,
// with file entries loaded.
func (e *Engine) ListSnapshots(ctx context.Context) ([]store.Snapshot, error) {
	return e.catalog.ListSnapshots(ctx)
}

// GetSnapshot returns snapshot id or store.ErrSnapshotNotFound.
func (e *Engine) GetSnapshot(ctx context.Context, id int64) (store.Snapshot, error) {
	return e.catalog.GetSnapshot(ctx, id)
}

// SnapshotUsage is the storage accounting of one snapshot.
type SnapshotUsage struct {
	Snapshot store.Snapshot
	// Size is the total length of the snapshot's files.
	Size int64
	// DistinctSize counts the bytes of chunks that no earlier snapshot in
	// the list references, each chunk once.
	DistinctSize int64
}

type Usage struct {
	Snapshots []SnapshotUsage
	Size      int64
	// DistinctSize is the number of bytes stored once across the whole
	// list, which is also the sum of the per-snapshot distinct sizes.
	DistinctSize int64
}

// ComputeUsage walks snaps in order and attributes each chunk's bytes to the
// first snapshot that references it.
func ComputeUsage(snaps []store.Snapshot) Usage {
	var u Usage
	seen := make(map[string]struct{})
	for _, s := range snaps {
		su := SnapshotUsage{Snapshot: s}
		for _, f := range s.Files {
			su.Size += f.Size
			for i, h := range f.Chunks {
				if _, dup := seen[h]; dup {
					continue
				}
				seen[h] = struct{}{}
				su.DistinctSize += int64(chunker.Len(f.Size, s.ChunkSize, i))
			}
		}
		u.Size += su.Size
		u.DistinctSize += su.DistinctSize
		u.Snapshots = append(u.Snapshots, su)
	}
	return u
}
