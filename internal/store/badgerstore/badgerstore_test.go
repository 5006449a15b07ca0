package badgerstore

import (
	"context"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/snapvault/internal/digest"
	"github.com/keshon/snapvault/internal/store"
	"github.com/keshon/snapvault/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	var dir string
	storetest.Run(t, storetest.Factory{
		Open: func(t *testing.T) *store.Backend {
			dir = t.TempDir()
			b, err := Backend(dir, Options{})
			require.NoError(t, err)
			return b
		},
		Reopen: func(t *testing.T, b *store.Backend) *store.Backend {
			require.NoError(t, b.Close())
			b, err := Backend(dir, Options{})
			require.NoError(t, err)
			return b
		},
	})
}

func TestConformance_InMemory(t *testing.T) {
	storetest.Run(t, storetest.Factory{
		Open: func(t *testing.T) *store.Backend {
			b, err := Backend("", Options{InMemory: true})
			require.NoError(t, err)
			return b
		},
	})
}

func TestKeys_OrderByID(t *testing.T) {
	assert.Less(t, string(snapshotKey(2)), string(snapshotKey(10)))
	assert.Less(t, string(entryKey(2, "zzz")), string(entryKey(3, "a")))
	assert.Equal(t, int64(300), idFromSnapshotKey(snapshotKey(300)))
	assert.Equal(t, "dir/a b.txt", pathFromEntryKey(entryKey(7, "dir/a b.txt")))
}

// A snapshot whose entries were removed but whose header survived a crash
// must not be listed, and deleting it again finishes the job.
func TestDeleteSnapshot_ResumesAfterPartialDelete(t *testing.T) {
	ctx := context.Background()
	s, err := Open("", Options{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	snap, err := s.CreateSnapshot(ctx, 4096)
	require.NoError(t, err)
	require.NoError(t, s.AddFileEntry(ctx, snap.ID, store.FileEntry{Path: "a", Size: 1, Chunks: []string{digest.SHA256.Sum([]byte("a"))}}))
	require.NoError(t, s.CommitSnapshot(ctx, snap.ID))

	// simulate the first step of a delete only
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		val, err := encMode.Marshal(snapshotRecord{CreatedNs: snap.Timestamp.UnixNano(), ChunkSize: 4096})
		if err != nil {
			return err
		}
		return txn.Set(snapshotKey(snap.ID), val)
	}))

	list, err := s.ListSnapshots(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	staged, err := s.ListStaged(ctx)
	require.NoError(t, err)
	require.Len(t, staged, 1)

	require.NoError(t, s.DeleteSnapshot(ctx, snap.ID))
	refs, err := s.AllReferencedChunkHashes(ctx)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestPut_ConflictsResolveToSingleValue(t *testing.T) {
	ctx := context.Background()
	s, err := Open("", Options{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	h := digest.SHA256.Sum([]byte("race"))
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Put(ctx, h, []byte("race")))
		}()
	}
	wg.Wait()

	hashes, err := s.ListHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{h}, hashes)
}
