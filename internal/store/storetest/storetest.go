// Package storetest is a conformance suite for store backends. Each backend
// package runs it from its own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/snapvault/internal/digest"
	"github.com/keshon/snapvault/internal/store"
)

// Factory opens a fresh, empty backend. Reopen, when set, closes b and opens
// the same repository again so persistence can be checked.
type Factory struct {
	Open   func(t *testing.T) *store.Backend
	Reopen func(t *testing.T, b *store.Backend) *store.Backend
}

// Run executes every conformance test against f.
func Run(t *testing.T, f Factory) {
	t.Run("ChunkPutGet", func(t *testing.T) { testChunkPutGet(t, f) })
	t.Run("ChunkPutIdempotent", func(t *testing.T) { testChunkPutIdempotent(t, f) })
	t.Run("ChunkConcurrentPut", func(t *testing.T) { testChunkConcurrentPut(t, f) })
	t.Run("ChunkDelete", func(t *testing.T) { testChunkDelete(t, f) })
	t.Run("ChunkListAll", func(t *testing.T) { testChunkListAll(t, f) })
	t.Run("CatalogStagedInvisible", func(t *testing.T) { testCatalogStagedInvisible(t, f) })
	t.Run("CatalogEntryOrder", func(t *testing.T) { testCatalogEntryOrder(t, f) })
	t.Run("CatalogEntryErrors", func(t *testing.T) { testCatalogEntryErrors(t, f) })
	t.Run("CatalogConcurrentEntries", func(t *testing.T) { testCatalogConcurrentEntries(t, f) })
	t.Run("CatalogDelete", func(t *testing.T) { testCatalogDelete(t, f) })
	t.Run("CatalogReferences", func(t *testing.T) { testCatalogReferences(t, f) })
	if f.Reopen != nil {
		t.Run("Persistence", func(t *testing.T) { testPersistence(t, f) })
	}
}

func open(t *testing.T, f Factory) *store.Backend {
	t.Helper()
	b := f.Open(t)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func sum(data string) string { return digest.SHA256.Sum([]byte(data)) }

func testChunkPutGet(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	h := sum("hello")
	ok, err := b.Chunks.Exists(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = b.Chunks.Get(ctx, h)
	assert.ErrorIs(t, err, store.ErrChunkNotFound)

	require.NoError(t, b.Chunks.Put(ctx, h, []byte("hello")))

	got, err := b.Chunks.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	ok, err = b.Chunks.Exists(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	empty := sum("")
	require.NoError(t, b.Chunks.Put(ctx, empty, []byte{}))
	got, err = b.Chunks.Get(ctx, empty)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testChunkPutIdempotent(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	h := sum("first")
	require.NoError(t, b.Chunks.Put(ctx, h, []byte("first")))
	// the store trusts the key and keeps the first payload
	require.NoError(t, b.Chunks.Put(ctx, h, []byte("second")))

	got, err := b.Chunks.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)

	hashes, err := b.Chunks.ListHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{h}, hashes)
}

func testChunkConcurrentPut(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	const writers = 32
	shared := sum("shared")

	var wg sync.WaitGroup
	errs := make(chan error, writers*2)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- b.Chunks.Put(ctx, shared, []byte("shared"))
			own := fmt.Sprintf("own-%d", i%4)
			errs <- b.Chunks.Put(ctx, sum(own), []byte(own))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	hashes, err := b.Chunks.ListHashes(ctx)
	require.NoError(t, err)
	assert.Len(t, hashes, 5)

	got, err := b.Chunks.Get(ctx, shared)
	require.NoError(t, err)
	assert.Equal(t, []byte("shared"), got)
}

func testChunkDelete(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	h := sum("gone")
	require.NoError(t, b.Chunks.Put(ctx, h, []byte("gone")))
	require.NoError(t, b.Chunks.Delete(ctx, h))

	_, err := b.Chunks.Get(ctx, h)
	assert.ErrorIs(t, err, store.ErrChunkNotFound)

	// deleting twice is fine
	require.NoError(t, b.Chunks.Delete(ctx, h))

	// and the hash can be stored again
	require.NoError(t, b.Chunks.Put(ctx, h, []byte("gone")))
	ok, err := b.Chunks.Exists(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testChunkListAll(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	want := map[string]string{}
	for i := 0; i < 20; i++ {
		data := fmt.Sprintf("chunk-%02d", i)
		want[sum(data)] = data
		require.NoError(t, b.Chunks.Put(ctx, sum(data), []byte(data)))
	}

	got := map[string]string{}
	require.NoError(t, b.Chunks.ListAll(ctx, func(c store.Chunk) error {
		got[c.Hash] = string(c.Data)
		return nil
	}))
	assert.Equal(t, want, got)

	hashes, err := b.Chunks.ListHashes(ctx)
	require.NoError(t, err)
	assert.Len(t, hashes, 20)
	assert.True(t, sort.StringsAreSorted(hashes), "hashes are returned sorted")

	stop := errors.New("stop")
	calls := 0
	err = b.Chunks.ListAll(ctx, func(store.Chunk) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func testCatalogStagedInvisible(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	before := time.Now().Add(-time.Second)
	s, err := b.Catalog.CreateSnapshot(ctx, 4096)
	require.NoError(t, err)
	assert.Positive(t, s.ID)
	assert.False(t, s.Committed)
	assert.Equal(t, 4096, s.ChunkSize)
	assert.True(t, s.Timestamp.After(before))

	require.NoError(t, b.Catalog.AddFileEntry(ctx, s.ID, store.FileEntry{Path: "a.txt", Size: 1, Chunks: []string{sum("a")}}))

	_, err = b.Catalog.GetSnapshot(ctx, s.ID)
	assert.ErrorIs(t, err, store.ErrSnapshotNotFound)

	list, err := b.Catalog.ListSnapshots(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	staged, err := b.Catalog.ListStaged(ctx)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, s.ID, staged[0].ID)

	require.NoError(t, b.Catalog.CommitSnapshot(ctx, s.ID))

	got, err := b.Catalog.GetSnapshot(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Committed)
	assert.True(t, got.Timestamp.Equal(s.Timestamp), "timestamp fixed at creation")
	require.Len(t, got.Files, 1)

	staged, err = b.Catalog.ListStaged(ctx)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func testCatalogEntryOrder(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	s, err := b.Catalog.CreateSnapshot(ctx, 4)
	require.NoError(t, err)

	// repeated and unsorted hashes keep their order
	chunks := []string{sum("z"), sum("a"), sum("z"), sum("m")}
	entries := []store.FileEntry{
		{Path: "dir/b.bin", Size: 14, Chunks: chunks},
		{Path: "a.txt", Size: 3, Chunks: []string{sum("abc")}},
		{Path: "empty", Size: 0},
	}
	for _, e := range entries {
		require.NoError(t, b.Catalog.AddFileEntry(ctx, s.ID, e))
	}
	require.NoError(t, b.Catalog.CommitSnapshot(ctx, s.ID))

	got, err := b.Catalog.GetSnapshot(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Files, 3)

	assert.Equal(t, "a.txt", got.Files[0].Path)
	assert.Equal(t, "dir/b.bin", got.Files[1].Path)
	assert.Equal(t, "empty", got.Files[2].Path)

	assert.Equal(t, chunks, got.Files[1].Chunks)
	assert.Equal(t, int64(14), got.Files[1].Size)
	assert.Empty(t, got.Files[2].Chunks)
	assert.Equal(t, int64(17), got.Size())
}

func testCatalogEntryErrors(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	err := b.Catalog.AddFileEntry(ctx, 999, store.FileEntry{Path: "x"})
	assert.ErrorIs(t, err, store.ErrSnapshotNotFound)
	assert.ErrorIs(t, b.Catalog.CommitSnapshot(ctx, 999), store.ErrSnapshotNotFound)

	s, err := b.Catalog.CreateSnapshot(ctx, 4096)
	require.NoError(t, err)

	e := store.FileEntry{Path: "same", Size: 1, Chunks: []string{sum("s")}}
	require.NoError(t, b.Catalog.AddFileEntry(ctx, s.ID, e))
	assert.ErrorIs(t, b.Catalog.AddFileEntry(ctx, s.ID, e), store.ErrDuplicateEntry)

	require.NoError(t, b.Catalog.CommitSnapshot(ctx, s.ID))
	assert.ErrorIs(t, b.Catalog.CommitSnapshot(ctx, s.ID), store.ErrSnapshotCommitted)
	assert.ErrorIs(t, b.Catalog.AddFileEntry(ctx, s.ID, store.FileEntry{Path: "late"}), store.ErrSnapshotCommitted)

	got, err := b.Catalog.GetSnapshot(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, got.Files, 1)
}

func testCatalogConcurrentEntries(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	s, err := b.Catalog.CreateSnapshot(ctx, 4096)
	require.NoError(t, err)

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := fmt.Sprintf("file-%03d", i)
			errs <- b.Catalog.AddFileEntry(ctx, s.ID, store.FileEntry{
				Path: data, Size: int64(len(data)), Chunks: []string{sum(data)},
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, b.Catalog.CommitSnapshot(ctx, s.ID))

	got, err := b.Catalog.GetSnapshot(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Files, n)
	for i, fe := range got.Files {
		assert.Equal(t, fmt.Sprintf("file-%03d", i), fe.Path)
		assert.Equal(t, []string{sum(fe.Path)}, fe.Chunks)
	}
}

func testCatalogDelete(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	assert.ErrorIs(t, b.Catalog.DeleteSnapshot(ctx, 42), store.ErrSnapshotNotFound)

	var ids []int64
	for i := 0; i < 3; i++ {
		s, err := b.Catalog.CreateSnapshot(ctx, 4096)
		require.NoError(t, err)
		require.NoError(t, b.Catalog.AddFileEntry(ctx, s.ID, store.FileEntry{Path: "f", Size: 1, Chunks: []string{sum(fmt.Sprint(i))}}))
		require.NoError(t, b.Catalog.CommitSnapshot(ctx, s.ID))
		ids = append(ids, s.ID)
	}
	assert.True(t, ids[0] < ids[1] && ids[1] < ids[2], "ids are monotonic: %v", ids)

	require.NoError(t, b.Catalog.DeleteSnapshot(ctx, ids[1]))
	_, err := b.Catalog.GetSnapshot(ctx, ids[1])
	assert.ErrorIs(t, err, store.ErrSnapshotNotFound)
	assert.ErrorIs(t, b.Catalog.DeleteSnapshot(ctx, ids[1]), store.ErrSnapshotNotFound)

	list, err := b.Catalog.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[0], list[0].ID)
	assert.Equal(t, ids[2], list[1].ID)
	assert.Len(t, list[0].Files, 1, "list is eager")

	// the highest id is deleted and never handed out again
	require.NoError(t, b.Catalog.DeleteSnapshot(ctx, ids[2]))
	next, err := b.Catalog.CreateSnapshot(ctx, 4096)
	require.NoError(t, err)
	assert.Greater(t, next.ID, ids[2])

	// staged snapshots can be deleted too
	require.NoError(t, b.Catalog.DeleteSnapshot(ctx, next.ID))
	staged, err := b.Catalog.ListStaged(ctx)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func testCatalogReferences(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	refs, err := b.Catalog.AllReferencedChunkHashes(ctx)
	require.NoError(t, err)
	assert.Empty(t, refs)

	a, err := b.Catalog.CreateSnapshot(ctx, 4096)
	require.NoError(t, err)
	require.NoError(t, b.Catalog.AddFileEntry(ctx, a.ID, store.FileEntry{Path: "x", Size: 2, Chunks: []string{sum("1"), sum("2")}}))
	require.NoError(t, b.Catalog.CommitSnapshot(ctx, a.ID))

	staged, err := b.Catalog.CreateSnapshot(ctx, 4096)
	require.NoError(t, err)
	require.NoError(t, b.Catalog.AddFileEntry(ctx, staged.ID, store.FileEntry{Path: "y", Size: 2, Chunks: []string{sum("2"), sum("3")}}))

	refs, err = b.Catalog.AllReferencedChunkHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{sum("1"): {}, sum("2"): {}, sum("3"): {}}, refs)

	require.NoError(t, b.Catalog.DeleteSnapshot(ctx, a.ID))
	refs, err = b.Catalog.AllReferencedChunkHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{sum("2"): {}, sum("3"): {}}, refs)
}

func testPersistence(t *testing.T, f Factory) {
	ctx := context.Background()
	b := f.Open(t)

	h := sum("persist")
	require.NoError(t, b.Chunks.Put(ctx, h, []byte("persist")))

	s, err := b.Catalog.CreateSnapshot(ctx, 4096)
	require.NoError(t, err)
	require.NoError(t, b.Catalog.AddFileEntry(ctx, s.ID, store.FileEntry{Path: "p", Size: 7, Chunks: []string{h}}))
	require.NoError(t, b.Catalog.CommitSnapshot(ctx, s.ID))

	crashed, err := b.Catalog.CreateSnapshot(ctx, 4096)
	require.NoError(t, err)

	b = f.Reopen(t, b)
	t.Cleanup(func() { _ = b.Close() })

	got, err := b.Chunks.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []byte("persist"), got)

	snap, err := b.Catalog.GetSnapshot(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, snap.Timestamp.Equal(s.Timestamp))
	require.Len(t, snap.Files, 1)
	assert.Equal(t, []string{h}, snap.Files[0].Chunks)

	staged, err := b.Catalog.ListStaged(ctx)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, crashed.ID, staged[0].ID)

	next, err := b.Catalog.CreateSnapshot(ctx, 4096)
	require.NoError(t, err)
	assert.Greater(t, next.ID, crashed.ID)
}
