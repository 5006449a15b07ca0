// Package badgerstore keeps chunks and the snapshot catalog in a Badger
// key-value database. Catalog records are CBOR encoded.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/keshon/snapvault/internal/logging"
	"github.com/keshon/snapvault/internal/store"
)

// maxRetries bounds how often a transaction is replayed after losing a
// write conflict.
const maxRetries = 16

type Options struct {
	// InMemory keeps everything in RAM; path is ignored.
	InMemory bool
	Logger   logrus.FieldLogger
}

// Store implements store.ChunkStore and store.Catalog.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
	log logrus.FieldLogger
}

var (
	_ store.ChunkStore = (*Store)(nil)
	_ store.Catalog    = (*Store)(nil)
)

func Open(path string, opts Options) (*Store, error) {
	bo := badger.DefaultOptions(path).WithLogger(nil)
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", path, err)
	}

	seq, err := db.GetSequence(seqKey, 16)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot sequence: %w", err)
	}

	log := logging.OrDiscard(opts.Logger)
	log.WithFields(logrus.Fields{"path": path, "in_memory": opts.InMemory}).Debug("badger opened")
	return &Store{db: db, seq: seq, log: log}, nil
}

// Backend opens path and returns it as a backend whose halves share one
// database.
func Backend(path string, opts Options) (*store.Backend, error) {
	s, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	return store.NewBackend(s, s, s.Close), nil
}

func (s *Store) Close() error {
	err := errors.Join(s.seq.Release(), s.db.Close())
	if err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	s.log.Debug("badger closed")
	return nil
}

// update runs fn in a read-write transaction, replaying it when a concurrent
// transaction committed first to a key fn read.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * time.Millisecond)
	}
	return store.ErrConflict
}

// Chunks

func (s *Store) Put(ctx context.Context, hash string, data []byte) error {
	key := chunkKey(hash)
	err := s.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, append([]byte{}, data...))
	})
	if err != nil {
		return fmt.Errorf("put chunk %s: %w", hash, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(hash))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("get chunk %s: %w", hash, store.ErrChunkNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", hash, err)
	}
	return data, nil
}

func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(chunkKey(hash))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat chunk %s: %w", hash, err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, hash string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(chunkKey(hash))
	})
	if err != nil {
		return fmt.Errorf("delete chunk %s: %w", hash, err)
	}
	return nil
}

func (s *Store) ListHashes(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = chunkPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, string(it.Item().Key()[len(chunkPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return out, nil
}

func (s *Store) ListAll(ctx context.Context, fn func(store.Chunk) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = chunkPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read chunk %s: %w", item.Key()[len(chunkPrefix):], err)
			}
			c := store.Chunk{Hash: string(item.Key()[len(chunkPrefix):]), Data: data}
			if err := fn(c); err != nil {
				return err
			}
		}
		return nil
	})
}

// Catalog

func (s *Store) CreateSnapshot(ctx context.Context, chunkSize int) (store.Snapshot, error) {
	n, err := s.seq.Next()
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("create snapshot: %w", err)
	}
	id := int64(n) + 1
	now := time.Now().UTC().Round(0)

	rec := snapshotRecord{CreatedNs: now.UnixNano(), ChunkSize: chunkSize}
	val, err := encMode.Marshal(rec)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("create snapshot: %w", err)
	}
	if err := s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(id), val)
	}); err != nil {
		return store.Snapshot{}, fmt.Errorf("create snapshot: %w", err)
	}
	return rec.snapshot(id), nil
}

func getHeader(txn *badger.Txn, id int64) (snapshotRecord, error) {
	var rec snapshotRecord
	item, err := txn.Get(snapshotKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, fmt.Errorf("snapshot %d: %w", id, store.ErrSnapshotNotFound)
	}
	if err != nil {
		return rec, err
	}
	err = item.Value(func(v []byte) error { return cbor.Unmarshal(v, &rec) })
	return rec, err
}

func stagedHeader(txn *badger.Txn, id int64) (snapshotRecord, error) {
	rec, err := getHeader(txn, id)
	if err != nil {
		return rec, err
	}
	if rec.Committed {
		return rec, fmt.Errorf("snapshot %d: %w", id, store.ErrSnapshotCommitted)
	}
	return rec, nil
}

func (s *Store) AddFileEntry(ctx context.Context, snapshotID int64, entry store.FileEntry) error {
	val, err := encMode.Marshal(entryRecord{Size: entry.Size, Chunks: entry.Chunks})
	if err != nil {
		return fmt.Errorf("add file entry: %w", err)
	}
	key := entryKey(snapshotID, entry.Path)

	err = s.update(ctx, func(txn *badger.Txn) error {
		if _, err := stagedHeader(txn, snapshotID); err != nil {
			return err
		}
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("%q: %w", entry.Path, store.ErrDuplicateEntry)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, val)
	})
	if err != nil {
		return fmt.Errorf("add file entry: %w", err)
	}
	return nil
}

func (s *Store) CommitSnapshot(ctx context.Context, snapshotID int64) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		rec, err := stagedHeader(txn, snapshotID)
		if err != nil {
			return err
		}
		rec.Committed = true
		val, err := encMode.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(snapshotKey(snapshotID), val)
	})
	if err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func loadFiles(txn *badger.Txn, id int64) ([]store.FileEntry, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = entriesPrefix(id)
	it := txn.NewIterator(opts)
	defer it.Close()

	var files []store.FileEntry
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var rec entryRecord
		if err := item.Value(func(v []byte) error { return cbor.Unmarshal(v, &rec) }); err != nil {
			return nil, fmt.Errorf("decode entry %q: %w", item.Key(), err)
		}
		files = append(files, store.FileEntry{
			Path:   pathFromEntryKey(item.Key()),
			Size:   rec.Size,
			Chunks: rec.Chunks,
		})
	}
	return files, nil
}

func (s *Store) GetSnapshot(ctx context.Context, id int64) (store.Snapshot, error) {
	var snap store.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := getHeader(txn, id)
		if err != nil {
			return err
		}
		if !rec.Committed {
			return fmt.Errorf("snapshot %d: %w", id, store.ErrSnapshotNotFound)
		}
		snap = rec.snapshot(id)
		snap.Files, err = loadFiles(txn, id)
		return err
	})
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// headers returns every snapshot header matching committed, in id order.
func headers(txn *badger.Txn, committed bool) ([]store.Snapshot, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = snapshotPrefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []store.Snapshot
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var rec snapshotRecord
		if err := item.Value(func(v []byte) error { return cbor.Unmarshal(v, &rec) }); err != nil {
			return nil, fmt.Errorf("decode snapshot header: %w", err)
		}
		if rec.Committed == committed {
			out = append(out, rec.snapshot(idFromSnapshotKey(item.Key())))
		}
	}
	return out, nil
}

func (s *Store) ListSnapshots(ctx context.Context) ([]store.Snapshot, error) {
	var out []store.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = headers(txn, true)
		if err != nil {
			return err
		}
		for i := range out {
			if out[i].Files, err = loadFiles(txn, out[i].ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

func (s *Store) ListStaged(ctx context.Context) ([]store.Snapshot, error) {
	var out []store.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = headers(txn, false)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list staged snapshots: %w", err)
	}
	return out, nil
}

// DeleteSnapshot hides the snapshot by flipping it back to staged, removes
// its entries in batches, and then drops the header. A crash part way leaves
// a staged snapshot that a sweep removes.
func (s *Store) DeleteSnapshot(ctx context.Context, id int64) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getHeader(txn, id)
		if err != nil || !rec.Committed {
			return err
		}
		rec.Committed = false
		val, err := encMode.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(snapshotKey(id), val)
	})
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}

	var keys [][]byte
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = entriesPrefix(id)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete snapshot %d: %w", id, err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("delete snapshot %d entries: %w", id, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("delete snapshot %d entries: %w", id, err)
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(snapshotKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete snapshot %d: %w", id, err)
	}
	return nil
}

func (s *Store) AllReferencedChunkHashes(ctx context.Context) (map[string]struct{}, error) {
	refs := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec entryRecord
			if err := it.Item().Value(func(v []byte) error { return cbor.Unmarshal(v, &rec) }); err != nil {
				return err
			}
			for _, h := range rec.Chunks {
				refs[h] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect references: %w", err)
	}
	return refs, nil
}
