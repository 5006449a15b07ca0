// Package store defines the persistence contracts the backup engine depends
// on: a content-addressed chunk store and a snapshot catalog. Backends live
// in subpackages.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrChunkNotFound     = errors.New("chunk not found")
	ErrDuplicateEntry    = errors.New("duplicate file entry")
	ErrSnapshotCommitted = errors.New("snapshot already committed")
	ErrConflict          = errors.New("concurrent update conflict")
)

// Chunk is a stored block keyed by the digest of its bytes.
type Chunk struct {
	Hash string
	Data []byte
}

// FileEntry maps one file of a snapshot to its ordered chunk hashes.
// Path is slash-separated and relative to the snapshot root.
type FileEntry struct {
	Path   string   `json:"path"`
	Size   int64    `json:"size"`
	Chunks []string `json:"chunks"`
}

// Snapshot is a point-in-time record of a directory tree. Files is sorted by
// Path when loaded from a catalog.
type Snapshot struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	ChunkSize int         `json:"chunk_size"`
	Committed bool        `json:"committed"`
	Files     []FileEntry `json:"files,omitempty"`
}

// Size is the total byte length of every file in the snapshot.
func (s Snapshot) Size() int64 {
	var n int64
	for _, f := range s.Files {
		n += f.Size
	}
	return n
}

// ChunkStore is a content-addressed map from hash to bytes.
//
// Put must be idempotent and safe when called concurrently with the same
// hash: the first writer wins and later writers succeed without rewriting.
type ChunkStore interface {
	Put(ctx context.Context, hash string, data []byte) error
	Get(ctx context.Context, hash string) ([]byte, error)
	Exists(ctx context.Context, hash string) (bool, error)
	// Delete removes hash. Deleting an absent hash is not an error.
	Delete(ctx context.Context, hash string) error
	ListHashes(ctx context.Context) ([]string, error)
	// ListAll calls fn for each stored chunk. Data holds the raw stored
	// payload; callers decode it with Decode. Returning an error from fn
	// stops the iteration.
	ListAll(ctx context.Context, fn func(Chunk) error) error
	Close() error
}

// Catalog persists snapshots and their file entries.
//
// A snapshot is created staged: it is visible to ListStaged and to
// AllReferencedChunkHashes, but not to GetSnapshot or ListSnapshots until
// CommitSnapshot succeeds.
type Catalog interface {
	CreateSnapshot(ctx context.Context, chunkSize int) (Snapshot, error)
	AddFileEntry(ctx context.Context, snapshotID int64, entry FileEntry) error
	CommitSnapshot(ctx context.Context, snapshotID int64) error
	GetSnapshot(ctx context.Context, id int64) (Snapshot, error)
	ListSnapshots(ctx context.Context) ([]Snapshot, error)
	ListStaged(ctx context.Context) ([]Snapshot, error)
	// DeleteSnapshot removes a snapshot, committed or staged, together with
	// its file entries.
	DeleteSnapshot(ctx context.Context, id int64) error
	AllReferencedChunkHashes(ctx context.Context) (map[string]struct{}, error)
	Close() error
}

// Backend pairs the chunk store and catalog of one repository. The halves
// may be the same value.
type Backend struct {
	Chunks  ChunkStore
	Catalog Catalog
	close   func() error
}

// NewBackend pairs a chunk store and catalog. closeFn releases both; when nil
// each half is closed in turn.
func NewBackend(chunks ChunkStore, catalog Catalog, closeFn func() error) *Backend {
	if closeFn == nil {
		closeFn = func() error {
			return errors.Join(catalog.Close(), chunks.Close())
		}
	}
	return &Backend{Chunks: chunks, Catalog: catalog, close: closeFn}
}

func (b *Backend) Close() error { return b.close() }
