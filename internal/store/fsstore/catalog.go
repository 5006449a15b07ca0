package fsstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/keshon/snapvault/internal/fs"
	"github.com/keshon/snapvault/internal/store"
	"github.com/keshon/snapvault/internal/util"
)

const counterFile = "next-id.json"

// Catalog keeps one JSON document per snapshot in Dir, named <id>.json.
// A staged snapshot is written as a header with committed=false; its
// entries stay in memory until CommitSnapshot rewrites the document with
// every entry. Deleting a snapshot removes its document, entries included.
type Catalog struct {
	Dir string
	FS  fs.FS

	mu     sync.Mutex
	staged map[int64]map[string]store.FileEntry
}

var _ store.Catalog = (*Catalog)(nil)

type counter struct {
	Next int64 `json:"next"`
}

func NewCatalog(fsys fs.FS, dir string) (*Catalog, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshots dir: %w", err)
	}
	return &Catalog{Dir: dir, FS: fsys, staged: map[int64]map[string]store.FileEntry{}}, nil
}

func (c *Catalog) docPath(id int64) string {
	return filepath.Join(c.Dir, strconv.FormatInt(id, 10)+".json")
}

// caller holds c.mu
func (c *Catalog) load(id int64) (store.Snapshot, error) {
	var snap store.Snapshot
	if err := util.ReadJSON(c.FS, c.docPath(id), &snap); err != nil {
		if c.FS.IsNotExist(err) {
			return snap, fmt.Errorf("snapshot %d: %w", id, store.ErrSnapshotNotFound)
		}
		return snap, fmt.Errorf("read snapshot %d: %w", id, err)
	}
	return snap, nil
}

// ids returns the ids of every snapshot document, ascending.
// caller holds c.mu
func (c *Catalog) ids() ([]int64, error) {
	entries, err := c.FS.ReadDir(c.Dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	var ids []int64
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if !ok || e.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(name, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// nextID allocates an id greater than both the persisted counter and every
// existing document.
// caller holds c.mu
func (c *Catalog) nextID() (int64, error) {
	var cnt counter
	path := filepath.Join(c.Dir, counterFile)
	if err := util.ReadJSON(c.FS, path, &cnt); err != nil && !c.FS.IsNotExist(err) {
		return 0, fmt.Errorf("read id counter: %w", err)
	}
	ids, err := c.ids()
	if err != nil {
		return 0, err
	}
	id := cnt.Next
	if n := len(ids); n > 0 && ids[n-1] >= id {
		id = ids[n-1] + 1
	}
	if id <= 0 {
		id = 1
	}
	if err := util.WriteJSON(c.FS, path, counter{Next: id + 1}); err != nil {
		return 0, fmt.Errorf("write id counter: %w", err)
	}
	return id, nil
}

func (c *Catalog) CreateSnapshot(ctx context.Context, chunkSize int) (store.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.nextID()
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("create snapshot: %w", err)
	}
	snap := store.Snapshot{ID: id, Timestamp: time.Now().UTC().Round(0), ChunkSize: chunkSize}
	if err := util.WriteJSON(c.FS, c.docPath(id), snap); err != nil {
		return store.Snapshot{}, fmt.Errorf("create snapshot: %w", err)
	}
	c.staged[id] = map[string]store.FileEntry{}
	return snap, nil
}

// stagedEntries returns the in-memory entries of a staged snapshot. Staged
// documents left by an earlier process get an empty set.
// caller holds c.mu
func (c *Catalog) stagedEntries(id int64) (map[string]store.FileEntry, error) {
	if m, ok := c.staged[id]; ok {
		return m, nil
	}
	snap, err := c.load(id)
	if err != nil {
		return nil, err
	}
	if snap.Committed {
		return nil, fmt.Errorf("snapshot %d: %w", id, store.ErrSnapshotCommitted)
	}
	m := map[string]store.FileEntry{}
	c.staged[id] = m
	return m, nil
}

func (c *Catalog) AddFileEntry(ctx context.Context, snapshotID int64, entry store.FileEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.stagedEntries(snapshotID)
	if err != nil {
		return fmt.Errorf("add file entry: %w", err)
	}
	if _, dup := m[entry.Path]; dup {
		return fmt.Errorf("add file entry %q: %w", entry.Path, store.ErrDuplicateEntry)
	}
	entry.Chunks = append([]string(nil), entry.Chunks...)
	m[entry.Path] = entry
	return nil
}

func (c *Catalog) CommitSnapshot(ctx context.Context, snapshotID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.stagedEntries(snapshotID)
	if err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	snap, err := c.load(snapshotID)
	if err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	snap.Committed = true
	snap.Files = make([]store.FileEntry, 0, len(m))
	for _, p := range util.SortedKeys(m) {
		snap.Files = append(snap.Files, m[p])
	}
	if err := util.WriteJSON(c.FS, c.docPath(snapshotID), snap); err != nil {
		return fmt.Errorf("commit snapshot %d: %w", snapshotID, err)
	}
	delete(c.staged, snapshotID)
	return nil
}

func (c *Catalog) GetSnapshot(ctx context.Context, id int64) (store.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.load(id)
	if err != nil {
		return store.Snapshot{}, err
	}
	if !snap.Committed {
		return store.Snapshot{}, fmt.Errorf("snapshot %d: %w", id, store.ErrSnapshotNotFound)
	}
	return snap, nil
}

// list loads every document whose committed flag matches.
// caller holds c.mu
func (c *Catalog) list(committed bool) ([]store.Snapshot, error) {
	ids, err := c.ids()
	if err != nil {
		return nil, err
	}
	var out []store.Snapshot
	for _, id := range ids {
		snap, err := c.load(id)
		if err != nil {
			return nil, err
		}
		if snap.Committed == committed {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (c *Catalog) ListSnapshots(ctx context.Context) ([]store.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list(true)
}

func (c *Catalog) ListStaged(ctx context.Context) ([]store.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list(false)
}

func (c *Catalog) DeleteSnapshot(ctx context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.FS.Remove(c.docPath(id)); err != nil {
		if c.FS.IsNotExist(err) {
			return fmt.Errorf("snapshot %d: %w", id, store.ErrSnapshotNotFound)
		}
		return fmt.Errorf("delete snapshot %d: %w", id, err)
	}
	delete(c.staged, id)
	return nil
}

func (c *Catalog) AllReferencedChunkHashes(ctx context.Context) (map[string]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	refs := make(map[string]struct{})
	snaps, err := c.list(true)
	if err != nil {
		return nil, err
	}
	for _, s := range snaps {
		for _, f := range s.Files {
			for _, h := range f.Chunks {
				refs[h] = struct{}{}
			}
		}
	}
	for _, m := range c.staged {
		for _, f := range m {
			for _, h := range f.Chunks {
				refs[h] = struct{}{}
			}
		}
	}
	return refs, nil
}

func (c *Catalog) Close() error { return nil }

// CleanupTemp removes temp documents left by interrupted writes.
func (c *Catalog) CleanupTemp(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cleanupTemp(c.FS, c.Dir)
}
