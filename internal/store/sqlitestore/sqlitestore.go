// Package sqlitestore keeps chunks and the snapshot catalog in one SQLite
// database.
//
// Tables:
//
//	chunks(hash PK, data)
//	snapshots(id PK AUTOINCREMENT, created_ns, chunk_size, committed)
//	file_entries(snapshot_id, path, size) PK (snapshot_id, path)
//	file_chunks(snapshot_id, path, seq, hash) PK (snapshot_id, path, seq)
//
// file_chunks.seq records the position of each hash within its file.
package sqlitestore

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/keshon/snapvault/internal/logging"
	"github.com/keshon/snapvault/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	hash TEXT PRIMARY KEY,
	data BLOB NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_ns INTEGER NOT NULL,
	chunk_size INTEGER NOT NULL,
	committed  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS file_entries (
	snapshot_id INTEGER NOT NULL,
	path        TEXT    NOT NULL,
	size        INTEGER NOT NULL,
	PRIMARY KEY (snapshot_id, path)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS file_chunks (
	snapshot_id INTEGER NOT NULL,
	path        TEXT    NOT NULL,
	seq         INTEGER NOT NULL,
	hash        TEXT    NOT NULL,
	PRIMARY KEY (snapshot_id, path, seq)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS file_chunks_hash ON file_chunks (hash);
`

// Store implements store.ChunkStore and store.Catalog.
type Store struct {
	pool *pool
	log  logrus.FieldLogger
}

var (
	_ store.ChunkStore = (*Store)(nil)
	_ store.Catalog    = (*Store)(nil)
)

// Options configures Open.
type Options struct {
	// PoolSize defaults to max(NumCPU, 4).
	PoolSize int
	Logger   logrus.FieldLogger
}

// Open opens or creates the database at path and ensures the schema.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	log := logging.OrDiscard(opts.Logger)

	p, err := openPool(path, opts.PoolSize, log)
	if err != nil {
		return nil, err
	}

	s := &Store{pool: p, log: log}
	if err := s.migrate(ctx); err != nil {
		p.close()
		return nil, err
	}
	return s, nil
}

// Backend opens path and returns it as a backend whose halves share one
// pool.
func Backend(ctx context.Context, path string, opts Options) (*store.Backend, error) {
	s, err := Open(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return store.NewBackend(s, s, s.Close), nil
}

func (s *Store) migrate(ctx context.Context) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.pool.close() }

// withConn runs fn on a pooled connection.
func (s *Store) withConn(ctx context.Context, fn func(*sqlite.Conn) error) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)
	return fn(conn)
}

// withTx runs fn inside an IMMEDIATE transaction, which takes the write lock
// up front so reads made inside fn cannot go stale before the writes.
func (s *Store) withTx(ctx context.Context, fn func(*sqlite.Conn) error) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		end, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer end(&err)
		return fn(conn)
	})
}

// Chunks

func (s *Store) Put(ctx context.Context, hash string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`INSERT INTO chunks (hash, data) VALUES (?, ?) ON CONFLICT (hash) DO NOTHING`,
			&sqlitex.ExecOptions{Args: []any{hash, data}})
		if err != nil {
			return fmt.Errorf("put chunk %s: %w", hash, err)
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	var (
		data  []byte
		found bool
	)
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT data FROM chunks WHERE hash = ?`, &sqlitex.ExecOptions{
			Args: []any{hash},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				data = columnBlob(stmt, 0)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", hash, err)
	}
	if !found {
		return nil, fmt.Errorf("get chunk %s: %w", hash, store.ErrChunkNotFound)
	}
	return data, nil
}

func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	var found bool
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT 1 FROM chunks WHERE hash = ?`, &sqlitex.ExecOptions{
			Args:       []any{hash},
			ResultFunc: func(*sqlite.Stmt) error { found = true; return nil },
		})
	})
	if err != nil {
		return false, fmt.Errorf("stat chunk %s: %w", hash, err)
	}
	return found, nil
}

func (s *Store) Delete(ctx context.Context, hash string) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM chunks WHERE hash = ?`, &sqlitex.ExecOptions{Args: []any{hash}})
		if err != nil {
			return fmt.Errorf("delete chunk %s: %w", hash, err)
		}
		return nil
	})
}

func (s *Store) ListHashes(ctx context.Context) ([]string, error) {
	var out []string
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT hash FROM chunks ORDER BY hash`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, stmt.ColumnText(0))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return out, nil
}

func (s *Store) ListAll(ctx context.Context, fn func(store.Chunk) error) error {
	var fnErr error
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT hash, data FROM chunks ORDER BY hash`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if err := ctx.Err(); err != nil {
					fnErr = err
					return err
				}
				c := store.Chunk{Hash: stmt.ColumnText(0), Data: columnBlob(stmt, 1)}
				if err := fn(c); err != nil {
					fnErr = err
					return err
				}
				return nil
			},
		})
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("scan chunks: %w", err)
	}
	return nil
}

func columnBlob(stmt *sqlite.Stmt, col int) []byte {
	buf := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, buf)
	return buf
}

// Catalog

func (s *Store) CreateSnapshot(ctx context.Context, chunkSize int) (store.Snapshot, error) {
	snap := store.Snapshot{Timestamp: time.Now().UTC().Round(0), ChunkSize: chunkSize}
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`INSERT INTO snapshots (created_ns, chunk_size, committed) VALUES (?, ?, 0)`,
			&sqlitex.ExecOptions{Args: []any{snap.Timestamp.UnixNano(), chunkSize}})
		if err != nil {
			return err
		}
		snap.ID = conn.LastInsertRowID()
		return nil
	})
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("create snapshot: %w", err)
	}
	return snap, nil
}

// state returns whether snapshot id exists and whether it is committed.
func state(conn *sqlite.Conn, id int64) (exists, committed bool, err error) {
	err = sqlitex.Execute(conn, `SELECT committed FROM snapshots WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			exists = true
			committed = stmt.ColumnInt(0) != 0
			return nil
		},
	})
	return exists, committed, err
}

// stagedOnly fails unless snapshot id exists and is still staged.
func stagedOnly(conn *sqlite.Conn, id int64) error {
	exists, committed, err := state(conn, id)
	switch {
	case err != nil:
		return err
	case !exists:
		return fmt.Errorf("snapshot %d: %w", id, store.ErrSnapshotNotFound)
	case committed:
		return fmt.Errorf("snapshot %d: %w", id, store.ErrSnapshotCommitted)
	}
	return nil
}

func (s *Store) AddFileEntry(ctx context.Context, snapshotID int64, entry store.FileEntry) error {
	err := s.withTx(ctx, func(conn *sqlite.Conn) error {
		if err := stagedOnly(conn, snapshotID); err != nil {
			return err
		}

		var dup bool
		err := sqlitex.Execute(conn, `SELECT 1 FROM file_entries WHERE snapshot_id = ? AND path = ?`, &sqlitex.ExecOptions{
			Args:       []any{snapshotID, entry.Path},
			ResultFunc: func(*sqlite.Stmt) error { dup = true; return nil },
		})
		if err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("%q: %w", entry.Path, store.ErrDuplicateEntry)
		}

		err = sqlitex.Execute(conn, `INSERT INTO file_entries (snapshot_id, path, size) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{snapshotID, entry.Path, entry.Size}})
		if err != nil {
			return err
		}

		stmt := conn.Prep(`INSERT INTO file_chunks (snapshot_id, path, seq, hash) VALUES (?, ?, ?, ?)`)
		for seq, h := range entry.Chunks {
			stmt.BindInt64(1, snapshotID)
			stmt.BindText(2, entry.Path)
			stmt.BindInt64(3, int64(seq))
			stmt.BindText(4, h)
			if _, err := stmt.Step(); err != nil {
				return err
			}
			if err := stmt.Reset(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add file entry: %w", err)
	}
	return nil
}

func (s *Store) CommitSnapshot(ctx context.Context, snapshotID int64) error {
	err := s.withTx(ctx, func(conn *sqlite.Conn) error {
		if err := stagedOnly(conn, snapshotID); err != nil {
			return err
		}
		return sqlitex.Execute(conn, `UPDATE snapshots SET committed = 1 WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{snapshotID}})
	})
	if err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, id int64) (store.Snapshot, error) {
	var snaps []store.Snapshot
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		var err error
		snaps, err = loadSnapshots(conn, `WHERE id = ? AND committed = 1`, id)
		return err
	})
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("get snapshot %d: %w", id, err)
	}
	if len(snaps) == 0 {
		return store.Snapshot{}, fmt.Errorf("snapshot %d: %w", id, store.ErrSnapshotNotFound)
	}
	return snaps[0], nil
}

func (s *Store) ListSnapshots(ctx context.Context) ([]store.Snapshot, error) {
	var snaps []store.Snapshot
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		var err error
		snaps, err = loadSnapshots(conn, `WHERE committed = 1`)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snaps, nil
}

func (s *Store) ListStaged(ctx context.Context) ([]store.Snapshot, error) {
	var snaps []store.Snapshot
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		var err error
		snaps, err = loadHeaders(conn, `WHERE committed = 0`)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list staged snapshots: %w", err)
	}
	return snaps, nil
}

func loadHeaders(conn *sqlite.Conn, where string, args ...any) ([]store.Snapshot, error) {
	var out []store.Snapshot
	err := sqlitex.Execute(conn,
		`SELECT id, created_ns, chunk_size, committed FROM snapshots `+where+` ORDER BY id`,
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, store.Snapshot{
					ID:        stmt.ColumnInt64(0),
					Timestamp: time.Unix(0, stmt.ColumnInt64(1)).UTC(),
					ChunkSize: stmt.ColumnInt(2),
					Committed: stmt.ColumnInt(3) != 0,
				})
				return nil
			},
		})
	return out, err
}

// loadSnapshots reads headers and then hydrates every file entry with its
// ordered chunk list.
func loadSnapshots(conn *sqlite.Conn, where string, args ...any) ([]store.Snapshot, error) {
	snaps, err := loadHeaders(conn, where, args...)
	if err != nil || len(snaps) == 0 {
		return snaps, err
	}

	for i := range snaps {
		files, err := loadFiles(conn, snaps[i].ID)
		if err != nil {
			return nil, err
		}
		snaps[i].Files = files
	}
	return snaps, nil
}

func loadFiles(conn *sqlite.Conn, id int64) ([]store.FileEntry, error) {
	var files []store.FileEntry
	err := sqlitex.Execute(conn, `
		SELECT e.path, e.size, c.hash
		FROM file_entries e
		LEFT JOIN file_chunks c ON c.snapshot_id = e.snapshot_id AND c.path = e.path
		WHERE e.snapshot_id = ?
		ORDER BY e.path, c.seq`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				path := stmt.ColumnText(0)
				if n := len(files); n == 0 || files[n-1].Path != path {
					files = append(files, store.FileEntry{Path: path, Size: stmt.ColumnInt64(1)})
				}
				if !stmt.ColumnIsNull(2) {
					last := &files[len(files)-1]
					last.Chunks = append(last.Chunks, stmt.ColumnText(2))
				}
				return nil
			},
		})
	return files, err
}

func (s *Store) DeleteSnapshot(ctx context.Context, id int64) error {
	err := s.withTx(ctx, func(conn *sqlite.Conn) error {
		exists, _, err := state(conn, id)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("snapshot %d: %w", id, store.ErrSnapshotNotFound)
		}
		// entries first, then the header
		for _, q := range []string{
			`DELETE FROM file_chunks WHERE snapshot_id = ?`,
			`DELETE FROM file_entries WHERE snapshot_id = ?`,
			`DELETE FROM snapshots WHERE id = ?`,
		} {
			if err := sqlitex.Execute(conn, q, &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *Store) AllReferencedChunkHashes(ctx context.Context) (map[string]struct{}, error) {
	refs := make(map[string]struct{})
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT DISTINCT hash FROM file_chunks`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				refs[stmt.ColumnText(0)] = struct{}{}
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("collect references: %w", err)
	}
	return refs, nil
}
