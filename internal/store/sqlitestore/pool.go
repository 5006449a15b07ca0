package sqlitestore

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// pool is a fixed-size set of connections sharing the same pragmas.
// Individual connections are not safe for concurrent use; each goroutine
// takes its own and puts it back.
type pool struct {
	inner *sqlitex.Pool
	log   logrus.FieldLogger
	path  string
}

func openPool(path string, size int, log logrus.FieldLogger) (*pool, error) {
	if size <= 0 {
		size = runtime.NumCPU()
		if size < 4 {
			size = 4
		}
	}

	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	log.WithFields(logrus.Fields{"path": path, "pool_size": size}).Debug("sqlite pool opened")
	return &pool{inner: inner, log: log, path: path}, nil
}

func (p *pool) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite take: %w", err)
	}
	return conn, nil
}

func (p *pool) put(conn *sqlite.Conn) { p.inner.Put(conn) }

func (p *pool) close() error {
	if err := p.inner.Close(); err != nil {
		p.log.WithError(err).WithField("path", p.path).Error("sqlite pool close")
		return fmt.Errorf("close sqlite %s: %w", p.path, err)
	}
	p.log.WithField("path", p.path).Debug("sqlite pool closed")
	return nil
}

// WAL gives concurrent readers alongside the single writer. busy_timeout
// makes writers queue instead of failing with SQLITE_BUSY.
func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA cache_size=-8192",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}
