package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keshon/snapvault/internal/store"
)

// CheckOptions selects optional integrity checks.
type CheckOptions struct {
	// References also verifies that every hash the catalog references is
	// present in the chunk store.
	References bool
}

// Mismatch is a stored chunk whose bytes no longer hash to its key. Actual
// is empty when the payload could not be decoded; Err says why.
type Mismatch struct {
	Hash   string
	Actual string
	Err    string
}

type IntegrityReport struct {
	Checked   int
	Corrupted []Mismatch
	// Missing lists referenced hashes absent from the store. Only filled
	// when CheckOptions.References is set.
	Missing []string
}

// CorruptCount is the number of corrupted chunks.
func (r IntegrityReport) CorruptCount() int { return len(r.Corrupted) }

// Healthy reports whether nothing was found wrong.
func (r IntegrityReport) Healthy() bool { return len(r.Corrupted) == 0 && len(r.Missing) == 0 }

// CheckIntegrity rehashes every stored chunk and reports each mismatch. It
// never modifies the store and keeps scanning past corrupt entries.
func (e *Engine) CheckIntegrity(ctx context.Context, opts CheckOptions) (IntegrityReport, error) {
	e.gate.RLock()
	defer e.gate.RUnlock()

	start := time.Now()
	var (
		report IntegrityReport
		mu     sync.Mutex
		wg     sync.WaitGroup
	)

	jobs := make(chan store.Chunk, e.opts.Workers)
	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				m, ok := e.verifyChunk(c)
				mu.Lock()
				report.Checked++
				if !ok {
					report.Corrupted = append(report.Corrupted, m)
				}
				mu.Unlock()
			}
		}()
	}

	err := e.chunks.ListAll(ctx, func(c store.Chunk) error {
		select {
		case jobs <- c:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	close(jobs)
	wg.Wait()
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("check integrity: %w", err)
	}
	sort.Slice(report.Corrupted, func(i, j int) bool { return report.Corrupted[i].Hash < report.Corrupted[j].Hash })

	if opts.References {
		if report.Missing, err = e.missingReferences(ctx); err != nil {
			return IntegrityReport{}, fmt.Errorf("check integrity: %w", err)
		}
	}

	e.log.WithFields(logrus.Fields{
		"checked":   report.Checked,
		"corrupted": len(report.Corrupted),
		"missing":   len(report.Missing),
		"duration":  time.Since(start).Round(time.Millisecond),
	}).Info("integrity check finished")
	return report, nil
}

func (e *Engine) verifyChunk(c store.Chunk) (Mismatch, bool) {
	data, err := e.codec.Decode(c.Data)
	if err != nil {
		return Mismatch{Hash: c.Hash, Err: err.Error()}, false
	}
	if actual := e.opts.Hash.Sum(data); actual != c.Hash {
		return Mismatch{Hash: c.Hash, Actual: actual}, false
	}
	return Mismatch{}, true
}

func (e *Engine) missingReferences(ctx context.Context) ([]string, error) {
	refs, err := e.catalog.AllReferencedChunkHashes(ctx)
	if err != nil {
		return nil, err
	}
	var missing []string
	for h := range refs {
		ok, err := e.chunks.Exists(ctx, h)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, h)
		}
	}
	sort.Strings(missing)
	return missing, nil
}
