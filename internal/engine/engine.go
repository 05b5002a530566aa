package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lazypower/curator/internal/playbook"
	"github.com/lazypower/curator/internal/store"
)

// Engine ties the in-memory curator to its SQLite snapshot. Every mutating
// operation runs against the curator and then writes the whole playbook
// back, so a restart always resumes from the last completed operation.
type Engine struct {
	DB      *store.DB
	Curator *playbook.Curator

	mu     sync.Mutex // serializes operation-then-persist sequences
	stopCh chan struct{}
}

// Load hydrates an engine from the snapshot stored in db.
func Load(db *store.DB) (*Engine, error) {
	active, archived, err := db.LoadSnapshot()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	cur := playbook.NewCurator(active)
	cur.RestoreArchive(archived)

	return &Engine{
		DB:      db,
		Curator: cur,
		stopCh:  make(chan struct{}),
	}, nil
}

// persist writes the current collections through to SQLite. Callers hold e.mu.
func (e *Engine) persist() error {
	if err := e.DB.SaveSnapshot(e.Curator.Active(), e.Curator.Archived()); err != nil {
		return fmt.Errorf("persist playbook: %w", err)
	}
	return nil
}

// Merge folds delta bullets into the playbook and persists the result. The
// zero time means now.
func (e *Engine) Merge(deltas []*playbook.Bullet, at time.Time) (reinforced, added int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reinforced, added = e.Curator.MergeDeltas(deltas, at)
	if err := e.persist(); err != nil {
		return reinforced, added, err
	}
	return reinforced, added, nil
}

// Retrieve returns the topK most relevant bullets for the task. Retrieval
// records usage on what it returns, so the snapshot is persisted too.
func (e *Engine) Retrieve(taskType string, topK int, at time.Time) ([]*playbook.Bullet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bullets := e.Curator.Retrieve(taskType, topK, at)
	if len(bullets) == 0 {
		return bullets, nil
	}
	if err := e.persist(); err != nil {
		return bullets, err
	}
	return bullets, nil
}

// ArchiveSweep moves stale bullets to the archive and persists when
// anything moved.
func (e *Engine) ArchiveSweep(at time.Time) (playbook.ArchiveResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := e.Curator.ArchiveStale(at)
	if res.ArchivedCount == 0 {
		return res, nil
	}
	if err := e.persist(); err != nil {
		return res, err
	}
	return res, nil
}

// Stats reports the curator's temporal stats. Pure read, nothing persists.
func (e *Engine) Stats(at time.Time) playbook.Stats {
	return e.Curator.TemporalStats(at)
}

// Replace swaps in an entirely new playbook, as when importing an exported
// snapshot, and persists it.
func (e *Engine) Replace(active, archived []*playbook.Bullet) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Curator.RestoreActive(active)
	e.Curator.RestoreArchive(archived)
	return e.persist()
}

// StartArchiveTimer runs an archive sweep immediately and then on the given
// interval until Stop is called.
func (e *Engine) StartArchiveTimer(interval time.Duration) {
	sweep := func() {
		res, err := e.ArchiveSweep(time.Time{})
		if err != nil {
			log.Printf("archive sweep error: %v", err)
			return
		}
		if res.ArchivedCount > 0 {
			log.Printf("archive sweep: moved %d bullets, %d still active", res.ArchivedCount, res.ActiveCount)
		}
	}

	// Run once at startup
	sweep()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sweep()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	close(e.stopCh)
}
