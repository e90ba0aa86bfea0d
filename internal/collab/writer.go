// ABOUTME: Per-key serial persistence queue for fire-and-forget session writes
// ABOUTME: The request path never awaits durability; Flush exists for tests only

package collab

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/parley/internal/ledger"
)

// saveTimeout bounds each detached store write so a wedged disk cannot
// pile up goroutines forever.
const saveTimeout = 5 * time.Second

// writeJob carries one full-session snapshot plus the ledger events the
// mutation produced. Events ride the same queue so they land in order.
type writeJob struct {
	session *Session
	events  []*ledger.Event
}

// writer drains write jobs one key at a time. Two rapid mutations to the
// same session therefore persist in mutation order, while distinct
// sessions persist independently.
type writer struct {
	store    SessionStore
	recorder EventRecorder
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string][]writeJob
	active  map[string]bool
	wg      sync.WaitGroup
}

func newWriter(store SessionStore, recorder EventRecorder, logger *slog.Logger) *writer {
	return &writer{
		store:    store,
		recorder: recorder,
		logger:   logger,
		pending:  make(map[string][]writeJob),
		active:   make(map[string]bool),
	}
}

// enqueue schedules a write without blocking the caller. If no drainer
// is running for the key, one is started.
func (w *writer) enqueue(job writeJob) {
	key := job.session.SessionKey

	w.mu.Lock()
	w.pending[key] = append(w.pending[key], job)
	if !w.active[key] {
		w.active[key] = true
		w.wg.Add(1)
		go w.drain(key)
	}
	w.mu.Unlock()
}

// drain persists queued jobs for one key in FIFO order and exits when
// the queue is empty. Store and ledger failures are logged and
// swallowed; the originating call already succeeded in memory.
func (w *writer) drain(key string) {
	defer w.wg.Done()

	for {
		w.mu.Lock()
		queue := w.pending[key]
		if len(queue) == 0 {
			w.active[key] = false
			delete(w.pending, key)
			w.mu.Unlock()
			return
		}
		job := queue[0]
		w.pending[key] = queue[1:]
		w.mu.Unlock()

		w.persist(job)
	}
}

func (w *writer) persist(job writeJob) {
	// Detached context: persistence must not inherit request cancellation
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := w.store.Save(ctx, job.session); err != nil {
		w.logger.Error("failed to persist session",
			"error", err,
			"session_key", job.session.SessionKey,
		)
	}

	if w.recorder == nil {
		return
	}
	for _, event := range job.events {
		if err := w.recorder.Record(ctx, event); err != nil {
			w.logger.Error("failed to record ledger event",
				"error", err,
				"event_id", event.ID,
				"session_key", job.session.SessionKey,
			)
		}
	}
}

// flush blocks until every queued write has landed or ctx expires.
// Production code never calls this; it exists so tests can assert
// durable state.
func (w *writer) flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
