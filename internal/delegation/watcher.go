// ABOUTME: Run-lifecycle watcher that auto-completes delegations when a worker's run ends.
// ABOUTME: Deduplicates repeated notifications; completion itself is already idempotent.

package delegation

import (
	"log/slog"
	"sync"
	"time"
)

// RunEnded is the external notification that an agent run finished. The
// process that spawns and runs agents emits these; this core only
// consumes them.
type RunEnded struct {
	DelegationID string
	RunID        string
	Status       string // "succeeded" or any failure status from the runner
	Artifact     string
	Error        string
}

// Watcher routes run-ended notifications to the delegation registry,
// synthesizing the terminal result from the run's final status.
type Watcher struct {
	registry *Registry
	seen     *seenCache
	logger   *slog.Logger
}

// NewWatcher creates a watcher. Notifications for the same run seen
// within the TTL window are dropped as duplicate deliveries.
func NewWatcher(registry *Registry, ttl time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Watcher{
		registry: registry,
		seen:     newSeenCache(ttl, 4096),
		logger:   logger.With("component", "delegation-watcher"),
	}
}

// HandleRunEnded completes the delegation named by the notification.
// Returns the completed record, or nil when the notification is a
// duplicate, the id is unknown, or the record was already closed by
// another path. It never fails: the trigger must be safe to deliver more
// than once.
func (w *Watcher) HandleRunEnded(ev RunEnded) *Record {
	key := ev.DelegationID
	if ev.RunID != "" {
		key = ev.DelegationID + ":" + ev.RunID
	}
	if w.seen.checkAndMark(key) {
		w.logger.Debug("dropping duplicate run-ended notification",
			"delegation_id", ev.DelegationID,
			"run_id", ev.RunID,
		)
		return nil
	}

	result := Result{Status: ResultFailure, Error: ev.Error}
	if ev.Status == "succeeded" {
		result = Result{Status: ResultSuccess, Artifact: ev.Artifact}
	} else if result.Error == "" {
		result.Error = "run ended with status " + ev.Status
	}

	record := w.registry.Complete(ev.DelegationID, result)
	if record == nil {
		w.logger.Debug("run ended for unknown or already-closed delegation",
			"delegation_id", ev.DelegationID,
			"run_id", ev.RunID,
		)
		return nil
	}

	w.logger.Info("delegation auto-completed by run end",
		"delegation_id", record.ID,
		"state", record.State,
		"run_status", ev.Status,
	)
	return record
}

// seenCache is a small TTL cache for notification keys. Expired entries
// are reaped lazily on insert once the cache is full.
type seenCache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
}

func newSeenCache(ttl time.Duration, maxSize int) *seenCache {
	return &seenCache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// checkAndMark atomically checks whether key was seen within the TTL and
// marks it if not. Returns true for duplicates.
func (c *seenCache) checkAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if ts, ok := c.seen[key]; ok && now.Sub(ts) < c.ttl {
		return true
	}

	if len(c.seen) >= c.maxSize {
		for k, ts := range c.seen {
			if now.Sub(ts) >= c.ttl {
				delete(c.seen, k)
			}
		}
	}
	c.seen[key] = now
	return false
}
