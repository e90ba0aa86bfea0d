// ABOUTME: In-memory registry of delegation records with per-agent queries.
// ABOUTME: Records are process-lifetime scoped; only the audit ledger outlives them.

package delegation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/ledger"
)

// recordTimeout bounds each detached ledger write.
const recordTimeout = 5 * time.Second

// EventRecorder defines the optional audit sink for delegation events.
type EventRecorder interface {
	Record(ctx context.Context, event *ledger.Event) error
}

// RegisterRequest carries everything needed to register a handoff.
type RegisterRequest struct {
	FromAgentID    string
	FromSessionKey string
	FromRole       Role
	ToAgentID      string
	ToRole         Role
	Task           string
	Priority       string
	Justification  string
}

// Registry tracks all delegation records for the process. It is
// independent of the collaboration registry and holds one mutex over one
// map, never held across I/O.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string

	seq      atomic.Uint64
	recorder EventRecorder
	logger   *slog.Logger
}

// NewRegistry creates an empty delegation registry. The recorder may be
// nil to disable the audit ledger.
func NewRegistry(recorder EventRecorder, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		records:  make(map[string]*Record),
		recorder: recorder,
		logger:   logger.With("component", "delegation"),
	}
}

// Register creates a new delegation record. Direction is classified from
// the role ranks: downward handoffs start assigned, upward escalations
// start pending_review.
func (r *Registry) Register(req RegisterRequest) *Record {
	now := time.Now()

	direction := DirectionUpward
	state := StatePendingReview
	if rank(req.FromRole) > rank(req.ToRole) {
		direction = DirectionDownward
		state = StateAssigned
	}

	// Wall-clock milliseconds alone collide for rapid registrations, so
	// a monotonic sequence number keeps ids unique within one tick.
	id := fmt.Sprintf("deleg:%s:%s:%d:%d", req.FromAgentID, req.ToAgentID, now.UnixMilli(), r.seq.Add(1))

	record := &Record{
		ID:             id,
		FromAgentID:    req.FromAgentID,
		FromSessionKey: req.FromSessionKey,
		FromRole:       req.FromRole,
		ToAgentID:      req.ToAgentID,
		ToRole:         req.ToRole,
		Task:           req.Task,
		Priority:       req.Priority,
		Justification:  req.Justification,
		Direction:      direction,
		State:          state,
		CreatedAt:      now,
	}

	r.mu.Lock()
	r.records[id] = record
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.logger.Info("delegation registered",
		"delegation_id", id,
		"from", req.FromAgentID,
		"to", req.ToAgentID,
		"direction", direction,
		"state", state,
	)

	r.record("delegation_registered", record, req.Task)
	return record.clone()
}

// Accept moves an active delegation to in_progress, signalling that the
// receiving agent has picked the task up. Returns nil if the id is
// unknown or the record is already in progress or terminal.
func (r *Registry) Accept(id string) *Record {
	r.mu.Lock()
	record, ok := r.records[id]
	if !ok || record.State == StateInProgress || record.State.IsTerminal() {
		r.mu.Unlock()
		return nil
	}
	record.State = StateInProgress
	snapshot := record.clone()
	r.mu.Unlock()

	r.record("delegation_accepted", snapshot, "")
	return snapshot
}

// Complete transitions a delegation to its terminal state. Returns nil
// if the id is unknown or the record is already terminal; completing
// twice is an idempotent no-op, not an error.
func (r *Registry) Complete(id string, result Result) *Record {
	r.mu.Lock()
	record, ok := r.records[id]
	if !ok || record.State.IsTerminal() {
		r.mu.Unlock()
		return nil
	}

	now := time.Now()
	if result.Status == ResultSuccess {
		record.State = StateCompleted
	} else {
		record.State = StateFailed
	}
	res := result
	record.Result = &res
	record.CompletedAt = &now
	snapshot := record.clone()
	r.mu.Unlock()

	r.logger.Info("delegation completed",
		"delegation_id", id,
		"state", snapshot.State,
	)

	r.record("delegation_completed", snapshot, string(result.Status))
	return snapshot
}

// Get returns a copy of the record, or nil if unknown.
func (r *Registry) Get(id string) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[id]
	if !ok {
		return nil
	}
	return record.clone()
}

// ListForAgent returns copies of every record where the agent is sender
// or receiver, in registration order. Callers filter by state or role as
// needed; the registry does not pre-filter "active".
func (r *Registry) ListForAgent(agentID string) []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Record
	for _, id := range r.order {
		record := r.records[id]
		if record.ToAgentID == agentID || record.FromAgentID == agentID {
			out = append(out, record.clone())
		}
	}
	return out
}

// record writes an audit event on a detached context so a slow ledger
// never blocks the request path. Failures are logged and swallowed.
func (r *Registry) record(kind string, rec *Record, body string) {
	if r.recorder == nil {
		return
	}
	event := &ledger.Event{
		ID:        uuid.New().String(),
		Scope:     ledger.ScopeDelegation,
		Key:       rec.ID,
		Kind:      kind,
		Actor:     rec.FromAgentID,
		Body:      body,
		CreatedAt: time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := r.recorder.Record(ctx, event); err != nil {
			r.logger.Error("failed to record delegation event",
				"error", err,
				"delegation_id", rec.ID,
				"kind", kind,
			)
		}
	}()
}
