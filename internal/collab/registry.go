// ABOUTME: In-memory authoritative registry for collaborative debate sessions.
// ABOUTME: Mutations commit synchronously, then enqueue fire-and-forget persistence.

package collab

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/errs"
	"github.com/2389/parley/internal/ledger"
)

// defaultStaleThreshold is used when the registry is constructed with a
// non-positive threshold. A debating session older than this at restore
// time is reclassified to archived.
const defaultStaleThreshold = 2 * time.Hour

// SessionStore defines what the registry needs from durable storage.
type SessionStore interface {
	Save(ctx context.Context, session *Session) error
	Load(ctx context.Context, sessionKey string) (*Session, error)
	LoadAll(ctx context.Context) (map[string]*Session, error)
	Delete(ctx context.Context, sessionKey string) error
}

// EventRecorder defines the optional audit sink for debate events.
type EventRecorder interface {
	Record(ctx context.Context, event *ledger.Event) error
}

// Registry owns all active collaboration sessions. Every mutating
// operation updates memory under the lock, then enqueues a full-session
// write; the caller never waits on durability.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	store          SessionStore
	writer         *writer
	logger         *slog.Logger
	staleThreshold time.Duration

	readyOnce sync.Once
	readyCh   chan struct{}
}

// NewRegistry creates a registry backed by the given store. The recorder
// may be nil to disable the audit ledger. The registry is not ready to
// serve until Restore has completed.
func NewRegistry(store SessionStore, recorder EventRecorder, staleThreshold time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "collab")
	if staleThreshold <= 0 {
		staleThreshold = defaultStaleThreshold
	}
	return &Registry{
		sessions:       make(map[string]*Session),
		store:          store,
		writer:         newWriter(store, recorder, logger),
		logger:         logger,
		staleThreshold: staleThreshold,
		readyCh:        make(chan struct{}),
	}
}

// Restore loads all persisted sessions, reclassifies stale debating
// sessions to archived, and atomically replaces the in-memory map.
// Callers before completion must not observe a partially loaded
// registry, so the new map is built fully before the swap.
func (r *Registry) Restore(ctx context.Context) error {
	loaded, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading persisted sessions: %w", err)
	}

	now := time.Now()
	restored := make(map[string]*Session, len(loaded))
	archived := 0
	for key, session := range loaded {
		if session.Status == StatusDebating && now.Sub(session.CreatedAt) > r.staleThreshold {
			// The persisted copy is rewritten lazily: the next mutation,
			// if any, re-persists the archived status.
			session.Status = StatusArchived
			archived++
			r.logger.Info("archived stale session",
				"session_key", key,
				"age", now.Sub(session.CreatedAt).Round(time.Second),
			)
		}
		restored[key] = session
	}

	r.mu.Lock()
	r.sessions = restored
	r.mu.Unlock()

	r.readyOnce.Do(func() { close(r.readyCh) })

	r.logger.Info("registry restored",
		"sessions", len(restored),
		"archived_stale", archived,
	)
	return nil
}

// Ready reports whether Restore has completed.
func (r *Registry) Ready() bool {
	select {
	case <-r.readyCh:
		return true
	default:
		return false
	}
}

// WaitReady blocks until Restore completes or ctx expires.
func (r *Registry) WaitReady(ctx context.Context) error {
	select {
	case <-r.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until all queued persistence writes have landed. Tests
// only; the request path never awaits durability.
func (r *Registry) Flush(ctx context.Context) error {
	return r.writer.flush(ctx)
}

// Init creates a new session in planning status. At least two agents are
// required. When sessionKey is empty one is derived from the topic and
// creation time.
func (r *Registry) Init(sessionKey, topic string, agents []string, moderator string) (*Session, error) {
	if topic == "" {
		return nil, errs.InvalidRequest("topic is required")
	}
	if len(agents) < 2 {
		return nil, errs.InvalidRequest("a collaboration needs at least 2 agents, got %d", len(agents))
	}

	now := time.Now()
	if sessionKey == "" {
		sessionKey = fmt.Sprintf("collab:%s:%d", slugify(topic), now.UnixMilli())
	}

	members := make([]string, len(agents))
	copy(members, agents)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionKey]; exists {
		return nil, errs.InvalidRequest("session %q already exists", sessionKey)
	}

	session := &Session{
		SessionKey: sessionKey,
		Topic:      topic,
		CreatedAt:  now,
		Members:    members,
		Status:     StatusPlanning,
		Moderator:  moderator,
	}
	r.sessions[sessionKey] = session

	r.logger.Info("collaboration session created",
		"session_key", sessionKey,
		"topic", topic,
		"members", len(members),
	)

	r.persistLocked(session, r.event("session_init", session.SessionKey, moderator, "", topic))
	return session.Clone(), nil
}

// PublishProposal appends a proposal for decisionTopic, creating the
// Decision on first use, and moves a planning session to debating. Only
// session members may propose.
func (r *Registry) PublishProposal(sessionKey, agentID, decisionTopic, proposal, reasoning string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionKey]
	if !ok {
		return "", errs.NotFound("session %q not found", sessionKey)
	}
	if !session.HasMember(agentID) {
		return "", errs.Forbidden("agent %q is not a member of session %q", agentID, sessionKey)
	}

	now := time.Now()
	decision := session.DecisionByTopic(decisionTopic)
	if decision == nil {
		decision = &Decision{
			ID:    fmt.Sprintf("decision:%s:%d", slugify(decisionTopic), now.UnixMilli()),
			Topic: decisionTopic,
		}
		session.Decisions = append(session.Decisions, decision)
	}

	decision.Proposals = append(decision.Proposals, &Proposal{
		From:      agentID,
		Proposal:  proposal,
		Reasoning: reasoning,
		Timestamp: now,
	})
	session.Messages = append(session.Messages, &Message{
		ID:                 uuid.New().String(),
		Type:               MessageProposal,
		From:               agentID,
		Content:            proposal,
		ReferencesDecision: decision.ID,
		Timestamp:          now,
	})
	if session.Status == StatusPlanning {
		session.Status = StatusDebating
	}

	r.persistLocked(session, r.event("proposal", sessionKey, agentID, decision.ID, proposal))
	return decision.ID, nil
}

// ChallengeProposal appends a challenge message referencing the
// decision. Membership is deliberately not re-validated here; only the
// session and decision must exist.
func (r *Registry) ChallengeProposal(sessionKey, decisionID, agentID, challenge, suggestedAlternative string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionKey]
	if !ok {
		return errs.NotFound("session %q not found", sessionKey)
	}
	if session.FindDecision(decisionID) == nil {
		return errs.NotFound("decision %q not found in session %q", decisionID, sessionKey)
	}

	content := challenge
	if suggestedAlternative != "" {
		content += "\nSuggested alternative: " + suggestedAlternative
	}
	session.Messages = append(session.Messages, &Message{
		ID:                 uuid.New().String(),
		Type:               MessageChallenge,
		From:               agentID,
		Content:            content,
		ReferencesDecision: decisionID,
		Timestamp:          time.Now(),
	})

	r.persistLocked(session, r.event("challenge", sessionKey, agentID, decisionID, content))
	return nil
}

// AgreeToProposal records an agent's agreement. Re-agreeing is
// idempotent, and agreeing removes the agent from the disagreed set. A
// finalized decision is left untouched.
func (r *Registry) AgreeToProposal(sessionKey, decisionID, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionKey]
	if !ok {
		return errs.NotFound("session %q not found", sessionKey)
	}
	decision := session.FindDecision(decisionID)
	if decision == nil {
		return errs.NotFound("decision %q not found in session %q", decisionID, sessionKey)
	}
	if decision.Consensus != nil && !decision.Consensus.DecidedAt.IsZero() {
		// Consensus is immutable once finalized
		return nil
	}

	if decision.Consensus == nil {
		decision.Consensus = &Consensus{}
	}
	c := decision.Consensus
	if !slices.Contains(c.Agreed, agentID) {
		c.Agreed = append(c.Agreed, agentID)
	}
	if i := slices.Index(c.Disagreed, agentID); i >= 0 {
		c.Disagreed = slices.Delete(c.Disagreed, i, i+1)
	}

	session.Messages = append(session.Messages, &Message{
		ID:                 uuid.New().String(),
		Type:               MessageAgreement,
		From:               agentID,
		Content:            "agrees with the current proposal",
		ReferencesDecision: decisionID,
		Timestamp:          time.Now(),
	})

	r.persistLocked(session, r.event("agreement", sessionKey, agentID, decisionID, ""))
	return nil
}

// FinalizeDecision records the consensus outcome. Finalization is
// authoritative: every member is marked agreed regardless of prior
// challenge or agreement history, and the session becomes decided. The
// minimum-round gate is the caller layer's responsibility, not this
// registry's.
func (r *Registry) FinalizeDecision(sessionKey, decisionID, finalDecision, moderatorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionKey]
	if !ok {
		return errs.NotFound("session %q not found", sessionKey)
	}
	decision := session.FindDecision(decisionID)
	if decision == nil {
		return errs.NotFound("decision %q not found in session %q", decisionID, sessionKey)
	}

	now := time.Now()
	agreed := make([]string, len(session.Members))
	copy(agreed, session.Members)
	decision.Consensus = &Consensus{
		Agreed:        agreed,
		Disagreed:     []string{},
		FinalDecision: finalDecision,
		DecidedAt:     now,
		DecidedBy:     moderatorID,
	}
	session.Messages = append(session.Messages, &Message{
		ID:                 uuid.New().String(),
		Type:               MessageDecision,
		From:               moderatorID,
		Content:            finalDecision,
		ReferencesDecision: decisionID,
		Timestamp:          now,
	})
	session.Status = StatusDecided

	r.logger.Info("decision finalized",
		"session_key", sessionKey,
		"decision_id", decisionID,
		"decided_by", moderatorID,
	)

	r.persistLocked(session, r.event("decision", sessionKey, moderatorID, decisionID, finalDecision))
	return nil
}

// GetContext returns a deep copy of the session, or nil if unknown.
func (r *Registry) GetContext(sessionKey string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionKey].Clone()
}

// ListAll returns copies of every session, sorted by creation time then
// session key for deterministic output.
func (r *Registry) ListAll() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s.Clone())
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].SessionKey < sessions[j].SessionKey
	})
	return sessions
}

// ThreadMessages returns copies of all messages in the session that
// reference the given decision.
func (r *Registry) ThreadMessages(sessionKey, decisionID string) ([]*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionKey]
	if !ok {
		return nil, errs.NotFound("session %q not found", sessionKey)
	}
	if session.FindDecision(decisionID) == nil {
		return nil, errs.NotFound("decision %q not found in session %q", decisionID, sessionKey)
	}

	var thread []*Message
	for _, m := range session.Messages {
		if m.ReferencesDecision == decisionID {
			msg := *m
			thread = append(thread, &msg)
		}
	}
	return thread, nil
}

// RoundCount recomputes the debate round count for a session.
func (r *Registry) RoundCount(sessionKey string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionKey]
	if !ok {
		return 0, errs.NotFound("session %q not found", sessionKey)
	}
	return session.RoundCount(), nil
}

// persistLocked snapshots the session and enqueues the write. Must be
// called with the registry lock held so queue order matches mutation
// order.
func (r *Registry) persistLocked(session *Session, events ...*ledger.Event) {
	r.writer.enqueue(writeJob{session: session.Clone(), events: events})
}

func (r *Registry) event(kind, sessionKey, actor, decisionID, body string) *ledger.Event {
	return &ledger.Event{
		ID:        uuid.New().String(),
		Scope:     ledger.ScopeCollab,
		Key:       sessionKey,
		Kind:      kind,
		Actor:     actor,
		RefID:     decisionID,
		Body:      body,
		CreatedAt: time.Now(),
	}
}
