// ABOUTME: Tests for the collaboration registry
// ABOUTME: Verifies debate lifecycle, consensus rules, restore, and persistence ordering

package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/errs"
	"github.com/2389/parley/internal/ledger"
)

// memStore implements SessionStore in memory for testing
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*Session)}
}

func (m *memStore) Save(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.SessionKey] = session.Clone()
	return nil
}

func (m *memStore) Load(_ context.Context, sessionKey string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionKey]; ok {
		return s.Clone(), nil
	}
	return nil, errs.NotFound("session %q not found", sessionKey)
}

func (m *memStore) LoadAll(_ context.Context) (map[string]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Session, len(m.sessions))
	for k, s := range m.sessions {
		out[k] = s.Clone()
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, sessionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionKey)
	return nil
}

func (m *memStore) get(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[key].Clone()
}

// memRecorder captures ledger events in memory
type memRecorder struct {
	mu     sync.Mutex
	events []*ledger.Event
}

func (m *memRecorder) Record(_ context.Context, event *ledger.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memRecorder) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Kind
	}
	return out
}

func setupTestRegistry(t *testing.T) (*Registry, *memStore, *memRecorder) {
	t.Helper()
	st := newMemStore()
	rec := &memRecorder{}
	reg := NewRegistry(st, rec, 2*time.Hour, nil)
	require.NoError(t, reg.Restore(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Flush(ctx)
	})
	return reg, st, rec
}

func TestRegistry_Init_CreatesPlanningSession(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)

	session, err := reg.Init("", "Cache Strategy", []string{"agent-a", "agent-b"}, "agent-lead")
	require.NoError(t, err)

	assert.Equal(t, StatusPlanning, session.Status)
	assert.Equal(t, []string{"agent-a", "agent-b"}, session.Members)
	assert.Equal(t, "agent-lead", session.Moderator)
	assert.Contains(t, session.SessionKey, "collab:cache-strategy:")
	assert.Zero(t, session.RoundCount())
}

func TestRegistry_Init_RequiresTopicAndTwoAgents(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)

	_, err := reg.Init("", "", []string{"a", "b"}, "")
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidRequest, errs.KindOf(err))

	_, err = reg.Init("", "Topic", []string{"solo"}, "")
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidRequest, errs.KindOf(err))
}

func TestRegistry_Init_RejectsDuplicateKey(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)

	_, err := reg.Init("collab:fixed", "Topic", []string{"a", "b"}, "")
	require.NoError(t, err)

	_, err = reg.Init("collab:fixed", "Other Topic", []string{"a", "b"}, "")
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidRequest, errs.KindOf(err))
}

func TestRegistry_PublishProposal_MovesPlanningToDebating(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)
	session, err := reg.Init("", "Topic", []string{"a", "b"}, "")
	require.NoError(t, err)

	decisionID, err := reg.PublishProposal(session.SessionKey, "a", "cache backend", "use redis", "battle tested")
	require.NoError(t, err)
	assert.Contains(t, decisionID, "decision:cache-backend:")

	got := reg.GetContext(session.SessionKey)
	assert.Equal(t, StatusDebating, got.Status)
	require.Len(t, got.Decisions, 1)
	assert.Len(t, got.Decisions[0].Proposals, 1)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, MessageProposal, got.Messages[0].Type)
	assert.Equal(t, decisionID, got.Messages[0].ReferencesDecision)
}

func TestRegistry_PublishProposal_SameTopicReusesDecision(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)
	session, err := reg.Init("", "Topic", []string{"a", "b"}, "")
	require.NoError(t, err)

	first, err := reg.PublishProposal(session.SessionKey, "a", "cache backend", "use redis", "")
	require.NoError(t, err)
	second, err := reg.PublishProposal(session.SessionKey, "b", "cache backend", "use memcached", "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	got := reg.GetContext(session.SessionKey)
	require.Len(t, got.Decisions, 1)
	assert.Len(t, got.Decisions[0].Proposals, 2)
}

func TestRegistry_PublishProposal_EnforcesMembership(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)
	session, err := reg.Init("", "Topic", []string{"a", "b"}, "")
	require.NoError(t, err)

	_, err = reg.PublishProposal(session.SessionKey, "outsider", "topic", "proposal", "")
	require.Error(t, err)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	_, err = reg.PublishProposal("collab:missing", "a", "topic", "proposal", "")
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestRegistry_ChallengeProposal_AllowsNonMembers(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)
	session, err := reg.Init("", "Topic", []string{"a", "b"}, "")
	require.NoError(t, err)
	decisionID, err := reg.PublishProposal(session.SessionKey, "a", "topic", "proposal", "")
	require.NoError(t, err)

	// Challenges are open to any agent, including non-members
	err = reg.ChallengeProposal(session.SessionKey, decisionID, "outsider", "too slow", "use a write-through cache")
	require.NoError(t, err)

	got := reg.GetContext(session.SessionKey)
	require.Len(t, got.Messages, 2)
	challenge := got.Messages[1]
	assert.Equal(t, MessageChallenge, challenge.Type)
	assert.Equal(t, "outsider", challenge.From)
	assert.Contains(t, challenge.Content, "too slow")
	assert.Contains(t, challenge.Content, "Suggested alternative: use a write-through cache")
}

func TestRegistry_ChallengeProposal_UnknownDecision(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)
	session, err := reg.Init("", "Topic", []string{"a", "b"}, "")
	require.NoError(t, err)

	err = reg.ChallengeProposal(session.SessionKey, "decision:missing", "a", "challenge", "")
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestRegistry_AgreeToProposal_IsIdempotent(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)
	session, err := reg.Init("", "Topic", []string{"a", "b"}, "")
	require.NoError(t, err)
	decisionID, err := reg.PublishProposal(session.SessionKey, "a", "topic", "proposal", "")
	require.NoError(t, err)

	require.NoError(t, reg.AgreeToProposal(session.SessionKey, decisionID, "b"))
	require.NoError(t, reg.AgreeToProposal(session.SessionKey, decisionID, "b"))

	got := reg.GetContext(session.SessionKey)
	assert.Equal(t, []string{"b"}, got.Decisions[0].Consensus.Agreed)
}

func TestRegistry_AgreeToProposal_RemovesFromDisagreed(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)
	session, err := reg.Init("", "Topic", []string{"a", "b"}, "")
	require.NoError(t, err)
	decisionID, err := reg.PublishProposal(session.SessionKey, "a", "topic", "proposal", "")
	require.NoError(t, err)

	reg.mu.Lock()
	reg.sessions[session.SessionKey].FindDecision(decisionID).Consensus = &Consensus{
		Disagreed: []string{"b"},
	}
	reg.mu.Unlock()

	require.NoError(t, reg.AgreeToProposal(session.SessionKey, decisionID, "b"))

	got := reg.GetContext(session.SessionKey)
	c := got.Decisions[0].Consensus
	assert.Equal(t, []string{"b"}, c.Agreed)
	assert.Empty(t, c.Disagreed)
}

func TestRegistry_AgreeToProposal_NoOpAfterFinalize(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)
	session, err := reg.Init("", "Topic", []string{"a", "b"}, "mod")
	require.NoError(t, err)
	decisionID, err := reg.PublishProposal(session.SessionKey, "a", "topic", "proposal", "")
	require.NoError(t, err)
	require.NoError(t, reg.FinalizeDecision(session.SessionKey, decisionID, "ship it", "mod"))

	before := reg.GetContext(session.SessionKey)
	require.NoError(t, reg.AgreeToProposal(session.SessionKey, decisionID, "a"))
	after := reg.GetContext(session.SessionKey)

	assert.Equal(t, before.Decisions[0].Consensus, after.Decisions[0].Consensus)
	assert.Len(t, after.Messages, len(before.Messages))
}

func TestRegistry_FinalizeDecision_MarksAllMembersAgreed(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)
	session, err := reg.Init("", "Topic", []string{"a", "b", "c"}, "mod")
	require.NoError(t, err)
	decisionID, err := reg.PublishProposal(session.SessionKey, "a", "topic", "proposal", "")
	require.NoError(t, err)

	// b challenged; finalization overrides any recorded disagreement
	require.NoError(t, reg.ChallengeProposal(session.SessionKey, decisionID, "b", "objection", ""))
	require.NoError(t, reg.FinalizeDecision(session.SessionKey, decisionID, "ship it", "mod"))

	got := reg.GetContext(session.SessionKey)
	assert.Equal(t, StatusDecided, got.Status)
	c := got.Decisions[0].Consensus
	require.NotNil(t, c)
	assert.Equal(t, []string{"a", "b", "c"}, c.Agreed)
	assert.Empty(t, c.Disagreed)
	assert.Equal(t, "ship it", c.FinalDecision)
	assert.Equal(t, "mod", c.DecidedBy)
	assert.False(t, c.DecidedAt.IsZero())

	last := got.Messages[len(got.Messages)-1]
	assert.Equal(t, MessageDecision, last.Type)
	assert.Equal(t, "mod", last.From)
}

func TestRegistry_GetContext_ReturnsIndependentCopy(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)
	session, err := reg.Init("", "Topic", []string{"a", "b"}, "")
	require.NoError(t, err)

	got := reg.GetContext(session.SessionKey)
	got.Members[0] = "tampered"
	got.Status = StatusArchived

	fresh := reg.GetContext(session.SessionKey)
	assert.Equal(t, "a", fresh.Members[0])
	assert.Equal(t, StatusPlanning, fresh.Status)
}

func TestRegistry_GetContext_UnknownSessionIsNil(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)
	assert.Nil(t, reg.GetContext("collab:missing"))
}

func TestRegistry_ListAll_SortedByCreation(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)

	_, err := reg.Init("collab:zzz", "First", []string{"a", "b"}, "")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = reg.Init("collab:aaa", "Second", []string{"a", "b"}, "")
	require.NoError(t, err)

	all := reg.ListAll()
	require.Len(t, all, 2)
	assert.Equal(t, "First", all[0].Topic)
	assert.Equal(t, "Second", all[1].Topic)
}

func TestRegistry_ThreadMessages_FiltersByDecision(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)
	session, err := reg.Init("", "Topic", []string{"a", "b"}, "")
	require.NoError(t, err)

	first, err := reg.PublishProposal(session.SessionKey, "a", "cache", "redis", "")
	require.NoError(t, err)
	second, err := reg.PublishProposal(session.SessionKey, "b", "queue", "nats", "")
	require.NoError(t, err)
	require.NoError(t, reg.ChallengeProposal(session.SessionKey, first, "b", "too heavy", ""))

	thread, err := reg.ThreadMessages(session.SessionKey, first)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	for _, m := range thread {
		assert.Equal(t, first, m.ReferencesDecision)
	}

	other, err := reg.ThreadMessages(session.SessionKey, second)
	require.NoError(t, err)
	assert.Len(t, other, 1)

	_, err = reg.ThreadMessages(session.SessionKey, "decision:missing")
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestRegistry_RoundCount_CountsProposalsAndChallenges(t *testing.T) {
	reg, _, _ := setupTestRegistry(t)
	session, err := reg.Init("", "Topic", []string{"a", "b"}, "mod")
	require.NoError(t, err)

	decisionID, err := reg.PublishProposal(session.SessionKey, "a", "topic", "proposal", "")
	require.NoError(t, err)
	require.NoError(t, reg.ChallengeProposal(session.SessionKey, decisionID, "b", "challenge", ""))
	require.NoError(t, reg.AgreeToProposal(session.SessionKey, decisionID, "b"))
	require.NoError(t, reg.FinalizeDecision(session.SessionKey, decisionID, "done", "mod"))

	// Agreements and decisions do not count as rounds
	rounds, err := reg.RoundCount(session.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, 2, rounds)
}

func TestRegistry_Restore_ArchivesStaleDebatingSessions(t *testing.T) {
	st := newMemStore()
	now := time.Now()
	st.sessions["collab:stale"] = &Session{
		SessionKey: "collab:stale",
		Topic:      "Old Debate",
		CreatedAt:  now.Add(-3 * time.Hour),
		Members:    []string{"a", "b"},
		Status:     StatusDebating,
	}
	st.sessions["collab:fresh"] = &Session{
		SessionKey: "collab:fresh",
		Topic:      "Fresh Debate",
		CreatedAt:  now.Add(-30 * time.Minute),
		Members:    []string{"a", "b"},
		Status:     StatusDebating,
	}
	st.sessions["collab:done"] = &Session{
		SessionKey: "collab:done",
		Topic:      "Settled",
		CreatedAt:  now.Add(-48 * time.Hour),
		Members:    []string{"a", "b"},
		Status:     StatusDecided,
	}

	reg := NewRegistry(st, nil, 2*time.Hour, nil)
	assert.False(t, reg.Ready())
	require.NoError(t, reg.Restore(context.Background()))
	assert.True(t, reg.Ready())

	assert.Equal(t, StatusArchived, reg.GetContext("collab:stale").Status)
	assert.Equal(t, StatusDebating, reg.GetContext("collab:fresh").Status)
	// Only debating sessions are subject to the stale check
	assert.Equal(t, StatusDecided, reg.GetContext("collab:done").Status)
}

func TestRegistry_WaitReady_BlocksUntilRestore(t *testing.T) {
	st := newMemStore()
	reg := NewRegistry(st, nil, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, reg.WaitReady(ctx))

	require.NoError(t, reg.Restore(context.Background()))
	assert.NoError(t, reg.WaitReady(context.Background()))
}

func TestRegistry_Flush_MakesWritesDurable(t *testing.T) {
	reg, st, rec := setupTestRegistry(t)

	session, err := reg.Init("", "Topic", []string{"a", "b"}, "mod")
	require.NoError(t, err)
	decisionID, err := reg.PublishProposal(session.SessionKey, "a", "topic", "proposal", "")
	require.NoError(t, err)
	require.NoError(t, reg.FinalizeDecision(session.SessionKey, decisionID, "final", "mod"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, reg.Flush(ctx))

	persisted := st.get(session.SessionKey)
	require.NotNil(t, persisted)
	// The last snapshot wins: durable state matches the final mutation
	assert.Equal(t, StatusDecided, persisted.Status)
	assert.Len(t, persisted.Messages, 2)

	assert.Equal(t, []string{"session_init", "proposal", "decision"}, rec.kinds())
}

func TestRegistry_SurvivesRestartRoundTrip(t *testing.T) {
	st := newMemStore()
	reg := NewRegistry(st, nil, 2*time.Hour, nil)
	require.NoError(t, reg.Restore(context.Background()))

	session, err := reg.Init("", "Cache Strategy", []string{"a", "b"}, "mod")
	require.NoError(t, err)
	decisionID, err := reg.PublishProposal(session.SessionKey, "a", "backend", "redis", "fast")
	require.NoError(t, err)
	require.NoError(t, reg.ChallengeProposal(session.SessionKey, decisionID, "b", "memory cost", ""))
	require.NoError(t, reg.FinalizeDecision(session.SessionKey, decisionID, "redis with eviction", "mod"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, reg.Flush(ctx))

	// Fresh registry over the same store sees the full history
	reg2 := NewRegistry(st, nil, 2*time.Hour, nil)
	require.NoError(t, reg2.Restore(context.Background()))

	got := reg2.GetContext(session.SessionKey)
	require.NotNil(t, got)
	assert.Equal(t, StatusDecided, got.Status)
	rounds, err := reg2.RoundCount(session.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, 2, rounds)
	assert.Equal(t, "redis with eviction", got.Decisions[0].Consensus.FinalDecision)
}
