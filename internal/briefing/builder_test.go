// ABOUTME: Tests for the briefing builder
// ABOUTME: Verifies protocol blocks, decision context, and the always-present escalation guidance

package briefing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/collab"
	"github.com/2389/parley/internal/delegation"
)

// fakeDebates implements DebateSource over a fixed session map
type fakeDebates struct {
	sessions map[string]*collab.Session
}

func (f *fakeDebates) GetContext(sessionKey string) *collab.Session {
	return f.sessions[sessionKey].Clone()
}

// fakeDelegations implements DelegationSource over a fixed record list
type fakeDelegations struct {
	records []*delegation.Record
}

func (f *fakeDelegations) ListForAgent(agentID string) []*delegation.Record {
	var out []*delegation.Record
	for _, r := range f.records {
		if r.ToAgentID == agentID || r.FromAgentID == agentID {
			out = append(out, r)
		}
	}
	return out
}

func TestBuilder_Build_ReceivedTasksGetMandatoryProtocol(t *testing.T) {
	b := NewBuilder(&fakeDebates{}, &fakeDelegations{records: []*delegation.Record{
		{
			ID: "deleg:1", FromAgentID: "lead-1", FromRole: delegation.RoleLead,
			ToAgentID: "worker-1", Task: "write the migration", Priority: "high",
			Direction: delegation.DirectionDownward, State: delegation.StateAssigned,
		},
	}})

	briefing := b.Build(Request{AgentID: "worker-1"})
	addendum := briefing.SystemPromptAddendum

	assert.Contains(t, addendum, "## MANDATORY DELEGATION PROTOCOL")
	assert.Contains(t, addendum, "write the migration")
	assert.Contains(t, addendum, "(priority: high)")
	for _, token := range []string{"accept", "complete", "reject", "escalate"} {
		assert.Contains(t, addendum, "- "+token+":")
	}
}

func TestBuilder_Build_TerminalTasksAreNotListed(t *testing.T) {
	b := NewBuilder(&fakeDebates{}, &fakeDelegations{records: []*delegation.Record{
		{
			ID: "deleg:1", FromAgentID: "lead-1", ToAgentID: "worker-1",
			Task: "old task", State: delegation.StateCompleted,
		},
	}})

	briefing := b.Build(Request{AgentID: "worker-1"})
	assert.NotContains(t, briefing.SystemPromptAddendum, "MANDATORY DELEGATION PROTOCOL")
	assert.NotContains(t, briefing.SystemPromptAddendum, "old task")
}

func TestBuilder_Build_IssuedTasksBlock(t *testing.T) {
	b := NewBuilder(&fakeDebates{}, &fakeDelegations{records: []*delegation.Record{
		{
			ID: "deleg:1", FromAgentID: "lead-1", ToAgentID: "worker-1",
			ToRole: delegation.RoleWorker, Task: "delegated work",
			State: delegation.StateInProgress,
		},
	}})

	briefing := b.Build(Request{AgentID: "lead-1"})
	assert.Contains(t, briefing.SystemPromptAddendum, "## TASKS YOU DELEGATED")
	assert.Contains(t, briefing.SystemPromptAddendum, "delegated work")
	assert.NotContains(t, briefing.SystemPromptAddendum, "MANDATORY DELEGATION PROTOCOL")
}

func TestBuilder_Build_EscalationBlockAlwaysPresent(t *testing.T) {
	b := NewBuilder(&fakeDebates{}, &fakeDelegations{})

	briefing := b.Build(Request{AgentID: "fresh-agent"})
	assert.Contains(t, briefing.SystemPromptAddendum, "## ESCALATION PROTOCOL")
	assert.Contains(t, briefing.SystemPromptAddendum, "more than 3 tool calls")
}

func TestBuilder_Build_IdentityLine(t *testing.T) {
	b := NewBuilder(&fakeDebates{}, &fakeDelegations{})

	briefing := b.Build(Request{AgentID: "a", Role: "specialist", Expertise: "databases"})
	assert.Contains(t, briefing.SystemPromptAddendum,
		"You are operating as a specialist agent with expertise in databases.")
}

func TestBuilder_Build_DecisionContextOnlyFinalized(t *testing.T) {
	sessions := map[string]*collab.Session{
		"collab:test": {
			SessionKey: "collab:test",
			Decisions: []*collab.Decision{
				{ID: "d1", Consensus: &collab.Consensus{
					FinalDecision: "use redis", DecidedAt: time.Now(),
				}},
				{ID: "d2", Consensus: &collab.Consensus{Agreed: []string{"a"}}},
				{ID: "d3"},
			},
		},
	}
	b := NewBuilder(&fakeDebates{sessions: sessions}, &fakeDelegations{})

	briefing := b.Build(Request{AgentID: "a", DebateSessionKey: "collab:test"})
	require.Len(t, briefing.DecisionContext, 1)
	assert.Equal(t, "use redis", briefing.DecisionContext[0])
}

func TestBuilder_Build_UnknownDebateSession(t *testing.T) {
	b := NewBuilder(&fakeDebates{}, &fakeDelegations{})

	briefing := b.Build(Request{AgentID: "a", DebateSessionKey: "collab:missing"})
	assert.Empty(t, briefing.DecisionContext)
}
