// ABOUTME: Builds the system-prompt addendum injected into freshly spawned agents.
// ABOUTME: Pure function over current registry state plus caller-supplied identity.

package briefing

import (
	"fmt"
	"strings"

	"github.com/2389/parley/internal/collab"
	"github.com/2389/parley/internal/delegation"
)

// DebateSource is the slice of the collaboration registry the builder reads.
type DebateSource interface {
	GetContext(sessionKey string) *collab.Session
}

// DelegationSource is the slice of the delegation registry the builder reads.
type DelegationSource interface {
	ListForAgent(agentID string) []*delegation.Record
}

// Request identifies the agent being spawned and, optionally, the debate
// it is joining.
type Request struct {
	AgentID          string
	Role             string
	Expertise        string
	DebateSessionKey string
}

// Briefing is the computed context for one agent spawn.
type Briefing struct {
	SystemPromptAddendum string
	DecisionContext      []string
}

// Builder composes briefings from live registry state. It performs no
// mutation and holds no state of its own.
type Builder struct {
	debates     DebateSource
	delegations DelegationSource
}

// NewBuilder creates a briefing builder over the two registries.
func NewBuilder(debates DebateSource, delegations DelegationSource) *Builder {
	return &Builder{debates: debates, delegations: delegations}
}

// Build computes the system-prompt addendum for an agent. Received
// delegations still awaiting action produce a mandatory-protocol block;
// delegations the agent issued produce a tracking block; the escalation
// block is always present.
func (b *Builder) Build(req Request) *Briefing {
	var out strings.Builder

	if req.Role != "" {
		out.WriteString(fmt.Sprintf("You are operating as a %s agent", req.Role))
		if req.Expertise != "" {
			out.WriteString(fmt.Sprintf(" with expertise in %s", req.Expertise))
		}
		out.WriteString(".\n\n")
	}

	briefing := &Briefing{}
	if req.DebateSessionKey != "" {
		briefing.DecisionContext = b.decisionContext(req.DebateSessionKey)
	}

	records := b.delegations.ListForAgent(req.AgentID)

	var received, issued []*delegation.Record
	for _, rec := range records {
		switch {
		case rec.ToAgentID == req.AgentID && rec.State.IsActive():
			received = append(received, rec)
		case rec.FromAgentID == req.AgentID:
			issued = append(issued, rec)
		}
	}

	if len(received) > 0 {
		writeReceivedBlock(&out, received)
	}
	if len(issued) > 0 {
		writeIssuedBlock(&out, issued)
	}
	writeEscalationBlock(&out)

	briefing.SystemPromptAddendum = out.String()
	return briefing
}

// decisionContext collects the finalized decision texts for the debate
// the agent is joining. Empty if the session is unknown or undecided.
func (b *Builder) decisionContext(sessionKey string) []string {
	session := b.debates.GetContext(sessionKey)
	if session == nil {
		return nil
	}
	var decided []string
	for _, d := range session.Decisions {
		if d.Consensus != nil && !d.Consensus.DecidedAt.IsZero() {
			decided = append(decided, d.Consensus.FinalDecision)
		}
	}
	return decided
}

func writeReceivedBlock(out *strings.Builder, received []*delegation.Record) {
	out.WriteString("## MANDATORY DELEGATION PROTOCOL\n\n")
	out.WriteString(fmt.Sprintf("You have %d delegated task(s) awaiting action:\n", len(received)))
	for i, rec := range received {
		line := fmt.Sprintf("%d. [%s] %s task from %s (%s): %s",
			i+1, rec.State, rec.Direction, rec.FromAgentID, rec.FromRole, rec.Task)
		if rec.Priority != "" {
			line += fmt.Sprintf(" (priority: %s)", rec.Priority)
		}
		out.WriteString(line + "\n")
	}
	out.WriteString("\nFor each task you MUST respond with exactly one of these actions:\n")
	out.WriteString("- accept: begin work on the task\n")
	out.WriteString("- complete: report the finished result or failure\n")
	out.WriteString("- reject: decline the task, stating why\n")
	out.WriteString("- escalate: hand the task to a higher-ranked agent\n\n")
}

func writeIssuedBlock(out *strings.Builder, issued []*delegation.Record) {
	out.WriteString("## TASKS YOU DELEGATED\n\n")
	for i, rec := range issued {
		out.WriteString(fmt.Sprintf("%d. [%s] to %s (%s): %s\n",
			i+1, rec.State, rec.ToAgentID, rec.ToRole, rec.Task))
	}
	out.WriteString("\n")
}

func writeEscalationBlock(out *strings.Builder) {
	out.WriteString("## ESCALATION PROTOCOL\n\n")
	out.WriteString("If you are blocked on a task for more than 3 tool calls, do not keep retrying:\n")
	out.WriteString("- escalate the task to a higher-ranked agent with a summary of what you tried\n")
	out.WriteString("- challenge the assignment if you believe it was misdirected\n")
}
