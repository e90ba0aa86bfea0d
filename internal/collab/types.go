// ABOUTME: Data model for collaborative debate sessions, decisions, and the message log
// ABOUTME: The message log is the source of truth for round counting and audit

package collab

import (
	"slices"
	"strings"
	"time"
)

// Status tracks the debate lifecycle of a session. Transitions are
// monotonic: planning becomes debating on the first proposal, and
// decided/archived are terminal.
type Status string

const (
	StatusPlanning Status = "planning"
	StatusDebating Status = "debating"
	StatusDecided  Status = "decided"
	StatusArchived Status = "archived"
)

// MessageType categorizes an entry in a session's message log.
type MessageType string

const (
	MessageProposal      MessageType = "proposal"
	MessageChallenge     MessageType = "challenge"
	MessageClarification MessageType = "clarification"
	MessageAgreement     MessageType = "agreement"
	MessageDecision      MessageType = "decision"
)

// Session is one multi-party debate with a fixed member list.
type Session struct {
	SessionKey string      `json:"session_key"`
	Topic      string      `json:"topic"`
	CreatedAt  time.Time   `json:"created_at"`
	Members    []string    `json:"members"`
	Status     Status      `json:"status"`
	Decisions  []*Decision `json:"decisions"`
	Messages   []*Message  `json:"messages"`
	Moderator  string      `json:"moderator,omitempty"`
}

// Decision is one sub-topic under debate within a session. The first
// proposal on a new topic creates the Decision.
type Decision struct {
	ID        string      `json:"id"`
	Topic     string      `json:"topic"`
	Proposals []*Proposal `json:"proposals"`
	Consensus *Consensus  `json:"consensus,omitempty"`
}

// Proposal is one agent's proposed answer for a decision topic.
type Proposal struct {
	From      string    `json:"from"`
	Proposal  string    `json:"proposal"`
	Reasoning string    `json:"reasoning"`
	Timestamp time.Time `json:"timestamp"`
}

// Consensus is the recorded outcome of a decision. It is set at most
// once and immutable thereafter.
type Consensus struct {
	Agreed        []string  `json:"agreed"`
	Disagreed     []string  `json:"disagreed"`
	FinalDecision string    `json:"final_decision"`
	DecidedAt     time.Time `json:"decided_at"`
	DecidedBy     string    `json:"decided_by,omitempty"`
}

// Message is one append-only log entry in a session.
type Message struct {
	ID                 string      `json:"id"`
	Type               MessageType `json:"type"`
	From               string      `json:"from"`
	Content            string      `json:"content"`
	ReferencesDecision string      `json:"references_decision,omitempty"`
	Timestamp          time.Time   `json:"timestamp"`
}

// RoundCount returns the number of debate rounds, recomputed from the
// message log: one round per proposal or challenge message. Never cached.
func (s *Session) RoundCount() int {
	count := 0
	for _, msg := range s.Messages {
		if msg.Type == MessageProposal || msg.Type == MessageChallenge {
			count++
		}
	}
	return count
}

// HasMember reports whether agentID is in the session's fixed member list.
func (s *Session) HasMember(agentID string) bool {
	return slices.Contains(s.Members, agentID)
}

// FindDecision returns the decision with the given id, or nil.
func (s *Session) FindDecision(id string) *Decision {
	for _, d := range s.Decisions {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// DecisionByTopic returns the decision debating the given topic, or nil.
func (s *Session) DecisionByTopic(topic string) *Decision {
	for _, d := range s.Decisions {
		if d.Topic == topic {
			return d
		}
	}
	return nil
}

// Clone returns a deep copy of the session, safe to hand to callers or
// the persistence queue while the registry keeps mutating the original.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := &Session{
		SessionKey: s.SessionKey,
		Topic:      s.Topic,
		CreatedAt:  s.CreatedAt,
		Members:    slices.Clone(s.Members),
		Status:     s.Status,
		Moderator:  s.Moderator,
	}
	if s.Decisions != nil {
		out.Decisions = make([]*Decision, len(s.Decisions))
		for i, d := range s.Decisions {
			out.Decisions[i] = d.clone()
		}
	}
	if s.Messages != nil {
		out.Messages = make([]*Message, len(s.Messages))
		for i, m := range s.Messages {
			msg := *m
			out.Messages[i] = &msg
		}
	}
	return out
}

func (d *Decision) clone() *Decision {
	out := &Decision{
		ID:    d.ID,
		Topic: d.Topic,
	}
	if d.Proposals != nil {
		out.Proposals = make([]*Proposal, len(d.Proposals))
		for i, p := range d.Proposals {
			prop := *p
			out.Proposals[i] = &prop
		}
	}
	if d.Consensus != nil {
		c := *d.Consensus
		c.Agreed = slices.Clone(d.Consensus.Agreed)
		c.Disagreed = slices.Clone(d.Consensus.Disagreed)
		out.Consensus = &c
	}
	return out
}

// slugify lowercases a topic and collapses non-alphanumeric runs into
// single dashes, for use in generated session and decision identifiers.
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
