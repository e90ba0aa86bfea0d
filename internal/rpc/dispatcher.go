// ABOUTME: Maps RPC operation names onto collaboration registry calls.
// ABOUTME: The transport layer owns the wire; this layer owns decoding, gating, and error shape.

package rpc

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/2389/parley/internal/collab"
	"github.com/2389/parley/internal/errs"
)

// Operation names accepted by Dispatch.
const (
	OpSessionInit       = "collab.session.init"
	OpProposalPublish   = "collab.proposal.publish"
	OpProposalChallenge = "collab.proposal.challenge"
	OpProposalAgree     = "collab.proposal.agree"
	OpDecisionFinalize  = "collab.decision.finalize"
	OpSessionGet        = "collab.session.get"
	OpThreadGet         = "collab.thread.get"
)

// InitRequest is the payload for collab.session.init.
type InitRequest struct {
	SessionKey string   `json:"session_key,omitempty"`
	Topic      string   `json:"topic"`
	Agents     []string `json:"agents"`
	Moderator  string   `json:"moderator,omitempty"`
}

// PublishRequest is the payload for collab.proposal.publish.
type PublishRequest struct {
	SessionKey    string `json:"session_key"`
	AgentID       string `json:"agent_id"`
	DecisionTopic string `json:"decision_topic"`
	Proposal      string `json:"proposal"`
	Reasoning     string `json:"reasoning,omitempty"`
}

// PublishResult is the result for collab.proposal.publish.
type PublishResult struct {
	DecisionID string `json:"decision_id"`
}

// ChallengeRequest is the payload for collab.proposal.challenge.
type ChallengeRequest struct {
	SessionKey           string `json:"session_key"`
	DecisionID           string `json:"decision_id"`
	AgentID              string `json:"agent_id"`
	Challenge            string `json:"challenge"`
	SuggestedAlternative string `json:"suggested_alternative,omitempty"`
}

// AgreeRequest is the payload for collab.proposal.agree.
type AgreeRequest struct {
	SessionKey string `json:"session_key"`
	DecisionID string `json:"decision_id"`
	AgentID    string `json:"agent_id"`
}

// FinalizeRequest is the payload for collab.decision.finalize.
type FinalizeRequest struct {
	SessionKey    string `json:"session_key"`
	DecisionID    string `json:"decision_id"`
	FinalDecision string `json:"final_decision"`
	ModeratorID   string `json:"moderator_id"`
}

// SessionRequest is the payload for collab.session.get.
type SessionRequest struct {
	SessionKey string `json:"session_key"`
}

// ThreadRequest is the payload for collab.thread.get.
type ThreadRequest struct {
	SessionKey string `json:"session_key"`
	DecisionID string `json:"decision_id"`
}

// ErrorBody is the structured error carried in a failed response.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is the uniform envelope the transport serializes back to the
// caller: {ok:true, result} or {ok:false, error:{kind, message}}.
type Response struct {
	OK     bool       `json:"ok"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// Dispatcher routes decoded operations into the collaboration registry.
// It also enforces the minimum-round finalize gate: the registry
// finalizes unconditionally once invoked, so the gate lives here with
// the rest of the caller-side policy.
type Dispatcher struct {
	registry  *collab.Registry
	minRounds int
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher over the registry. minRounds is the
// finalize gate; zero disables it.
func NewDispatcher(registry *collab.Registry, minRounds int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:  registry,
		minRounds: minRounds,
		logger:    logger.With("component", "rpc"),
	}
}

// Dispatch executes one operation. It never panics outward: every
// failure becomes a typed error body.
func (d *Dispatcher) Dispatch(ctx context.Context, op string, payload json.RawMessage) *Response {
	if !d.registry.Ready() {
		return fail(errs.Internal("registry not ready: restore has not completed"))
	}
	if err := ctx.Err(); err != nil {
		return fail(errs.Internal("request cancelled: %v", err))
	}

	switch op {
	case OpSessionInit:
		return d.sessionInit(payload)
	case OpProposalPublish:
		return d.proposalPublish(payload)
	case OpProposalChallenge:
		return d.proposalChallenge(payload)
	case OpProposalAgree:
		return d.proposalAgree(payload)
	case OpDecisionFinalize:
		return d.decisionFinalize(payload)
	case OpSessionGet:
		return d.sessionGet(payload)
	case OpThreadGet:
		return d.threadGet(payload)
	default:
		return fail(errs.InvalidRequest("unknown operation %q", op))
	}
}

func (d *Dispatcher) sessionInit(payload json.RawMessage) *Response {
	var req InitRequest
	if err := decode(payload, &req); err != nil {
		return fail(err)
	}
	session, err := d.registry.Init(req.SessionKey, req.Topic, req.Agents, req.Moderator)
	if err != nil {
		return fail(err)
	}
	return ok(session)
}

func (d *Dispatcher) proposalPublish(payload json.RawMessage) *Response {
	var req PublishRequest
	if err := decode(payload, &req); err != nil {
		return fail(err)
	}
	decisionID, err := d.registry.PublishProposal(req.SessionKey, req.AgentID, req.DecisionTopic, req.Proposal, req.Reasoning)
	if err != nil {
		return fail(err)
	}
	return ok(&PublishResult{DecisionID: decisionID})
}

func (d *Dispatcher) proposalChallenge(payload json.RawMessage) *Response {
	var req ChallengeRequest
	if err := decode(payload, &req); err != nil {
		return fail(err)
	}
	if err := d.registry.ChallengeProposal(req.SessionKey, req.DecisionID, req.AgentID, req.Challenge, req.SuggestedAlternative); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (d *Dispatcher) proposalAgree(payload json.RawMessage) *Response {
	var req AgreeRequest
	if err := decode(payload, &req); err != nil {
		return fail(err)
	}
	if err := d.registry.AgreeToProposal(req.SessionKey, req.DecisionID, req.AgentID); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (d *Dispatcher) decisionFinalize(payload json.RawMessage) *Response {
	var req FinalizeRequest
	if err := decode(payload, &req); err != nil {
		return fail(err)
	}

	if d.minRounds > 0 {
		rounds, err := d.registry.RoundCount(req.SessionKey)
		if err != nil {
			return fail(err)
		}
		if rounds < d.minRounds {
			return fail(errs.InvalidRequest(
				"debate has %d round(s), %d required before finalizing", rounds, d.minRounds))
		}
	}

	if err := d.registry.FinalizeDecision(req.SessionKey, req.DecisionID, req.FinalDecision, req.ModeratorID); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (d *Dispatcher) sessionGet(payload json.RawMessage) *Response {
	var req SessionRequest
	if err := decode(payload, &req); err != nil {
		return fail(err)
	}
	// Unknown session is a null result, not an error
	return ok(d.registry.GetContext(req.SessionKey))
}

func (d *Dispatcher) threadGet(payload json.RawMessage) *Response {
	var req ThreadRequest
	if err := decode(payload, &req); err != nil {
		return fail(err)
	}
	thread, err := d.registry.ThreadMessages(req.SessionKey, req.DecisionID)
	if err != nil {
		return fail(err)
	}
	return ok(thread)
}

func decode(payload json.RawMessage, into any) error {
	if len(payload) == 0 {
		return errs.InvalidRequest("missing request payload")
	}
	if err := json.Unmarshal(payload, into); err != nil {
		return errs.Wrap(errs.KindInvalidRequest, err, "decoding request: %v", err)
	}
	return nil
}

func ok(result any) *Response {
	return &Response{OK: true, Result: result}
}

func fail(err error) *Response {
	return &Response{
		OK: false,
		Error: &ErrorBody{
			Kind:    string(errs.KindOf(err)),
			Message: err.Error(),
		},
	}
}
