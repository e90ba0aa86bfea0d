// Package collab implements the collaboration registry: multi-agent
// debate sessions with proposals, challenges, agreements, and finalized
// decisions.
//
// # Overview
//
// A Session is one debate among a fixed member list. Agents publish
// proposals on decision topics, challenge or agree to them, and a
// moderator finalizes each decision. Every action appends to the
// session's message log, which is the source of truth for round
// counting and the per-decision thread view.
//
// # Registry
//
// The Registry holds all sessions in memory and is the only writer:
//
//	reg := collab.NewRegistry(store, recorder, staleThreshold, logger)
//	if err := reg.Restore(ctx); err != nil { ... }
//
// Key operations:
//
//   - Init(key, topic, agents, moderator): create a session in planning
//   - PublishProposal(...): propose; creates the decision on first use
//   - ChallengeProposal(...): append a challenge to a decision's thread
//   - AgreeToProposal(...): record agreement, idempotent per agent
//   - FinalizeDecision(...): record consensus and mark the session decided
//   - GetContext / ListAll / ThreadMessages: read-only snapshots
//
// # Persistence
//
// Mutations commit to memory synchronously, then enqueue a full-session
// write that is drained in order per session key. Callers never wait on
// durability; Flush exists so tests can. On restart, Restore loads every
// persisted document, archives debating sessions older than the stale
// threshold, and swaps the full map in atomically before signalling
// readiness.
package collab
