// Package briefing composes the system-prompt addendum injected into
// freshly spawned agents: pending delegation protocol, tasks the agent
// issued, escalation guidance, and finalized decision context.
package briefing
