// Package delegation tracks task handoffs between agents.
//
// Direction is classified from the fixed role hierarchy (orchestrator >
// lead > specialist > worker): downward handoffs start assigned, upward
// escalations start pending_review. State transitions are forward-only
// and completion is idempotent, so the run-lifecycle watcher can safely
// deliver the same terminal notification more than once.
//
// Records live for the process lifetime; only the audit ledger outlives
// them.
package delegation
