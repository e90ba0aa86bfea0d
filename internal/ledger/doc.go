// Package ledger records coordination events to a SQLite database for
// audit and debugging. The ledger is append-only and advisory: restore
// never reads from it, and a failed write never fails the operation
// that produced the event.
package ledger
