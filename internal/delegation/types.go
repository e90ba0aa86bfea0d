// ABOUTME: Data model for task handoffs between agents: roles, direction, lifecycle
// ABOUTME: Direction follows the fixed role rank order orchestrator > lead > specialist > worker

package delegation

import (
	"slices"
	"time"
)

// Role is an agent's rank in the delegation hierarchy.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleLead         Role = "lead"
	RoleSpecialist   Role = "specialist"
	RoleWorker       Role = "worker"
)

// roleRank orders roles for direction classification. Unknown roles rank
// with workers.
var roleRank = map[Role]int{
	RoleOrchestrator: 3,
	RoleLead:         2,
	RoleSpecialist:   1,
	RoleWorker:       0,
}

func rank(r Role) int {
	return roleRank[r]
}

// Direction classifies a handoff: downward when the issuing role
// outranks the receiving role, upward when a lower-ranked agent
// escalates to a higher one.
type Direction string

const (
	DirectionDownward Direction = "downward"
	DirectionUpward   Direction = "upward"
)

// State tracks a delegation's lifecycle. Transitions are forward-only:
// a completed or failed record is never resurrected.
type State string

const (
	StateAssigned      State = "assigned"
	StatePendingReview State = "pending_review"
	StateInProgress    State = "in_progress"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// active states are the ones a receiving agent still has to act on.
var activeStates = []State{StateAssigned, StatePendingReview, StateInProgress}

// IsTerminal reports whether the state admits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// IsActive reports whether the delegation still awaits action.
func (s State) IsActive() bool {
	return slices.Contains(activeStates, s)
}

// ResultStatus is the terminal outcome reported for a delegation.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
)

// Result carries the outcome of a completed delegation: an artifact on
// success, an error description on failure.
type Result struct {
	Status   ResultStatus `json:"status"`
	Artifact string       `json:"artifact,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// Record is one tracked task handoff. Apart from the single Complete
// transition it is immutable, and it is never deleted by this core.
type Record struct {
	ID             string     `json:"id"`
	FromAgentID    string     `json:"from_agent_id"`
	FromSessionKey string     `json:"from_session_key,omitempty"`
	FromRole       Role       `json:"from_role"`
	ToAgentID      string     `json:"to_agent_id"`
	ToRole         Role       `json:"to_role"`
	Task           string     `json:"task"`
	Priority       string     `json:"priority,omitempty"`
	Justification  string     `json:"justification,omitempty"`
	Direction      Direction  `json:"direction"`
	State          State      `json:"state"`
	Result         *Result    `json:"result,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func (r *Record) clone() *Record {
	out := *r
	if r.Result != nil {
		res := *r.Result
		out.Result = &res
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
