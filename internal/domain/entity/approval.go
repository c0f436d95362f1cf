package entity

import "time"

// ApprovalLevel is one step in a sequential approval chain. Levels are
// ordered 1..N and each is bound to the role allowed to decide it.
type ApprovalLevel struct {
	ID           int64  `json:"id"`
	RequestID    int64  `json:"request_id"`
	LevelOrder   int    `json:"level_order"`
	RequiredRole string `json:"required_role"`
}

// ApprovalDecision is one recorded decision in a request's audit log.
type ApprovalDecision struct {
	ID         int64     `json:"id"`
	RequestID  int64     `json:"request_id"`
	LevelOrder int       `json:"level_order"`
	ApproverID string    `json:"approver_id"`
	Decision   string    `json:"decision"`
	Comment    string    `json:"comment,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// ApprovalRequest gates an entity's state transition behind N ordered,
// role-bound approval levels. It references its target entity but does not
// own it, and is never deleted: the decision log is the audit record.
type ApprovalRequest struct {
	ID           int64              `json:"id"`
	Reference    string             `json:"reference"`
	EntityType   string             `json:"entity_type"`
	EntityID     int64              `json:"entity_id"`
	Status       string             `json:"status"`
	CurrentLevel int                `json:"current_level"`
	RequesterID  string             `json:"requester_id"`
	Levels       []ApprovalLevel    `json:"levels"`
	Decisions    []ApprovalDecision `json:"decisions"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// CurrentRequiredRole returns the role bound to the level awaiting decision,
// or "" once the request is terminal or the chain is exhausted.
func (r *ApprovalRequest) CurrentRequiredRole() string {
	if r.CurrentLevel < 0 || r.CurrentLevel >= len(r.Levels) {
		return ""
	}
	return r.Levels[r.CurrentLevel].RequiredRole
}

// IsFinalLevel returns true if the current level is the last in the chain.
func (r *ApprovalRequest) IsFinalLevel() bool {
	return r.CurrentLevel == len(r.Levels)-1
}
