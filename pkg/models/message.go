package models

import (
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ModelTier is a coarse capability/cost class mapped to concrete models.
type ModelTier string

const (
	TierLow  ModelTier = "low"
	TierMid  ModelTier = "mid"
	TierHigh ModelTier = "high"
)

// Valid reports whether the tier is one of the known classes.
func (t ModelTier) Valid() bool {
	switch t {
	case TierLow, TierMid, TierHigh:
		return true
	}
	return false
}

// Session is a durable conversation record for a user on a context.
// Sessions for the same (user, context, project) key form a linked list
// through PreviousSessionID, newest first.
type Session struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	ContextID         string    `json:"context_id"`
	ProjectID         string    `json:"project_id,omitempty"`
	PreviousSessionID string    `json:"previous_session_id,omitempty"`
	Summary           string    `json:"session_summary,omitempty"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	Archived          bool      `json:"archived"`
	CreatedAt         time.Time `json:"created_at"`
}

// Message is one persisted conversation turn.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Project scopes sessions and memories to a named workspace.
type Project struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
}
