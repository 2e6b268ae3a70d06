package models

import (
	"time"
)

// Chat message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry in a project's instruction history. Messages are
// append-only and insertion-ordered; they are removed only by a full clear.
type ChatMessage struct {
	ID        string    `json:"id" db:"id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Role      string    `json:"role" db:"role"`
	Text      string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
