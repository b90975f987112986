package models

import (
	"time"
)

// SessionStatus defines the status of a questionnaire session.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress" // Session is currently being filled out
	SessionStatusCompleted  SessionStatus = "completed"   // All questions have been answered
)

// QuestionnaireSession is a user's run through the questionnaire, scoped by
// an externally supplied scope id (submission identifier; the engine never
// mints it). Only the durable position and status live here;
// history and the branch stack are runtime state owned by the navigation
// service.
type QuestionnaireSession struct {
	ID           uint          `json:"id" gorm:"primaryKey"`
	ScopeID      string        `json:"scope_id" gorm:"uniqueIndex"`
	UserID       string        `json:"user_id" gorm:"index"`
	Status       SessionStatus `json:"status" gorm:"index"`
	CurrentIndex int           `json:"current_index"`
	GraphVersion int           `json:"graph_version"`
	AdminPreview bool          `json:"admin_preview"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// GraphRecord is the durable question graph: one row holding the whole
// ordered definition. Authoring edits replace the definition wholesale and
// bump the version; sessions snapshot the graph at start.
type GraphRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Version    int    `gorm:"index"`
	Definition string // JSON-serialized []Question in traversal order
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
