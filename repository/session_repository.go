package repository

import (
	"errors"
	"fmt"
	"log"
	"time"

	"portal/models"

	"gorm.io/gorm"
)

// SessionRepository persists questionnaire sessions. "Not found" is
// nil, nil; the navigation service interprets it as "start a new session".
type SessionRepository interface {
	GetByScopeID(scopeID string) (*models.QuestionnaireSession, error)
	Create(session *models.QuestionnaireSession) (*models.QuestionnaireSession, error)
	Update(session *models.QuestionnaireSession) (*models.QuestionnaireSession, error)
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a session repository.
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// GetByScopeID retrieves the session row for an externally supplied scope id.
func (r *sessionRepository) GetByScopeID(scopeID string) (*models.QuestionnaireSession, error) {
	var session models.QuestionnaireSession
	err := r.db.Where("scope_id = ?", scopeID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		log.Printf("ERROR: [SessionRepository] Failed to retrieve session for scope '%s': %v", scopeID, err)
		return nil, fmt.Errorf("failed to retrieve session for scope '%s': %w", scopeID, err)
	}
	return &session, nil
}

// Create stores a new session row.
func (r *sessionRepository) Create(session *models.QuestionnaireSession) (*models.QuestionnaireSession, error) {
	if session.ScopeID == "" {
		log.Printf("ERROR: [SessionRepository] Create: scope id cannot be empty.")
		return nil, errors.New("scope id cannot be empty")
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	if session.Status == "" {
		session.Status = models.SessionStatusInProgress
	}
	if err := r.db.Create(session).Error; err != nil {
		log.Printf("ERROR: [SessionRepository] Failed to create session for scope '%s': %v", session.ScopeID, err)
		return nil, fmt.Errorf("failed to create session for scope '%s': %w", session.ScopeID, err)
	}
	log.Printf("INFO: [SessionRepository] Created session ID %d for scope '%s' (user '%s').", session.ID, session.ScopeID, session.UserID)
	return session, nil
}

// Update stores the session's durable position and status.
func (r *sessionRepository) Update(session *models.QuestionnaireSession) (*models.QuestionnaireSession, error) {
	if err := r.db.Save(session).Error; err != nil {
		log.Printf("ERROR: [SessionRepository] Failed to update session ID %d: %v", session.ID, err)
		return nil, fmt.Errorf("failed to update session %d: %w", session.ID, err)
	}
	return session, nil
}
