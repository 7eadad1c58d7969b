// Package session implements the human-intervention session lifecycle:
// persistence, response processing, and expiry of sessions awaiting a
// human response.
package session

import (
	"errors"
	"fmt"

	"github.com/kestrelworks/parley/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no session exists for a session ID.
var ErrNotFound = errors.New("session not found")

// ErrConflict is returned when a guarded transition loses a race: the
// session left the pending state between read and write.
var ErrConflict = errors.New("session no longer pending")

// Filter selects sessions in Query. Zero values are ignored.
type Filter struct {
	Status       string `json:"status"`
	StatusNot    string `json:"status_not"`
	SubjectID    string `json:"subject_id"`
	ExpiryBefore int64  `json:"expiry_before"`
}

// Store is the session repository. Correctness of concurrent transitions
// relies on each update being a single atomic statement at the storage
// layer; the store holds no per-session locks.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store over an open GORM connection.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("session: db is required")
	}
	return &Store{db: db}, nil
}

// Insert persists a new session record.
func (s *Store) Insert(sess *models.Session) error {
	if sess.SessionID == "" {
		return fmt.Errorf("session: session_id is required")
	}
	if err := s.db.Create(sess).Error; err != nil {
		return fmt.Errorf("session: insert %s: %w", sess.SessionID, err)
	}
	return nil
}

// Get loads a session by ID.
func (s *Store) Get(sessionID string) (*models.Session, error) {
	var sess models.Session
	err := s.db.Where("session_id = ?", sessionID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session: %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", sessionID, err)
	}
	return &sess, nil
}

// Update applies fields to a session unconditionally. If no record exists
// for the ID one is created first; callers must not rely on Update failing
// for a missing ID.
func (s *Store) Update(sessionID string, fields map[string]interface{}) error {
	var count int64
	if err := s.db.Model(&models.Session{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		return fmt.Errorf("session: update %s: %w", sessionID, err)
	}
	if count == 0 {
		if err := s.db.Create(&models.Session{SessionID: sessionID}).Error; err != nil {
			return fmt.Errorf("session: upsert %s: %w", sessionID, err)
		}
	}
	err := s.db.Model(&models.Session{}).Where("session_id = ?", sessionID).Updates(fields).Error
	if err != nil {
		return fmt.Errorf("session: update %s: %w", sessionID, err)
	}
	return nil
}

// UpdateIfPending applies fields only while the session is still pending,
// as one conditional statement. The loser of a race with another
// transition gets ErrConflict; an unknown ID gets ErrNotFound.
func (s *Store) UpdateIfPending(sessionID string, fields map[string]interface{}) error {
	result := s.db.Model(&models.Session{}).
		Where("session_id = ? AND status = ?", sessionID, models.StatusPending).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("session: update %s: %w", sessionID, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// Zero rows: the session is gone, no longer pending, or the write was
	// a value-identical no-op. Disambiguate with a read.
	sess, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.Status != models.StatusPending {
		return fmt.Errorf("session: %s is %s: %w", sessionID, sess.Status, ErrConflict)
	}
	return nil
}

// Delete removes a session record. This service never calls it on its own;
// it backs the administrative DELETE endpoint.
func (s *Store) Delete(sessionID string) error {
	result := s.db.Where("session_id = ?", sessionID).Delete(&models.Session{})
	if result.Error != nil {
		return fmt.Errorf("session: delete %s: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session: %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// Query returns sessions matching the filter, oldest first.
func (s *Store) Query(f Filter) ([]models.Session, error) {
	q := s.db.Model(&models.Session{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.StatusNot != "" {
		q = q.Where("status != ?", f.StatusNot)
	}
	if f.SubjectID != "" {
		q = q.Where("subject_id = ?", f.SubjectID)
	}
	if f.ExpiryBefore > 0 {
		q = q.Where("expiry_date < ?", f.ExpiryBefore)
	}
	var sessions []models.Session
	if err := q.Order("created_at ASC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("session: query: %w", err)
	}
	return sessions, nil
}
