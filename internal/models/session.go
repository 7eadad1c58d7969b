package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Session status values. A session starts pending and leaves that state
// exactly once: validated or failed via response processing, expired via
// the expiry sweep. Completed is set by the downstream workflow consumer,
// never by this service.
const (
	StatusPending   = "pending"
	StatusValidated = "validated"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
	StatusCompleted = "completed"
)

// Session tracks a unit of work awaiting a human response from an external
// channel. MessageData and MessageDataTemplate are JSON document columns;
// use Data/Template and SetData to work with them as maps.
type Session struct {
	SessionID           string    `gorm:"primaryKey;size:64" json:"session_id"`
	SubjectID           string    `gorm:"size:128;index" json:"subject_id"`
	MessageData         string    `gorm:"type:json" json:"-"`
	MessageDataTemplate string    `gorm:"type:json" json:"-"`
	ReceptionChannelID  string    `gorm:"size:128" json:"reception_channel_id"`
	ExpiryDate          int64     `gorm:"index" json:"expiry_date"`
	Status              string    `gorm:"size:16;default:pending;index" json:"status"`
	DSLExecutionID      string    `gorm:"size:128" json:"dsl_execution_id"`
	LastValidatedAt     int64     `json:"last_validated_at"`
	CreatedAt           time.Time `json:"-"`
	UpdatedAt           time.Time `json:"-"`
}

// Data unmarshals the accumulated message data. An empty column yields an
// empty map, never nil.
func (s *Session) Data() (map[string]interface{}, error) {
	return unmarshalDoc(s.MessageData, "message_data")
}

// SetData replaces the message data column with the JSON encoding of m.
func (s *Session) SetData(m map[string]interface{}) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("models: marshal message_data: %w", err)
	}
	s.MessageData = string(data)
	return nil
}

// Template unmarshals the message data template supplied at creation.
func (s *Session) Template() (map[string]interface{}, error) {
	return unmarshalDoc(s.MessageDataTemplate, "message_data_template")
}

// SetTemplate replaces the template column with the JSON encoding of m.
func (s *Session) SetTemplate(m map[string]interface{}) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("models: marshal message_data_template: %w", err)
	}
	s.MessageDataTemplate = string(data)
	return nil
}

// Terminal reports whether the status is one this service never moves a
// session out of.
func Terminal(status string) bool {
	switch status {
	case StatusValidated, StatusFailed, StatusExpired, StatusCompleted:
		return true
	}
	return false
}

// ValidStatus reports whether s is one of the defined status values.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusValidated, StatusFailed, StatusExpired, StatusCompleted:
		return true
	}
	return false
}

func unmarshalDoc(raw, column string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("models: unmarshal %s: %w", column, err)
	}
	if m == nil {
		m = map[string]interface{}{}
	}
	return m, nil
}
