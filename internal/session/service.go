package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/kestrelworks/parley/internal/models"
	"github.com/kestrelworks/parley/internal/validate"
)

// Publisher delivers a session's result event to the downstream workflow
// consumer. Implementations live in internal/bus.
type Publisher interface {
	PublishInterventionResult(subjectID string, payload map[string]interface{}) error
}

// ChannelClient delivers an outbound message to an external channel.
// Implementations live in internal/channels.
type ChannelClient interface {
	SendMessage(ctx context.Context, channelID, sessionID, message string) (map[string]interface{}, error)
}

// Outcome is the caller-visible result of processing a channel response.
type Outcome struct {
	Status           string            `json:"status"`
	ValidationErrors map[string]string `json:"validation_errors"`
}

// Service orchestrates the read-merge-validate-update-publish cycle for
// session transitions. The repository is the sole source of truth; the
// service keeps no in-process session state.
type Service struct {
	store     *Store
	channels  ChannelClient
	publisher Publisher
	now       func() time.Time
}

// ServiceOpts holds parameters for creating a Service.
type ServiceOpts struct {
	Store     *Store
	Channels  ChannelClient // optional; SendMessageToChannel errors without it
	Publisher Publisher     // optional; result events are skipped without it
	Now       func() time.Time
}

// NewService creates a Service with the given options.
func NewService(opts ServiceOpts) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:     opts.Store,
		channels:  opts.Channels,
		publisher: opts.Publisher,
		now:       now,
	}, nil
}

// Store exposes the underlying repository for the HTTP CRUD surface.
func (s *Service) Store() *Store {
	return s.store
}

// ProcessChannelResponse applies an incoming channel response to a pending
// session: merge the response fields into the accumulated message data,
// validate the merged data against the session's template, and persist the
// resulting transition (validated or failed) in a single update guarded on
// the pending state. The result event is published only after the update
// is durable; a publish failure is logged, never surfaced.
func (s *Service) ProcessChannelResponse(sessionID string, responseData map[string]interface{}) (*Outcome, error) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}

	data, err := sess.Data()
	if err != nil {
		return nil, err
	}
	for k, v := range responseData {
		data[k] = v
	}

	tpl, err := sess.Template()
	if err != nil {
		return nil, err
	}
	fieldErrs := validate.FromTemplate(tpl).Evaluate(data)

	newStatus := models.StatusValidated
	if len(fieldErrs) > 0 {
		newStatus = models.StatusFailed
	}

	if err := sess.SetData(data); err != nil {
		return nil, err
	}
	validatedAt := s.now().Unix()
	err = s.store.UpdateIfPending(sessionID, map[string]interface{}{
		"message_data":      sess.MessageData,
		"status":            newStatus,
		"last_validated_at": validatedAt,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("session %s transitioned to %s", sessionID, newStatus)

	// The transition is durable; publishing is at most one attempt and its
	// failure must not alter the caller-visible result.
	if s.publisher != nil {
		if err := s.publisher.PublishInterventionResult(sess.SubjectID, responseData); err != nil {
			log.Printf("session %s: publish result for subject %s: %v", sessionID, sess.SubjectID, err)
		}
	}

	return &Outcome{Status: newStatus, ValidationErrors: fieldErrs}, nil
}

// ValidateMessage re-validates a session's current message data against
// its template without persisting anything.
func (s *Service) ValidateMessage(sess *models.Session) (validate.Result, error) {
	data, err := sess.Data()
	if err != nil {
		return validate.Result{}, err
	}
	tpl, err := sess.Template()
	if err != nil {
		return validate.Result{}, err
	}
	fieldErrs := validate.FromTemplate(tpl).Evaluate(data)
	return validate.Result{
		IsValid:     len(fieldErrs) == 0,
		Errors:      fieldErrs,
		Warnings:    map[string]string{},
		ValidatedAt: s.now().Unix(),
	}, nil
}

// UpdateStatus overwrites a session's status unconditionally. This is the
// administrative surface; external systems use it for transitions this
// service never makes itself, such as completed.
func (s *Service) UpdateStatus(sessionID, status string) error {
	if !models.ValidStatus(status) {
		return fmt.Errorf("session: invalid status %q", status)
	}
	return s.store.Update(sessionID, map[string]interface{}{"status": status})
}

// ExpireSession marks a session expired, but only while it is still
// pending. A session that was validated or failed first wins the race and
// the caller gets ErrConflict.
func (s *Service) ExpireSession(sessionID string) error {
	return s.store.UpdateIfPending(sessionID, map[string]interface{}{
		"status": models.StatusExpired,
	})
}

// SendMessageToChannel delegates delivery to the channel client. Session
// state is untouched; the session stays pending until a response arrives.
func (s *Service) SendMessageToChannel(ctx context.Context, sessionID, channelID, message string) (map[string]interface{}, error) {
	if s.channels == nil {
		return nil, fmt.Errorf("session: no channel client configured")
	}
	result, err := s.channels.SendMessage(ctx, channelID, sessionID, message)
	if err != nil {
		log.Printf("session %s: send to channel %s failed: %v", sessionID, channelID, err)
		return nil, err
	}
	log.Printf("session %s: message sent to channel %s", sessionID, channelID)
	return result, nil
}
