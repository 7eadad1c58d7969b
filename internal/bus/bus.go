// Package bus publishes session result events to the workflow messaging
// bus over NATS.
package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/nats-io/nats.go"
)

// EventType is the event type carried by every result envelope.
const EventType = "human_intervention_results"

// SenderSubjectID identifies this service as the event sender.
const SenderSubjectID = "sessions_system"

// Envelope is the bus payload for a session result event. EventPayload is
// the raw response data from the channel, not the full session record.
type Envelope struct {
	EventType       string                 `json:"event_type"`
	SenderSubjectID string                 `json:"sender_subject_id"`
	EventPayload    map[string]interface{} `json:"event_payload"`
}

// TopicFor derives the result topic for a subject. The downstream workflow
// consumer subscribes on this exact name.
func TopicFor(subjectID string) string {
	return subjectID + "__human_intervention_results"
}

// conn abstracts the NATS connection methods we use, enabling test mocks.
type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// Publisher delivers result events over a NATS connection.
type Publisher struct {
	nc conn
}

// Connect establishes a NATS connection and returns a Publisher over it.
func Connect(servers []string, opts ...nats.Option) (*Publisher, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("bus: at least one NATS server is required")
	}
	nc, err := nats.Connect(strings.Join(servers, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}
	log.Printf("bus: connected to NATS %v", servers)
	return &Publisher{nc: nc}, nil
}

// NewPublisher wraps an existing connection. Used by tests.
func NewPublisher(nc conn) *Publisher {
	return &Publisher{nc: nc}
}

// PublishInterventionResult publishes one result event for a subject.
func (p *Publisher) PublishInterventionResult(subjectID string, payload map[string]interface{}) error {
	env := Envelope{
		EventType:       EventType,
		SenderSubjectID: SenderSubjectID,
		EventPayload:    payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: marshal result for %s: %w", subjectID, err)
	}
	topic := TopicFor(subjectID)
	if err := p.nc.Publish(topic, data); err != nil {
		return fmt.Errorf("bus: publish to %s: %w", topic, err)
	}
	log.Printf("bus: published result to %s", topic)
	return nil
}

// Close drains the connection, flushing any buffered publishes.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		return fmt.Errorf("bus: drain: %w", err)
	}
	return nil
}
