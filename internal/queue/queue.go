// Package queue provides the signaling layer between pipeline stages.
// Queues carry only company identity; the datastore holds the truth.
// Delivery is at-least-once: messages sit on a per-topic processing
// list until acked, and stale entries can be reclaimed.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Stage topics.
const (
	TopicEnrich = "to_enrich"
	TopicScore  = "to_score"
	TopicSync   = "to_sync"
)

// Message is a unit of work pointing at a stored company.
type Message struct {
	CompanyID  uuid.UUID `json:"company_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewMessage builds a first-attempt message for a company.
func NewMessage(companyID uuid.UUID) Message {
	return Message{CompanyID: companyID, EnqueuedAt: time.Now().UTC()}
}

// Encode serializes the message for the wire.
func (m Message) Encode() (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", eris.Wrap(err, "queue: encode message")
	}
	return string(raw), nil
}

// DecodeMessage parses a wire payload.
func DecodeMessage(raw string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Message{}, eris.Wrap(err, "queue: decode message")
	}
	return m, nil
}

// Delivery is a received message plus the handle needed to ack it.
type Delivery struct {
	Message Message
	raw     string
}

// Raw returns the wire payload, used as the ack handle.
func (d Delivery) Raw() string { return d.raw }

// Queue is the stage signaling transport.
type Queue interface {
	// Publish appends a message to the topic.
	Publish(ctx context.Context, topic string, msg Message) error
	// Receive blocks up to timeout for the next message, moving it to
	// the topic's processing list. ok=false means the wait timed out.
	Receive(ctx context.Context, topic string, timeout time.Duration) (Delivery, bool, error)
	// Ack removes a delivered message from the processing list.
	Ack(ctx context.Context, topic string, d Delivery) error
	// Nack returns a delivered message to the tail of the topic with
	// its attempt count bumped.
	Nack(ctx context.Context, topic string, d Delivery) error
	// ReclaimStale moves all processing-list entries back onto the
	// topic. Safe only when no worker holds an unacked delivery, or
	// together with idempotent processing.
	ReclaimStale(ctx context.Context, topic string) (int, error)
	// Depth reports pending and in-flight counts for the topic.
	Depth(ctx context.Context, topic string) (pending, processing int64, err error)
}
