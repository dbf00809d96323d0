// Package outbox implements the transactional event outbox: pending event
// rows written in the same database transaction as the domain mutation
// they describe, later claimed and published by the message relay.
package outbox

import (
	"time"

	"tradecore/internal/events"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// Event is one durable outbox row. Payload is a serialized envelope
// snapshot, never a live reference into the domain model.
type Event struct {
	ID             string
	AggregateID    string
	EventType      string
	Topic          string
	Payload        []byte
	Status         Status
	Attempts       int
	LastError      string
	ClaimedBy      string
	ClaimExpiresAt *time.Time
	CreatedAt      time.Time
	PublishedAt    *time.Time
}

// FromEnvelope snapshots a wire envelope into a pending outbox row.
func FromEnvelope(env events.Envelope) (Event, error) {
	payload, err := events.Encode(env)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:          env.EventID,
		AggregateID: env.AggregateID,
		EventType:   string(env.EventType),
		Topic:       events.Topic(env.EventType),
		Payload:     payload,
		Status:      StatusPending,
		CreatedAt:   env.OccurredAt,
	}, nil
}

// Stats summarizes outbox health for monitoring. PENDING rows past the
// staleness threshold and FAILED rows always stay queryable; nothing is
// silently dropped.
type Stats struct {
	Pending       int64      `json:"pending"`
	Published     int64      `json:"published"`
	Failed        int64      `json:"failed"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}
