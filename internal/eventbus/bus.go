// Package eventbus abstracts the downstream broker the relay publishes to.
// Delivery downstream is at-least-once; ordering is guaranteed per
// aggregate only because the relay feeds one aggregate's events in
// creation order.
package eventbus

import (
	"context"
	"errors"
)

// ErrUnavailable means the broker could not take the message. The relay
// treats it as transient and backs off without mutating outbox state.
var ErrUnavailable = errors.New("event bus unavailable")

// Message is one published record. Key carries the aggregate id so
// partitioned brokers keep per-aggregate ordering.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Publisher is implemented by broker adapters. Publish returns only after
// the broker acknowledged the message.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}
