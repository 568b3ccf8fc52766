//go:generate go run github.com/golang/mock/mockgen -destination=./mocks/publisher.go -package=mocks . Publisher

// Package publisher delivers canonical (topic, payload) pairs onto the bus.
//
// Delivery is fire-and-forget: a failed publish is reported to the caller
// but never queued or retried here.
package publisher

import (
	"context"
	"errors"
)

// ErrPublish wraps every transport failure returned by Publish.
var ErrPublish = errors.New("publish failed")

// Publisher defines the interface for delivering readings to the bus.
type Publisher interface {
	// Publish sends payload under topic. Returns an error wrapping
	// ErrPublish if the transport rejected or timed out the message.
	Publish(ctx context.Context, topic, payload string) error

	// Close releases the underlying connection.
	Close()
}

// Credentials for brokers that require authentication.
type Credentials struct {
	Username string
	Password string
}

// Multi publishes every message to all of its publishers.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, topic, payload string) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() {
	for _, p := range m {
		p.Close()
	}
}

// Compile-time interface implementation check
var (
	_ Publisher = Multi(nil)
	_ Publisher = (*MQTTPublisher)(nil)
	_ Publisher = (*KafkaPublisher)(nil)
)
