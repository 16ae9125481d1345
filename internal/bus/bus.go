// Package bus defines the broadcast publish/subscribe contract events flow
// through, with an in-memory implementation for tests and deterministic
// scenarios and a NATS JetStream implementation for durable deployments.
package bus

import (
	"context"

	"github.com/R3E-Network/agent-runtime/internal/envelope"
)

// Handler receives one published event. A handler error is surfaced to the
// publisher in the in-memory bus; under JetStream it has no bearing on
// delivery, since durable consumption is handled by internal/consumer.
type Handler func(envelope.Envelope) error

// EventBus is the broadcast transport for domain events (evt.*). Commands
// (cmd.*) go through internal/router instead.
type EventBus interface {
	// Publish makes envs visible to every current and future subscriber.
	Publish(ctx context.Context, envs []envelope.Envelope) error

	// Subscribe registers h to receive every subsequently published event.
	Subscribe(h Handler)
}
