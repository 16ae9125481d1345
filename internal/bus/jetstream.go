package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/R3E-Network/agent-runtime/internal/apperrors"
	"github.com/R3E-Network/agent-runtime/internal/envelope"
	"github.com/R3E-Network/agent-runtime/internal/subject"
	"github.com/nats-io/nats.go"
)

// JetStreamBus publishes domain events durably via NATS JetStream, to
// subjects built by internal/subject.ForEvent. Subscribe is unsupported:
// durable consumption of evt.* subjects is internal/consumer's job, which
// drives per-agent pull subscriptions rather than in-process callbacks.
type JetStreamBus struct {
	js         nats.JetStreamContext
	streamName string
}

// NewJetStreamBus wraps an already-connected JetStream context.
func NewJetStreamBus(js nats.JetStreamContext, streamName string) *JetStreamBus {
	return &JetStreamBus{js: js, streamName: streamName}
}

// EnsureStream idempotently creates the event stream covering evt.> if it
// does not already exist.
func (b *JetStreamBus) EnsureStream(ctx context.Context) error {
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:      b.streamName,
		Subjects:  []string{"evt.>"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return apperrors.Publish(fmt.Errorf("ensure stream %s: %w", b.streamName, err))
	}
	return nil
}

// Publish sends each envelope to evt.<tenant>.<workspace>.<domain>.<name>
// and waits for the broker's ack.
func (b *JetStreamBus) Publish(ctx context.Context, envs []envelope.Envelope) error {
	for _, env := range envs {
		payload, err := json.Marshal(env)
		if err != nil {
			return apperrors.Publish(err)
		}
		subj := subject.ForEvent(env.Tenant, env.Workspace, env.Type)
		if _, err := b.js.Publish(subj, payload, nats.Context(ctx)); err != nil {
			return apperrors.Publish(fmt.Errorf("publish %s to %s: %w", env.ID, subj, err))
		}
	}
	return nil
}

// Subscribe is unsupported on the durable bus; see the type comment.
func (b *JetStreamBus) Subscribe(h Handler) {
	panic("bus: JetStreamBus does not support in-process Subscribe; use internal/consumer")
}

var _ EventBus = (*JetStreamBus)(nil)
