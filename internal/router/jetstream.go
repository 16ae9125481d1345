package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/R3E-Network/agent-runtime/internal/apperrors"
	"github.com/R3E-Network/agent-runtime/internal/envelope"
	"github.com/R3E-Network/agent-runtime/internal/subject"
	"github.com/nats-io/nats.go"
)

// JetStreamRouter publishes command envelopes onto the durable work-queue
// stream; internal/consumer pull-subscribes per agent and does the actual
// dispatch, so Route here is "deliver to the queue", not "call the agent".
type JetStreamRouter struct {
	js         nats.JetStreamContext
	streamName string
}

// NewJetStreamRouter wraps an already-connected JetStream context.
func NewJetStreamRouter(js nats.JetStreamContext, streamName string) *JetStreamRouter {
	return &JetStreamRouter{js: js, streamName: streamName}
}

// EnsureStream idempotently creates the command stream covering cmd.> with
// work-queue retention: once a pull consumer acks a message it is removed,
// so competing consumers never double-process it.
func (r *JetStreamRouter) EnsureStream(ctx context.Context) error {
	_, err := r.js.AddStream(&nats.StreamConfig{
		Name:      r.streamName,
		Subjects:  []string{"cmd.>"},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return apperrors.Route(fmt.Errorf("ensure stream %s: %w", r.streamName, err))
	}
	return nil
}

// Route publishes env to cmd.<tenant>.<workspace>.<agent>.<verb>.
func (r *JetStreamRouter) Route(ctx context.Context, env envelope.Envelope) error {
	if !env.IsCommand() {
		return apperrors.Route(nil)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return apperrors.Route(err)
	}
	subj := subject.ForCommand(env.Tenant, env.Workspace, env.Type)
	if _, err := r.js.Publish(subj, payload, nats.Context(ctx)); err != nil {
		return apperrors.Route(fmt.Errorf("publish %s to %s: %w", env.ID, subj, err))
	}
	return nil
}

var _ Router = (*JetStreamRouter)(nil)
