package router

import (
	"context"
	"testing"

	"github.com/R3E-Network/agent-runtime/internal/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	received []envelope.Envelope
	err      error
}

func (f *fakeEngine) ProcessEvent(ctx context.Context, env envelope.Envelope) ([]envelope.Envelope, error) {
	f.received = append(f.received, env)
	return nil, f.err
}

func TestInProcessRouterDispatchesToRegisteredAgent(t *testing.T) {
	r := NewInProcessRouter(nil)
	counter := &fakeEngine{}
	r.Register("counter", counter)

	err := r.Route(context.Background(), envelope.Envelope{Type: "cmd.counter.increment"})
	require.NoError(t, err)
	assert.Len(t, counter.received, 1)
}

func TestInProcessRouterNoopsOnUnknownAgent(t *testing.T) {
	r := NewInProcessRouter(nil)
	err := r.Route(context.Background(), envelope.Envelope{Type: "cmd.unknown.increment"})
	assert.NoError(t, err)
}

func TestInProcessRouterRejectsNonCommand(t *testing.T) {
	r := NewInProcessRouter(nil)
	err := r.Route(context.Background(), envelope.Envelope{Type: "evt.counter.incremented"})
	assert.Error(t, err)
}

func TestInProcessRouterIsCaseInsensitive(t *testing.T) {
	r := NewInProcessRouter(nil)
	counter := &fakeEngine{}
	r.Register("Counter", counter)

	err := r.Route(context.Background(), envelope.Envelope{Type: "cmd.COUNTER.increment"})
	require.NoError(t, err)
	assert.Len(t, counter.received, 1)
}
