package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/R3E-Network/agent-runtime/internal/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusBroadcastsToAllSubscribers(t *testing.T) {
	b := NewMemoryBus()
	var got1, got2 []string
	b.Subscribe(func(e envelope.Envelope) error {
		got1 = append(got1, e.ID)
		return nil
	})
	b.Subscribe(func(e envelope.Envelope) error {
		got2 = append(got2, e.ID)
		return nil
	})

	err := b.Publish(context.Background(), []envelope.Envelope{{ID: "e0"}, {ID: "e1"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"e0", "e1"}, got1)
	assert.Equal(t, []string{"e0", "e1"}, got2)
	assert.Len(t, b.Published, 2)
}

func TestMemoryBusStopsOnFirstHandlerError(t *testing.T) {
	b := NewMemoryBus()
	boom := errors.New("boom")
	called := false
	b.Subscribe(func(e envelope.Envelope) error { return boom })
	b.Subscribe(func(e envelope.Envelope) error { called = true; return nil })

	err := b.Publish(context.Background(), []envelope.Envelope{{ID: "e0"}})
	assert.ErrorIs(t, err, boom)
	assert.False(t, called, "second subscriber must not run after first errors")
}
