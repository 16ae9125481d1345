package store

import (
	"context"
	"testing"

	"github.com/R3E-Network/agent-runtime/internal/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(id, idemKey string) envelope.Envelope {
	return envelope.Envelope{
		ID:             id,
		Type:           "evt.incremented",
		Tenant:         "t",
		Workspace:      "w",
		IdempotencyKey: idemKey,
	}
}

func TestMemoryStoreAppendAndReplay(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Append(ctx, env("e0", "k0")))
	require.NoError(t, s.Append(ctx, env("e1", "k1")))

	out, err := s.Replay(ctx, 0, Filters{Tenant: "t", Workspace: "w"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, "e0", out[0].ID)
	assert.Equal(t, "e1", out[1].ID)
}

func TestMemoryStoreRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Append(ctx, env("e0", "k0")))

	err := s.Append(ctx, env("e0", "k1"))
	assert.Error(t, err)
}

func TestMemoryStoreAppendBatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Append(ctx, env("e0", "k0")))

	err := s.AppendBatch(ctx, []envelope.Envelope{env("e1", "k1"), env("e0", "k0")})
	assert.Error(t, err)

	out, err := s.Replay(ctx, 0, Filters{})
	require.NoError(t, err)
	assert.Len(t, out, 1, "batch must not partially apply")
}

func TestMemoryStoreGetByIdempotencyKeyScoped(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Append(ctx, env("e0", "k0")))

	out, err := s.GetByIdempotencyKey(ctx, "k0", Filters{Tenant: "t", Workspace: "w"})
	require.NoError(t, err)
	assert.Len(t, out, 1)

	miss, err := s.GetByIdempotencyKey(ctx, "k0", Filters{Tenant: "other", Workspace: "w"})
	require.NoError(t, err)
	assert.Len(t, miss, 0)
}
