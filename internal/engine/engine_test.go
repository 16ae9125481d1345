package engine

import (
	"context"
	"testing"

	"github.com/R3E-Network/agent-runtime/internal/bus"
	"github.com/R3E-Network/agent-runtime/internal/counteradapter"
	"github.com/R3E-Network/agent-runtime/internal/envelope"
	"github.com/R3E-Network/agent-runtime/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine() (*Engine, *counteradapter.Counter, *bus.MemoryBus, *store.MemoryStore) {
	c := counteradapter.New("counter")
	b := bus.NewMemoryBus()
	s := store.NewMemoryStore()
	e := New("counter", c, b, "t", "w", WithStore(s), WithClock(Deterministic))
	return e, c, b, s
}

func incrementCmd(id, idemKey string) envelope.Envelope {
	return envelope.Envelope{
		ID:             id,
		TS:             1234567890000,
		Type:           "cmd.increment",
		SchemaVersion:  envelope.DefaultSchemaVersion,
		Tenant:         "t",
		Workspace:      "w",
		Actor:          envelope.Actor{ID: "u1", Role: "user"},
		Source:         envelope.Source{Agent: "client", Adapter: "api"},
		SecurityContext: envelope.SecurityContext{PrincipalID: "u1", PrincipalType: envelope.PrincipalUser},
		IdempotencyKey: idemKey,
		Payload:        map[string]interface{}{},
	}
}

func TestIncrementWithReplayYieldsOnePublishedEvent(t *testing.T) {
	e, _, b, _ := newTestEngine()
	ctx := context.Background()

	out1, err := e.ProcessEvent(ctx, incrementCmd("e0", "k0"))
	require.NoError(t, err)
	require.Len(t, out1, 1)
	assert.Equal(t, "evt.incremented", out1[0].Type)

	out2, err := e.ProcessEvent(ctx, incrementCmd("e0", "k0"))
	require.NoError(t, err)
	assert.Equal(t, out1, out2, "replay of the same idempotency key returns the identical output")

	// At-least-once delivery re-publishes the original output on a duplicate
	// (guarding against a crash between persist and the first publish), so
	// the bus may see the envelope more than once, but it is always the same
	// one evt.incremented, not a second increment.
	for _, published := range b.Published {
		assert.Equal(t, out1[0].ID, published.ID)
	}

	hash, err := e.StateHash()
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
}

func TestScopeViolationNeverInvokesAdapter(t *testing.T) {
	e, c, b, s := newTestEngine()
	ctx := context.Background()

	env := incrementCmd("e0", "k0")
	env.Tenant = "other-tenant"

	out, err := e.ProcessEvent(ctx, env)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "evt.security.violation", out[0].Type)
	assert.Equal(t, "other-tenant", out[0].Payload["attempted_tenant"])

	state := c.GetState()
	assert.Empty(t, state.Data.(map[string]int64), "adapter must never see a mis-scoped command")

	stored, err := s.GetByIdempotencyKey(ctx, "k0", store.Filters{Tenant: "t", Workspace: "w"})
	require.NoError(t, err)
	require.Len(t, stored, 1, "the violation must be persisted under the engine's own scope")

	require.Len(t, b.Published, 1)
	assert.Equal(t, "evt.security.violation", b.Published[0].Type)
}

func TestConcurrencyConflictIsDeterministic(t *testing.T) {
	e, _, _, s := newTestEngine()
	ctx := context.Background()

	expected := int64(5)
	env := incrementCmd("e0", "kc")
	env.EntityID = "A"
	env.ExpectedVersion = &expected

	out1, err := e.ProcessEvent(ctx, env)
	require.NoError(t, err)
	require.Len(t, out1, 1)
	assert.Equal(t, "evt.counter.conflict", out1[0].Type)
	assert.EqualValues(t, 5, out1[0].Payload["expected_version"])
	assert.EqualValues(t, 0, out1[0].Payload["current_version"])

	env2 := incrementCmd("e0", "kc")
	env2.EntityID = "A"
	env2.ExpectedVersion = &expected
	out2, err := e.ProcessEvent(ctx, env2)
	require.NoError(t, err)
	require.Len(t, out2, 1)
	assert.Equal(t, out1[0].ID, out2[0].ID, "retries of the same conflicting command return the identical envelope id")

	stored, err := s.GetByIdempotencyKey(ctx, "kc", store.Filters{Tenant: "t", Workspace: "w"})
	require.NoError(t, err)
	assert.Len(t, stored, 1, "exactly one conflict record, not one per retry")
}

func TestTickEmitsHeartbeatAndPublishesIt(t *testing.T) {
	e, _, b, _ := newTestEngine()
	require.NoError(t, e.Tick(context.Background()))
	require.Len(t, b.Published, 1)
	assert.Equal(t, "evt.heartbeat", b.Published[0].Type)
}

func TestRecoverReplaysStoreAndRepopulatesIdempotency(t *testing.T) {
	s := store.NewMemoryStore()
	c1 := counteradapter.New("counter")
	b1 := bus.NewMemoryBus()
	e1 := New("counter", c1, b1, "t", "w", WithStore(s), WithClock(Deterministic))

	_, err := e1.ProcessEvent(context.Background(), incrementCmd("e0", "k0"))
	require.NoError(t, err)

	c2 := counteradapter.New("counter")
	b2 := bus.NewMemoryBus()
	e2 := New("counter", c2, b2, "t", "w", WithStore(s), WithClock(Deterministic))
	require.NoError(t, e2.Recover(context.Background()))

	state := c2.GetState()
	assert.EqualValues(t, 1, state.Data.(map[string]int64)["default"])

	// A redelivery of the same command after recovery must not re-apply.
	out, err := e2.ProcessEvent(context.Background(), incrementCmd("e0", "k0"))
	require.NoError(t, err)
	assert.Len(t, b2.Published, 1, "re-dispatch of the recovered output, not a second increment")
	state2 := c2.GetState()
	assert.EqualValues(t, 1, state2.Data.(map[string]int64)["default"])
	_ = out
}
