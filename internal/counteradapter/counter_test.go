package counteradapter

import (
	"testing"

	"github.com/R3E-Network/agent-runtime/internal/adapter"
	"github.com/R3E-Network/agent-runtime/internal/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cmd(id, idemKey, cmdType string, payload map[string]interface{}) envelope.Envelope {
	return envelope.Envelope{
		ID:             id,
		TS:             1234567890000,
		Type:           cmdType,
		Tenant:         "t",
		Workspace:      "w",
		IdempotencyKey: idemKey,
		Payload:        payload,
	}
}

func TestReceiveIncrementDefaultsToOne(t *testing.T) {
	c := New("counter")
	out, err := c.Receive(cmd("e0", "k0", "cmd.increment", map[string]interface{}{}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "evt.incremented", out[0].Type)
	assert.EqualValues(t, 1, out[0].Payload["by"])
}

func TestReceiveIncrementHonorsPayloadBy(t *testing.T) {
	c := New("counter")
	out, err := c.Receive(cmd("e0", "k0", "cmd.increment", map[string]interface{}{"by": float64(5)}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.EqualValues(t, 5, out[0].Payload["by"])
}

func TestApplyIncrementThenGetState(t *testing.T) {
	c := New("counter")
	out, err := c.Receive(cmd("e0", "k0", "cmd.increment", map[string]interface{}{}))
	require.NoError(t, err)
	require.NoError(t, c.Apply(out[0]))

	state := c.GetState()
	assert.EqualValues(t, 1, state.Data.(map[string]int64)["default"])
	assert.EqualValues(t, 1, state.EntityVersions["default"])
}

func TestApplyResetZeroesCount(t *testing.T) {
	c := New("counter")
	incOut, _ := c.Receive(cmd("e0", "k0", "cmd.increment", map[string]interface{}{"by": float64(3)}))
	require.NoError(t, c.Apply(incOut[0]))

	resetOut, err := c.Receive(cmd("e1", "k1", "cmd.reset", nil))
	require.NoError(t, err)
	require.NoError(t, c.Apply(resetOut[0]))

	state := c.GetState()
	assert.EqualValues(t, 0, state.Data.(map[string]int64)["default"])
}

func TestTickEmitsHeartbeatWithCurrentCount(t *testing.T) {
	c := New("counter")
	incOut, _ := c.Receive(cmd("e0", "k0", "cmd.increment", map[string]interface{}{"by": float64(2)}))
	require.NoError(t, c.Apply(incOut[0]))

	out, err := c.Tick(1234567890000)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "evt.heartbeat", out[0].Type)
	assert.EqualValues(t, 2, out[0].Payload["count"])
}

func TestHealthCheckAlwaysReady(t *testing.T) {
	c := New("counter")
	assert.Equal(t, adapter.HealthReady, c.HealthCheck())
}
