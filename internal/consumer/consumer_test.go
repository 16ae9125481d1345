package consumer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewAppliesDefaults(t *testing.T) {
	c := New(nil, "counter", nil, Config{StreamName: "S", SubjectFilter: "cmd.t.w.counter.>", DurableName: "D"})
	assert.Equal(t, 5, c.cfg.MaxDeliver)
	assert.Equal(t, 30*time.Second, c.cfg.AckWait)
	assert.Equal(t, DefaultBackoff, c.cfg.Backoff)
}

func TestBackoffDelayClampsToLastEntry(t *testing.T) {
	c := New(nil, "counter", nil, Config{
		StreamName: "S", SubjectFilter: "cmd.t.w.counter.>", DurableName: "D",
		Backoff: []time.Duration{time.Second, 5 * time.Second},
	})

	assert.Equal(t, time.Second, c.backoffDelay(1))
	assert.Equal(t, 5*time.Second, c.backoffDelay(2))
	assert.Equal(t, 5*time.Second, c.backoffDelay(10), "deliveries beyond the table clamp to the last entry")
}

func TestBackoffDelayFloorsAtFirstEntry(t *testing.T) {
	c := New(nil, "counter", nil, Config{StreamName: "S", SubjectFilter: "cmd.t.w.counter.>", DurableName: "D"})
	assert.Equal(t, DefaultBackoff[0], c.backoffDelay(0))
}
