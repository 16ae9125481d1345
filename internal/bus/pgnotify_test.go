package bus

import (
	"context"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/R3E-Network/agent-runtime/internal/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPGNotifyBusPublishIssuesPgNotify(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("SELECT pg_notify").
		WithArgs("agentrt_events", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	b := &PGNotifyBus{db: db, channel: "agentrt_events"}
	err = b.Publish(context.Background(), []envelope.Envelope{{ID: "e0", Type: "evt.incremented"}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGNotifyBusPublishRejectsOversizedEnvelope(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	b := &PGNotifyBus{db: db, channel: "agentrt_events"}
	oversized := envelope.Envelope{
		ID:      "e0",
		Type:    "evt.incremented",
		Payload: map[string]interface{}{"blob": strings.Repeat("x", 8000)},
	}
	err = b.Publish(context.Background(), []envelope.Envelope{oversized})
	assert.Error(t, err)
}

func TestPGNotifyBusDeliverDispatchesToSubscribers(t *testing.T) {
	b := &PGNotifyBus{channel: "agentrt_events"}
	received := make(chan envelope.Envelope, 1)
	b.Subscribe(func(env envelope.Envelope) error {
		received <- env
		return nil
	})

	b.deliver(`{"id":"e0","type":"evt.incremented"}`)
	select {
	case env := <-received:
		assert.Equal(t, "e0", env.ID)
	default:
		t.Fatal("handler was not invoked")
	}
}
