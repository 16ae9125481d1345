package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/R3E-Network/agent-runtime/internal/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreEnsureSchemaExecutesDDL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS events").WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewPostgresStore(db)
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAppendBatchAllSucceed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO events").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("e0"))
	mock.ExpectQuery("INSERT INTO events").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("e1"))
	mock.ExpectCommit()

	s := NewPostgresStore(db)
	err = s.AppendBatch(context.Background(), []envelope.Envelope{
		{ID: "e0", Type: "evt.incremented", Tenant: "t", Workspace: "w", IdempotencyKey: "k0"},
		{ID: "e1", Type: "evt.incremented", Tenant: "t", Workspace: "w", IdempotencyKey: "k1"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAppendBatchRollsBackOnPartialConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO events").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("INSERT INTO events").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("e1"))
	mock.ExpectRollback()

	s := NewPostgresStore(db)
	err = s.AppendBatch(context.Background(), []envelope.Envelope{
		{ID: "e0", Type: "evt.incremented", Tenant: "t", Workspace: "w", IdempotencyKey: "k0"},
		{ID: "e1", Type: "evt.incremented", Tenant: "t", Workspace: "w", IdempotencyKey: "k1"},
	})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreReplayScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{
		"id", "ts", "type", "schema_version", "trace_id", "span_id", "tenant", "workspace",
		"actor_json", "payload_json", "idempotency_key", "source_json",
		"causation_id", "correlation_id", "reply_to", "entity_id", "expected_version",
		"security_context_json",
	}
	rows := sqlmock.NewRows(cols).AddRow(
		"e0", int64(1234567890000), "evt.incremented", "1.0", nil, nil, "t", "w",
		[]byte(`{"id":"u1"}`), []byte(`{"by":1}`), "t:w:k0", []byte(`{}`),
		nil, nil, nil, nil, nil,
		[]byte(`{}`),
	)
	mock.ExpectQuery("SELECT (.|\n)*FROM events").WillReturnRows(rows)

	s := NewPostgresStore(db)
	out, err := s.Replay(context.Background(), 0, Filters{Tenant: "t", Workspace: "w"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "e0", out[0].ID)
	assert.Equal(t, "k0", out[0].IdempotencyKey)
	require.NoError(t, mock.ExpectationsWereMet())
}
