package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/R3E-Network/agent-runtime/internal/apperrors"
	"github.com/R3E-Network/agent-runtime/internal/envelope"
	_ "github.com/lib/pq"
)

// PostgresStore is the durable EventStore backed by PostgreSQL. Rows are
// appended once and never mutated; seq is the authoritative replay order.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the events table and its indexes if absent. Safe to
// call on every startup; it never migrates an existing schema.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			ts BIGINT NOT NULL,
			type TEXT NOT NULL,
			schema_version TEXT NOT NULL,
			trace_id TEXT,
			span_id TEXT,
			tenant TEXT NOT NULL,
			workspace TEXT NOT NULL,
			actor_json JSONB,
			payload_json JSONB,
			idempotency_key TEXT NOT NULL,
			source_json JSONB,
			causation_id TEXT,
			correlation_id TEXT,
			reply_to TEXT,
			entity_id TEXT,
			expected_version INTEGER,
			security_context_json JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_events_seq ON events(seq);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
		CREATE INDEX IF NOT EXISTS idx_events_idempotency_key ON events(idempotency_key);
		CREATE INDEX IF NOT EXISTS idx_events_tenant_workspace ON events(tenant, workspace);
	`)
	return err
}

// Append persists a single envelope. Conflicting on id signals a duplicate.
func (s *PostgresStore) Append(ctx context.Context, env envelope.Envelope) error {
	return s.AppendBatch(ctx, []envelope.Envelope{env})
}

// AppendBatch persists envs atomically: a single transaction inserts every
// row with ON CONFLICT (id) DO NOTHING, and if fewer rows come back than were
// submitted, the whole transaction rolls back rather than under-persisting.
func (s *PostgresStore) AppendBatch(ctx context.Context, envs []envelope.Envelope) error {
	if len(envs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.StoreAppend(err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, env := range envs {
		actorJSON, err := json.Marshal(env.Actor)
		if err != nil {
			return apperrors.StoreAppend(err)
		}
		payloadJSON, err := json.Marshal(env.Payload)
		if err != nil {
			return apperrors.StoreAppend(err)
		}
		sourceJSON, err := json.Marshal(env.Source)
		if err != nil {
			return apperrors.StoreAppend(err)
		}
		secCtxJSON, err := json.Marshal(env.SecurityContext)
		if err != nil {
			return apperrors.StoreAppend(err)
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO events (
				id, ts, type, schema_version, trace_id, span_id, tenant, workspace,
				actor_json, payload_json, idempotency_key, source_json,
				causation_id, correlation_id, reply_to, entity_id, expected_version,
				security_context_json
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8,
				$9, $10, $11, $12,
				$13, $14, $15, $16, $17,
				$18
			)
			ON CONFLICT (id) DO NOTHING
			RETURNING id
		`,
			env.ID, env.TS, env.Type, env.SchemaVersion, toNullString(env.TraceID), toNullString(env.SpanID),
			env.Tenant, env.Workspace, actorJSON, payloadJSON, env.ScopedIdempotencyKey(), sourceJSON,
			toNullString(env.CausationID), toNullString(env.CorrelationID), toNullString(env.ReplyTo),
			toNullString(env.EntityID), toNullInt64(env.ExpectedVersion), secCtxJSON,
		)

		var returnedID string
		switch scanErr := row.Scan(&returnedID); scanErr {
		case nil:
			inserted++
		case sql.ErrNoRows:
			// conflict: id already present, row not inserted
		default:
			return apperrors.StoreAppend(scanErr)
		}
	}

	if inserted != len(envs) {
		return apperrors.StoreAppend(fmt.Errorf("appended %d of %d envelopes, rolled back", inserted, len(envs)))
	}

	if err := tx.Commit(); err != nil {
		return apperrors.StoreAppend(err)
	}
	return nil
}

// Replay returns every envelope with seq > fromCursor matching filters, in
// seq order.
func (s *PostgresStore) Replay(ctx context.Context, fromCursor int64, filters Filters) ([]envelope.Envelope, error) {
	query := `
		SELECT id, ts, type, schema_version, trace_id, span_id, tenant, workspace,
			actor_json, payload_json, idempotency_key, source_json,
			causation_id, correlation_id, reply_to, entity_id, expected_version,
			security_context_json
		FROM events
		WHERE seq > $1
	`
	args := []interface{}{fromCursor}
	if filters.Tenant != "" {
		args = append(args, filters.Tenant)
		query += fmt.Sprintf(" AND tenant = $%d", len(args))
	}
	if filters.Workspace != "" {
		args = append(args, filters.Workspace)
		query += fmt.Sprintf(" AND workspace = $%d", len(args))
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.StoreQuery(err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// GetByIdempotencyKey returns every envelope recorded under key, scoped by
// tenant/workspace when filters carries them.
func (s *PostgresStore) GetByIdempotencyKey(ctx context.Context, key string, filters Filters) ([]envelope.Envelope, error) {
	where := "idempotency_key = $1"
	args := []interface{}{filters.Tenant + ":" + filters.Workspace + ":" + key}
	if filters.Tenant == "" || filters.Workspace == "" {
		where = "idempotency_key = tenant || ':' || workspace || ':' || $1"
		args = []interface{}{key}
		if filters.Tenant != "" {
			args = append(args, filters.Tenant)
			where += fmt.Sprintf(" AND tenant = $%d", len(args))
		}
		if filters.Workspace != "" {
			args = append(args, filters.Workspace)
			where += fmt.Sprintf(" AND workspace = $%d", len(args))
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, type, schema_version, trace_id, span_id, tenant, workspace,
			actor_json, payload_json, idempotency_key, source_json,
			causation_id, correlation_id, reply_to, entity_id, expected_version,
			security_context_json
		FROM events
		WHERE `+where+`
		ORDER BY seq ASC
	`, args...)
	if err != nil {
		return nil, apperrors.StoreQuery(err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func scanEnvelopes(rows *sql.Rows) ([]envelope.Envelope, error) {
	out := make([]envelope.Envelope, 0)
	for rows.Next() {
		var env envelope.Envelope
		var traceID, spanID, causationID, correlationID, replyTo, entityID sql.NullString
		var expectedVersion sql.NullInt64
		var actorJSON, payloadJSON, sourceJSON, secCtxJSON []byte
		var scopedKey string

		err := rows.Scan(
			&env.ID, &env.TS, &env.Type, &env.SchemaVersion, &traceID, &spanID, &env.Tenant, &env.Workspace,
			&actorJSON, &payloadJSON, &scopedKey, &sourceJSON,
			&causationID, &correlationID, &replyTo, &entityID, &expectedVersion,
			&secCtxJSON,
		)
		if err != nil {
			return nil, apperrors.StoreQuery(err)
		}

		env.TraceID = traceID.String
		env.SpanID = spanID.String
		env.CausationID = causationID.String
		env.CorrelationID = correlationID.String
		env.ReplyTo = replyTo.String
		env.EntityID = entityID.String
		if expectedVersion.Valid {
			v := expectedVersion.Int64
			env.ExpectedVersion = &v
		}
		env.IdempotencyKey = stripScopePrefix(scopedKey, env.Tenant, env.Workspace)

		if len(actorJSON) > 0 {
			if err := json.Unmarshal(actorJSON, &env.Actor); err != nil {
				return nil, apperrors.StoreQuery(err)
			}
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &env.Payload); err != nil {
				return nil, apperrors.StoreQuery(err)
			}
		}
		if len(sourceJSON) > 0 {
			if err := json.Unmarshal(sourceJSON, &env.Source); err != nil {
				return nil, apperrors.StoreQuery(err)
			}
		}
		if len(secCtxJSON) > 0 {
			if err := json.Unmarshal(secCtxJSON, &env.SecurityContext); err != nil {
				return nil, apperrors.StoreQuery(err)
			}
		}

		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StoreQuery(err)
	}
	return out, nil
}

func stripScopePrefix(scoped, tenant, workspace string) string {
	prefix := tenant + ":" + workspace + ":"
	if len(scoped) > len(prefix) && scoped[:len(prefix)] == prefix {
		return scoped[len(prefix):]
	}
	return scoped
}

func toNullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

var _ EventStore = (*PostgresStore)(nil)
