package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/R3E-Network/agent-runtime/internal/envelope"
	"github.com/R3E-Network/agent-runtime/internal/security"
)

const encryptedPayloadKey = "_encrypted"

// EncryptingStore wraps an EventStore and transparently encrypts each
// envelope's payload at rest with a key derived from masterKey and the
// envelope's own tenant:workspace:entity_id, so a stolen database backup
// does not expose payload contents. It is used only when
// Config.Security.EncryptionKey is set.
type EncryptingStore struct {
	inner     EventStore
	masterKey []byte
	info      string
}

// NewEncryptingStore wraps inner. masterKey must be exactly 32 bytes
// (AES-256); info namespaces the derivation (e.g. "event-payload").
func NewEncryptingStore(inner EventStore, masterKey []byte, info string) *EncryptingStore {
	return &EncryptingStore{inner: inner, masterKey: masterKey, info: info}
}

func payloadSubject(env envelope.Envelope) []byte {
	entity := env.EntityID
	if entity == "" {
		entity = "-"
	}
	return []byte(fmt.Sprintf("%s:%s:%s", env.Tenant, env.Workspace, entity))
}

func (s *EncryptingStore) encrypt(env envelope.Envelope) (envelope.Envelope, error) {
	if len(env.Payload) == 0 {
		return env, nil
	}
	raw, err := json.Marshal(env.Payload)
	if err != nil {
		return env, fmt.Errorf("marshal payload: %w", err)
	}
	ciphertext, err := security.EncryptPayload(s.masterKey, payloadSubject(env), s.info, raw)
	if err != nil {
		return env, fmt.Errorf("encrypt payload: %w", err)
	}
	env.Payload = map[string]interface{}{encryptedPayloadKey: string(ciphertext)}
	return env, nil
}

func (s *EncryptingStore) decrypt(env envelope.Envelope) (envelope.Envelope, error) {
	enc, ok := env.Payload[encryptedPayloadKey]
	if !ok {
		return env, nil
	}
	encStr, ok := enc.(string)
	if !ok {
		return env, fmt.Errorf("encrypted payload field is not a string")
	}
	plaintext, err := security.DecryptPayload(s.masterKey, payloadSubject(env), s.info, []byte(encStr))
	if err != nil {
		return env, fmt.Errorf("decrypt payload: %w", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return env, fmt.Errorf("unmarshal decrypted payload: %w", err)
	}
	env.Payload = payload
	return env, nil
}

func (s *EncryptingStore) Append(ctx context.Context, env envelope.Envelope) error {
	encEnv, err := s.encrypt(env)
	if err != nil {
		return err
	}
	return s.inner.Append(ctx, encEnv)
}

func (s *EncryptingStore) AppendBatch(ctx context.Context, envs []envelope.Envelope) error {
	out := make([]envelope.Envelope, len(envs))
	for i, env := range envs {
		encEnv, err := s.encrypt(env)
		if err != nil {
			return err
		}
		out[i] = encEnv
	}
	return s.inner.AppendBatch(ctx, out)
}

func (s *EncryptingStore) Replay(ctx context.Context, fromCursor int64, filters Filters) ([]envelope.Envelope, error) {
	envs, err := s.inner.Replay(ctx, fromCursor, filters)
	if err != nil {
		return nil, err
	}
	return s.decryptAll(envs)
}

func (s *EncryptingStore) GetByIdempotencyKey(ctx context.Context, key string, filters Filters) ([]envelope.Envelope, error) {
	envs, err := s.inner.GetByIdempotencyKey(ctx, key, filters)
	if err != nil {
		return nil, err
	}
	return s.decryptAll(envs)
}

func (s *EncryptingStore) decryptAll(envs []envelope.Envelope) ([]envelope.Envelope, error) {
	out := make([]envelope.Envelope, len(envs))
	for i, env := range envs {
		decEnv, err := s.decrypt(env)
		if err != nil {
			return nil, err
		}
		out[i] = decEnv
	}
	return out, nil
}

var _ EventStore = (*EncryptingStore)(nil)
