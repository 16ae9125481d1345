// Package envelope defines the canonical message schema that crosses every
// boundary in the runtime: store rows, bus payloads, and adapter inputs and
// outputs are all this one type.
package envelope

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/R3E-Network/agent-runtime/internal/apperrors"
)

// Actor identifies who triggered an envelope.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Source identifies which agent/adapter produced an envelope.
type Source struct {
	Agent   string `json:"agent"`
	Adapter string `json:"adapter"`
}

// PrincipalType enumerates security_context.principal_type.
type PrincipalType string

const (
	PrincipalService PrincipalType = "service"
	PrincipalAgent   PrincipalType = "agent"
	PrincipalUser    PrincipalType = "user"
	PrincipalSystem  PrincipalType = "system"
)

func (p PrincipalType) valid() bool {
	switch p {
	case PrincipalService, PrincipalAgent, PrincipalUser, PrincipalSystem:
		return true
	default:
		return false
	}
}

// SecurityContext carries the validated principal behind an envelope.
type SecurityContext struct {
	PrincipalID   string        `json:"principal_id"`
	PrincipalType PrincipalType `json:"principal_type"`
}

// Envelope is the sole message type on the wire.
type Envelope struct {
	ID               string                 `json:"id"`
	TS               int64                  `json:"ts"`
	Type             string                 `json:"type"`
	SchemaVersion    string                 `json:"schema_version"`
	TraceID          string                 `json:"trace_id"`
	SpanID           string                 `json:"span_id"`
	Tenant           string                 `json:"tenant"`
	Workspace        string                 `json:"workspace"`
	Actor            Actor                  `json:"actor"`
	Source           Source                 `json:"source"`
	SecurityContext  SecurityContext        `json:"security_context"`
	IdempotencyKey   string                 `json:"idempotency_key"`
	Payload          map[string]interface{} `json:"payload"`
	CausationID      string                 `json:"causation_id,omitempty"`
	CorrelationID    string                 `json:"correlation_id,omitempty"`
	ReplyTo          string                 `json:"reply_to,omitempty"`
	EntityID         string                 `json:"entity_id,omitempty"`
	ExpectedVersion  *int64                 `json:"expected_version,omitempty"`
}

// DefaultSchemaVersion is used when an envelope's SchemaVersion is empty.
const DefaultSchemaVersion = "1.0"

// IsCommand reports whether Type begins with "cmd.".
func (e Envelope) IsCommand() bool { return strings.HasPrefix(e.Type, "cmd.") }

// IsEvent reports whether Type begins with "evt.".
func (e Envelope) IsEvent() bool { return strings.HasPrefix(e.Type, "evt.") }

// ScopedIdempotencyKey builds "tenant:workspace:idempotency_key".
func (e Envelope) ScopedIdempotencyKey() string {
	return e.Tenant + ":" + e.Workspace + ":" + e.IdempotencyKey
}

// Validate rejects envelopes with missing mandatory fields, malformed
// actor/source/security_context, or an unknown principal_type.
func Validate(e Envelope) error {
	var missing []string
	if e.ID == "" {
		missing = append(missing, "id")
	}
	if e.Type == "" {
		missing = append(missing, "type")
	}
	if e.Tenant == "" {
		missing = append(missing, "tenant")
	}
	if e.Workspace == "" {
		missing = append(missing, "workspace")
	}
	if e.IdempotencyKey == "" {
		missing = append(missing, "idempotency_key")
	}
	if e.Actor.ID == "" || e.Actor.Role == "" {
		missing = append(missing, "actor")
	}
	if e.Source.Agent == "" || e.Source.Adapter == "" {
		missing = append(missing, "source")
	}
	if e.SecurityContext.PrincipalID == "" {
		missing = append(missing, "security_context.principal_id")
	}
	if len(missing) > 0 {
		return apperrors.Validation(fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")), nil)
	}
	if !e.SecurityContext.PrincipalType.valid() {
		return apperrors.Validation(fmt.Sprintf("unknown principal_type: %q", e.SecurityContext.PrincipalType), nil)
	}
	return nil
}

// WithDefaults fills SchemaVersion when absent. Callers should apply this
// before Validate on producer-constructed envelopes.
func WithDefaults(e Envelope) Envelope {
	if e.SchemaVersion == "" {
		e.SchemaVersion = DefaultSchemaVersion
	}
	if e.Payload == nil {
		e.Payload = map[string]interface{}{}
	}
	return e
}

// CanonicalJSON marshals v with map keys sorted, for stable hashing.
func CanonicalJSON(v interface{}) ([]byte, error) {
	generic, err := toSortedGeneric(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// toSortedGeneric round-trips v through JSON then rebuilds maps as
// sortedMap so encoding/json emits keys in sorted order at every depth,
// matching the "canonical JSON" requirement for state_hash.
func toSortedGeneric(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return sortValue(generic), nil
}

func sortValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sm := sortedMap{keys: keys, values: make(map[string]interface{}, len(val))}
		for _, k := range keys {
			sm.values[k] = sortValue(val[k])
		}
		return sm
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sortValue(item)
		}
		return out
	default:
		return val
	}
}

// sortedMap marshals its keys in the fixed order recorded at construction
// time, rather than Go's default alphabetical-by-map-iteration (which is
// what encoding/json already does for map[string]interface{} — this type
// exists so nested maps also get explicitly re-sorted after a round trip,
// keeping the canonical form independent of json.Marshal's own internals).
type sortedMap struct {
	keys   []string
	values map[string]interface{}
}

func (s sortedMap) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		b.Write(keyJSON)
		b.WriteByte(':')
		valJSON, err := json.Marshal(s.values[k])
		if err != nil {
			return nil, err
		}
		b.Write(valJSON)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// StateHash returns the SHA-256 hex digest of the canonical JSON of v.
func StateHash(v interface{}) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum), nil
}
