// Package counteradapter ships a deterministic in-memory counter adapter
// implementing the adapter.Adapter contract. It exists to exercise every
// engine pipeline path (scope violation, idempotent replay, concurrency
// conflict, tick) in tests and demos without an external adapter
// implementation; it is not a template for production business adapters.
package counteradapter

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/R3E-Network/agent-runtime/internal/adapter"
	"github.com/R3E-Network/agent-runtime/internal/envelope"
	"github.com/tidwall/gjson"
)

const defaultEntityID = "default"

type entityState struct {
	count   int64
	version int64
}

// Counter is a deterministic adapter tracking one integer counter per
// entity_id (defaulting to "default" when a command omits it).
type Counter struct {
	agentID string

	mu                   sync.Mutex
	entities             map[string]*entityState
	lastProcessedEventID string
}

// New builds an empty Counter adapter for agentID (stamped as source.agent
// on every emitted event).
func New(agentID string) *Counter {
	return &Counter{agentID: agentID, entities: make(map[string]*entityState)}
}

func (c *Counter) entityFor(id string) *entityState {
	if id == "" {
		id = defaultEntityID
	}
	st, ok := c.entities[id]
	if !ok {
		st = &entityState{}
		c.entities[id] = st
	}
	return st
}

// Receive decides the output for a command, reusing the command's own
// timestamp so the result is a pure function of its input.
func (c *Counter) Receive(env envelope.Envelope) ([]envelope.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entityID := env.EntityID
	if entityID == "" {
		entityID = defaultEntityID
	}

	switch env.Type {
	case "cmd.increment":
		by := incrementAmount(env.Payload)
		var current int64
		if st, ok := c.entities[entityID]; ok {
			current = st.count
		}
		return []envelope.Envelope{c.emit(env, "evt.incremented", entityID, map[string]interface{}{
			"entity_id": entityID,
			"by":        by,
			"count":     current + by,
		})}, nil

	case "cmd.reset":
		return []envelope.Envelope{c.emit(env, "evt.reset", entityID, map[string]interface{}{
			"entity_id": entityID,
			"count":     int64(0),
		})}, nil

	default:
		return nil, nil
	}
}

// incrementAmount reads payload.by (default 1) via gjson, round-tripping the
// already-decoded payload map back through JSON so the extraction matches
// how the field is read off the wire.
func incrementAmount(payload map[string]interface{}) int64 {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 1
	}
	result := gjson.GetBytes(raw, "by")
	if !result.Exists() {
		return 1
	}
	return result.Int()
}

func (c *Counter) emit(cmd envelope.Envelope, evtType, entityID string, payload map[string]interface{}) envelope.Envelope {
	return envelope.Envelope{
		ID:              fmt.Sprintf("evt-%s-%s", cmd.ID, entityID),
		TS:              cmd.TS,
		Type:            evtType,
		SchemaVersion:   envelope.DefaultSchemaVersion,
		TraceID:         cmd.TraceID,
		SpanID:          cmd.SpanID,
		Tenant:          cmd.Tenant,
		Workspace:       cmd.Workspace,
		Actor:           cmd.Actor,
		Source:          envelope.Source{Agent: c.agentID, Adapter: "counter"},
		SecurityContext: cmd.SecurityContext,
		IdempotencyKey:  cmd.IdempotencyKey,
		Payload:         payload,
		CausationID:     cmd.ID,
		CorrelationID:   cmd.CorrelationID,
		EntityID:        entityID,
	}
}

// Apply mutates the counter state from an already-committed event.
func (c *Counter) Apply(env envelope.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entityID := env.EntityID
	if entityID == "" {
		entityID = defaultEntityID
	}
	st := c.entityFor(entityID)

	switch env.Type {
	case "evt.incremented":
		by := int64(1)
		if v, ok := env.Payload["by"]; ok {
			by = toInt64(v)
		}
		st.count += by
		st.version++
	case "evt.reset":
		st.count = 0
		st.version++
	case "evt.heartbeat":
		// no state change; heartbeat only reports current count
	default:
		return nil
	}
	c.lastProcessedEventID = env.ID
	return nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 1
	}
}

// Tick emits a heartbeat carrying the default entity's current count.
func (c *Counter) Tick(now int64) ([]envelope.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var count int64
	if st, ok := c.entities[defaultEntityID]; ok {
		count = st.count
	}
	return []envelope.Envelope{{
		ID:            fmt.Sprintf("evt-heartbeat-%d", now),
		TS:            now,
		Type:          "evt.heartbeat",
		SchemaVersion: envelope.DefaultSchemaVersion,
		Source:        envelope.Source{Agent: c.agentID, Adapter: "counter"},
		Actor:         envelope.Actor{ID: "system", Role: "system"},
		SecurityContext: envelope.SecurityContext{
			PrincipalID:   "system",
			PrincipalType: envelope.PrincipalSystem,
		},
		IdempotencyKey: fmt.Sprintf("heartbeat-%d", now),
		Payload: map[string]interface{}{
			"entity_id": defaultEntityID,
			"count":     count,
		},
		EntityID: defaultEntityID,
	}}, nil
}

// GetState returns a stable snapshot: version is the sum of the entity
// versions, so it counts applied increment/reset events only (an applied
// heartbeat leaves it unchanged); entity_versions tracks each entity's own
// apply count (the basis for optimistic concurrency checks), data holds
// each entity's count.
func (c *Counter) GetState() adapter.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	entityVersions := make(map[string]int64, len(c.entities))
	data := make(map[string]int64, len(c.entities))
	var total int64
	for id, st := range c.entities {
		entityVersions[id] = st.version
		data[id] = st.count
		total += st.version
	}
	return adapter.State{
		Version:              total,
		EntityVersions:       entityVersions,
		Data:                 data,
		LastProcessedEventID: c.lastProcessedEventID,
	}
}

// HealthCheck always reports READY: the counter has no external
// dependencies that could degrade it.
func (c *Counter) HealthCheck() adapter.Health {
	return adapter.HealthReady
}

var _ adapter.Adapter = (*Counter)(nil)
