// Package adapter defines the pure decision contract every pluggable agent
// implements. The engine owns all durability and dispatch; adapters only
// decide and apply.
package adapter

import (
	"github.com/R3E-Network/agent-runtime/internal/envelope"
)

// Health enumerates an adapter's self-reported health.
type Health string

const (
	HealthReady    Health = "READY"
	HealthDegraded Health = "DEGRADED"
	HealthFailed   Health = "FAILED"
)

// State is the canonical, stable snapshot an adapter exposes. version
// increases on every applied event; entity_versions tracks per-aggregate
// optimistic-concurrency versions (absent id implies version 0).
type State struct {
	Version            int64            `json:"version"`
	EntityVersions     map[string]int64 `json:"entity_versions"`
	Data               interface{}      `json:"data"`
	LastProcessedEventID string         `json:"last_processed_event_id"`
	UpdatedAt          int64            `json:"updated_at"`
}

// Adapter is the polymorphic capability the engine drives. Every method
// must be pure relative to the adapter's own state: receive and tick never
// mutate state or perform I/O; apply is the only place state changes, and
// only in response to an already-committed event.
type Adapter interface {
	// Receive decides what should happen in response to env. It must not
	// persist, publish, or mutate state.
	Receive(env envelope.Envelope) ([]envelope.Envelope, error)

	// Apply mutates internal state from an already-committed event. Called
	// exactly once per event, in store order, both at runtime and recovery.
	Apply(env envelope.Envelope) error

	// Tick produces time-triggered outputs using now (the runtime's notion
	// of "now", frozen in deterministic mode). State mutation for tick's
	// outputs happens via Apply after persistence, never inside Tick.
	Tick(now int64) ([]envelope.Envelope, error)

	// GetState returns a read-only, canonical snapshot.
	GetState() State

	// HealthCheck reports the adapter's current health.
	HealthCheck() Health
}
