// Package router dispatches command envelopes (cmd.*) to the engine that
// owns the target agent, either in-process or over a durable NATS
// JetStream work queue.
package router

import (
	"context"

	"github.com/R3E-Network/agent-runtime/internal/envelope"
)

// Engine is the subset of internal/engine.Engine the router depends on.
// Defined here, not imported from internal/engine, to avoid a router<->engine
// import cycle (engines dispatch through routers and routers dispatch into
// engines).
type Engine interface {
	ProcessEvent(ctx context.Context, env envelope.Envelope) ([]envelope.Envelope, error)
}

// Router delivers a command envelope to its target agent.
type Router interface {
	Route(ctx context.Context, env envelope.Envelope) error
}
