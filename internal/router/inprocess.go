package router

import (
	"context"
	"strings"

	"github.com/R3E-Network/agent-runtime/internal/apperrors"
	"github.com/R3E-Network/agent-runtime/internal/envelope"
	"github.com/R3E-Network/agent-runtime/pkg/logger"
	"github.com/sirupsen/logrus"
)

// InProcessRouter dispatches synchronously within the calling goroutine:
// routing a command that itself produces further commands recurses
// depth-first through Route -> Engine.ProcessEvent -> Route. Callers that
// chain agents into a cycle are responsible for not doing so; the router
// performs no cycle detection.
type InProcessRouter struct {
	log    *logrus.Entry
	routes map[string]Engine
}

// NewInProcessRouter builds an empty router.
func NewInProcessRouter(log *logger.Logger) *InProcessRouter {
	var entry *logrus.Entry
	if log != nil {
		entry = log.WithField("component", "router")
	} else {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}
	return &InProcessRouter{log: entry, routes: make(map[string]Engine)}
}

// Register binds agentName (matched case-insensitively against the second
// dotted segment of a command type, e.g. "cmd.counter.increment" -> "counter")
// to the engine that owns it.
func (r *InProcessRouter) Register(agentName string, engine Engine) {
	r.routes[strings.ToLower(agentName)] = engine
}

// Route dispatches env to the engine registered for its target agent. A
// missing route is logged and treated as a no-op, matching the at-least-once
// delivery model: an unroutable command has already been durably persisted
// by the originating engine, so dropping it here loses no commit.
func (r *InProcessRouter) Route(ctx context.Context, env envelope.Envelope) error {
	if !env.IsCommand() {
		return apperrors.Route(nil)
	}

	parts := strings.SplitN(strings.TrimPrefix(env.Type, "cmd."), ".", 2)
	if len(parts) == 0 || parts[0] == "" {
		r.log.WithField("type", env.Type).Warn("malformed command type")
		return apperrors.Route(nil)
	}

	target := strings.ToLower(parts[0])
	engine, ok := r.routes[target]
	if !ok {
		r.log.WithField("agent", target).Warn("no route registered")
		return nil
	}
	_, err := engine.ProcessEvent(ctx, env)
	return err
}

var _ Router = (*InProcessRouter)(nil)
