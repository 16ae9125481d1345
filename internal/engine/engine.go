// Package engine implements the Runtime Engine: the durability and dispatch
// pipeline every pluggable adapter runs under. It owns persistence,
// idempotency, optimistic concurrency, tenant isolation, and routing, so
// adapters stay pure decision functions.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/agent-runtime/internal/adapter"
	"github.com/R3E-Network/agent-runtime/internal/apperrors"
	"github.com/R3E-Network/agent-runtime/internal/bus"
	"github.com/R3E-Network/agent-runtime/internal/envelope"
	"github.com/R3E-Network/agent-runtime/internal/router"
	"github.com/R3E-Network/agent-runtime/internal/security"
	"github.com/R3E-Network/agent-runtime/internal/store"
	"github.com/R3E-Network/agent-runtime/internal/telemetry"
	"github.com/rs/zerolog"
)

// deterministicNowMS is the fixed clock value used in deterministic mode,
// chosen to match fixtures recorded against it.
const deterministicNowMS int64 = 1234567890000

// Clock returns the runtime's notion of "now" in epoch milliseconds.
type Clock func() int64

func systemClock() int64 { return time.Now().UnixMilli() }

// Deterministic is a Clock that always returns the fixed deterministic
// timestamp, for reproducible tests and replay fixtures.
func Deterministic() int64 { return deterministicNowMS }

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithStore attaches a durable Event Store. Without one, the engine still
// enforces idempotency and concurrency in-memory for the process lifetime,
// but cannot survive a restart or serve replay.
func WithStore(s store.EventStore) Option { return func(e *Engine) { e.store = s } }

// WithRouter attaches a command router. Without one, commands the adapter
// emits are persisted and applied but never dispatched.
func WithRouter(r router.Router) Option { return func(e *Engine) { e.router = r } }

// WithClock overrides the engine's notion of "now", e.g. engine.Deterministic
// for reproducible tests.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithTracer attaches a telemetry.Tracer. Defaults to telemetry.Noop.
func WithTracer(t telemetry.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// WithMetrics attaches a *telemetry.Metrics. Defaults to telemetry.Global().
func WithMetrics(m *telemetry.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithIdempotencyCacheSize overrides the LRU fast-path cache size (default
// 4096 entries).
func WithIdempotencyCacheSize(n int) Option {
	return func(e *Engine) { e.idempotency = security.NewIdempotencyCache(n) }
}

// WithLogger overrides the hot-path structured logger (default: a disabled
// zerolog.Logger, i.e. silent).
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// Engine drives one adapter instance, scoped to exactly one (tenant,
// workspace). process_event and tick are serialized under mu so the nine
// pipeline steps never interleave against each other on this engine.
type Engine struct {
	agentID   string
	adapter   adapter.Adapter
	bus       bus.EventBus
	store     store.EventStore
	router    router.Router
	tenant    string
	workspace string
	clock     Clock

	mu            sync.Mutex
	processedKeys map[string]struct{}
	idempotency   *security.IdempotencyCache

	tracer  telemetry.Tracer
	metrics *telemetry.Metrics
	log     zerolog.Logger
}

// New constructs an Engine for agentID, scoped to (tenant, workspace),
// driving adapter a and publishing events to b.
func New(agentID string, a adapter.Adapter, b bus.EventBus, tenant, workspace string, opts ...Option) *Engine {
	e := &Engine{
		agentID:       agentID,
		adapter:       a,
		bus:           b,
		tenant:        tenant,
		workspace:     workspace,
		clock:         systemClock,
		processedKeys: make(map[string]struct{}),
		idempotency:   security.NewIdempotencyCache(0),
		tracer:        telemetry.Noop,
		metrics:       telemetry.Global(),
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Recover replays every stored event scoped to (tenant, workspace) through
// adapter.Apply and repopulates the idempotency cache, without publishing or
// routing anything. Call once at startup, before the engine serves traffic.
func (e *Engine) Recover(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, end := e.tracer.StartSpan(ctx, "engine.recover", map[string]string{"agent.id": e.agentID})
	defer func() { end(nil) }()

	events, err := e.store.Replay(ctx, 0, store.Filters{Tenant: e.tenant, Workspace: e.workspace})
	if err != nil {
		return apperrors.StoreQuery(err)
	}

	for _, evt := range events {
		if evt.Tenant != e.tenant || evt.Workspace != e.workspace {
			e.log.Error().Str("event_id", evt.ID).Str("tenant", evt.Tenant).Str("workspace", evt.Workspace).
				Msg("recovered event has invalid scope, skipping")
			continue
		}
		if err := e.adapter.Apply(evt); err != nil {
			return apperrors.Adapter(fmt.Errorf("recover apply %s: %w", evt.ID, err))
		}
		if evt.IdempotencyKey != "" {
			scoped := evt.ScopedIdempotencyKey()
			e.processedKeys[scoped] = struct{}{}
			e.idempotency.Mark(scoped)
		}
	}
	return nil
}

// ProcessEvent runs the full nine-step pipeline against env and returns the
// envelopes emitted (possibly empty). All side effects complete before
// return.
func (e *Engine) ProcessEvent(ctx context.Context, env envelope.Envelope) (output []envelope.Envelope, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.clock()
	ctx, end := e.tracer.StartSpan(ctx, "engine.process_event", map[string]string{
		"agent.id":   e.agentID,
		"event.type": env.Type,
		"event.id":   env.ID,
		"trace_id":   env.TraceID,
	})
	var outcome string
	defer func() {
		duration := time.Duration(e.clock()-start) * time.Millisecond
		e.metrics.RecordProcessEvent(e.agentID, outcome, duration)
		end(err)
	}()

	// 1. Scope check.
	if env.Tenant != e.tenant || env.Workspace != e.workspace {
		outcome = "scope_violation"
		return e.handleScopeViolation(ctx, env)
	}

	scopedKey := env.ScopedIdempotencyKey()

	// 2. Idempotency check.
	if duplicate, prior := e.checkIdempotency(ctx, scopedKey, env); duplicate {
		outcome = "duplicate"
		return e.replayIdempotent(ctx, prior)
	}

	// 3. Concurrency check.
	if env.ExpectedVersion != nil {
		if conflict, handled := e.checkConcurrency(ctx, env, scopedKey); handled {
			outcome = "conflict"
			return conflict, nil
		}
	}

	// 4. Decide (pure adapter call).
	_, decideEnd := e.tracer.StartSpan(ctx, "engine.decide", nil)
	output, err = func() (out []envelope.Envelope, rerr error) {
		defer func() {
			if r := recover(); r != nil {
				rerr = fmt.Errorf("adapter panic: %v", r)
			}
		}()
		return e.adapter.Receive(env)
	}()
	decideEnd(err)
	if err != nil {
		outcome = "fault"
		return nil, apperrors.Adapter(err)
	}

	// 5. Egress scope rewrite: adapters cannot spoof another tenant/workspace.
	for i := range output {
		output[i].Tenant = e.tenant
		output[i].Workspace = e.workspace
	}

	// 6. Persist (atomic batch).
	if len(output) > 0 && e.store != nil {
		persistCtx, persistEnd := e.tracer.StartSpan(ctx, "engine.persist", nil)
		err := e.store.AppendBatch(persistCtx, output)
		persistEnd(err)
		if err != nil {
			outcome = "fault"
			return nil, err
		}
	}

	// 7. Apply.
	applyCtx, applyEnd := e.tracer.StartSpan(ctx, "engine.apply", nil)
	for _, out := range output {
		if err := e.adapter.Apply(out); err != nil {
			applyEnd(err)
			outcome = "fault"
			return nil, apperrors.Adapter(err)
		}
	}
	applyEnd(nil)
	_ = applyCtx

	// 8. Dispatch: events to the bus, commands to the router.
	if err := e.dispatch(ctx, output); err != nil {
		outcome = "fault"
		return nil, err
	}

	// 9. Mark processed.
	e.processedKeys[scopedKey] = struct{}{}
	e.idempotency.Mark(scopedKey)

	if outcome == "" {
		outcome = "ok"
	}
	if output == nil {
		output = []envelope.Envelope{}
	}
	return output, nil
}

func (e *Engine) handleScopeViolation(ctx context.Context, env envelope.Envelope) ([]envelope.Envelope, error) {
	reason := fmt.Sprintf("event scope %s/%s does not match engine scope %s/%s",
		env.Tenant, env.Workspace, e.tenant, e.workspace)
	e.log.Warn().Str("event_id", env.ID).Str("reason", reason).Msg("security violation")

	violation := e.newSecurityViolation(env, reason)
	if e.store != nil {
		if err := e.store.Append(ctx, violation); err != nil {
			return nil, err
		}
	}

	// Mark the original (mis-scoped) key processed on THIS engine so a
	// re-delivered copy does not spam another violation.
	originalScopedKey := env.Tenant + ":" + env.Workspace + ":" + env.IdempotencyKey
	e.processedKeys[originalScopedKey] = struct{}{}
	e.idempotency.Mark(originalScopedKey)

	if err := e.bus.Publish(ctx, []envelope.Envelope{violation}); err != nil {
		return nil, err
	}
	return []envelope.Envelope{violation}, nil
}

func (e *Engine) newSecurityViolation(env envelope.Envelope, reason string) envelope.Envelope {
	return envelope.Envelope{
		ID:              "evt-" + env.ID + "-violation",
		TS:              e.clock(),
		Type:            "evt.security.violation",
		SchemaVersion:   envelope.DefaultSchemaVersion,
		Tenant:          e.tenant,
		Workspace:       e.workspace,
		Actor:           env.Actor,
		Source:          envelope.Source{Agent: e.agentID, Adapter: "runtime"},
		SecurityContext: env.SecurityContext,
		IdempotencyKey:  env.IdempotencyKey,
		CausationID:     env.ID,
		CorrelationID:   env.CorrelationID,
		TraceID:         env.TraceID,
		SpanID:          env.SpanID,
		Payload: map[string]interface{}{
			"attempted_tenant":    env.Tenant,
			"attempted_workspace": env.Workspace,
			"engine_tenant":       e.tenant,
			"engine_workspace":    e.workspace,
			"reason":              reason,
		},
	}
}

// checkIdempotency reports whether scopedKey has already been processed,
// falling back to the store when the fast-path cache misses, and returns the
// prior output (if the store can reconstruct it) for re-dispatch.
func (e *Engine) checkIdempotency(ctx context.Context, scopedKey string, env envelope.Envelope) (bool, []envelope.Envelope) {
	if _, ok := e.processedKeys[scopedKey]; ok {
		e.log.Debug().Str("idempotency_key", scopedKey).Msg("duplicate (memory)")
		prior := e.priorOutputs(ctx, env)
		return true, prior
	}
	if e.idempotency.Seen(scopedKey) {
		e.log.Debug().Str("idempotency_key", scopedKey).Msg("duplicate (lru)")
		prior := e.priorOutputs(ctx, env)
		return true, prior
	}
	if e.store == nil {
		return false, nil
	}
	prior := e.priorOutputs(ctx, env)
	if len(prior) > 0 {
		e.processedKeys[scopedKey] = struct{}{}
		e.idempotency.Mark(scopedKey)
		return true, prior
	}
	return false, nil
}

func (e *Engine) priorOutputs(ctx context.Context, env envelope.Envelope) []envelope.Envelope {
	if e.store == nil {
		return nil
	}
	prior, err := e.store.GetByIdempotencyKey(ctx, env.IdempotencyKey, store.Filters{Tenant: e.tenant, Workspace: e.workspace})
	if err != nil {
		return nil
	}
	return prior
}

// replayIdempotent re-dispatches a duplicate command's original outputs: if
// the engine crashed after persisting but before dispatching last time, the
// at-least-once redelivery that triggered this duplicate is the only chance
// to deliver them.
func (e *Engine) replayIdempotent(ctx context.Context, prior []envelope.Envelope) ([]envelope.Envelope, error) {
	if len(prior) == 0 {
		return []envelope.Envelope{}, nil
	}
	if err := e.dispatch(ctx, prior); err != nil {
		return nil, err
	}
	return prior, nil
}

// checkConcurrency returns (conflictOutput, true) if env's expected_version
// does not match the adapter's current entity version.
func (e *Engine) checkConcurrency(ctx context.Context, env envelope.Envelope, scopedKey string) ([]envelope.Envelope, bool) {
	state := e.adapter.GetState()
	var current int64
	if env.EntityID != "" {
		current = state.EntityVersions[env.EntityID]
	}
	if current == *env.ExpectedVersion {
		return nil, false
	}

	reason := fmt.Sprintf("version mismatch for entity %s: expected %d, got %d", env.EntityID, *env.ExpectedVersion, current)
	e.log.Warn().Str("entity_id", env.EntityID).Str("reason", reason).Msg("concurrency conflict")

	conflict := envelope.Envelope{
		ID:              "evt-" + env.ID + "-conflict",
		TS:              e.clock(),
		Type:            "evt." + e.agentID + ".conflict",
		SchemaVersion:   envelope.DefaultSchemaVersion,
		Tenant:          e.tenant,
		Workspace:       e.workspace,
		Actor:           env.Actor,
		Source:          envelope.Source{Agent: e.agentID, Adapter: "runtime"},
		SecurityContext: env.SecurityContext,
		IdempotencyKey:  env.IdempotencyKey,
		CausationID:     env.ID,
		CorrelationID:   env.CorrelationID,
		TraceID:         env.TraceID,
		SpanID:          env.SpanID,
		EntityID:        env.EntityID,
		Payload: map[string]interface{}{
			"entity_id":        env.EntityID,
			"expected_version": *env.ExpectedVersion,
			"current_version":  current,
			"reason":           reason,
		},
	}

	if e.store != nil {
		if err := e.store.Append(ctx, conflict); err != nil {
			return []envelope.Envelope{conflict}, true
		}
	}
	if err := e.bus.Publish(ctx, []envelope.Envelope{conflict}); err != nil {
		return []envelope.Envelope{conflict}, true
	}
	e.processedKeys[scopedKey] = struct{}{}
	e.idempotency.Mark(scopedKey)
	return []envelope.Envelope{conflict}, true
}

// dispatch splits output into events (published to the bus) and commands
// (sent to the router, when one is configured).
func (e *Engine) dispatch(ctx context.Context, output []envelope.Envelope) error {
	if len(output) == 0 {
		return nil
	}
	var events, commands []envelope.Envelope
	for _, env := range output {
		if env.IsCommand() {
			commands = append(commands, env)
		} else {
			events = append(events, env)
		}
	}

	if len(events) > 0 {
		dispatchCtx, dispatchEnd := e.tracer.StartSpan(ctx, "engine.dispatch.events", nil)
		err := e.bus.Publish(dispatchCtx, events)
		dispatchEnd(err)
		if err != nil {
			return apperrors.Publish(err)
		}
	}

	if len(commands) > 0 && e.router != nil {
		dispatchCtx, dispatchEnd := e.tracer.StartSpan(ctx, "engine.dispatch.commands", nil)
		for _, cmd := range commands {
			if err := e.router.Route(dispatchCtx, cmd); err != nil {
				dispatchEnd(err)
				return apperrors.Route(err)
			}
		}
		dispatchEnd(nil)
	}
	return nil
}

// Tick invokes the adapter's time-based logic, applying the same
// persist/apply/dispatch rules as ProcessEvent, under the same critical
// section.
func (e *Engine) Tick(ctx context.Context) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	ctx, end := e.tracer.StartSpan(ctx, "engine.tick", map[string]string{"agent.id": e.agentID})
	defer func() { end(err) }()

	output, tickErr := func() (out []envelope.Envelope, rerr error) {
		defer func() {
			if r := recover(); r != nil {
				rerr = fmt.Errorf("adapter panic: %v", r)
			}
		}()
		return e.adapter.Tick(now)
	}()
	if tickErr != nil {
		return apperrors.Adapter(tickErr)
	}
	if len(output) == 0 {
		return nil
	}

	for i := range output {
		output[i].Tenant = e.tenant
		output[i].Workspace = e.workspace
	}

	if e.store != nil {
		if err = e.store.AppendBatch(ctx, output); err != nil {
			return err
		}
	}
	for _, out := range output {
		if err = e.adapter.Apply(out); err != nil {
			return apperrors.Adapter(err)
		}
	}
	err = e.dispatch(ctx, output)
	return err
}

// StateHash returns the SHA-256 hex digest of the canonical JSON of the
// adapter's current state: a pure function of the ordered sequence of events
// applied so far.
func (e *Engine) StateHash() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return envelope.StateHash(e.adapter.GetState())
}

// AgentID returns the engine's agent name, used by routers to address it.
func (e *Engine) AgentID() string { return e.agentID }

var _ router.Engine = (*Engine)(nil)
