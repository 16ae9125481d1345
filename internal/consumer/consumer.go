// Package consumer implements the durable pull consumer that feeds one
// engine from a NATS JetStream work-queue subject, with explicit ack,
// progressive backoff, and dead-lettering after max deliveries.
package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/R3E-Network/agent-runtime/internal/apperrors"
	"github.com/R3E-Network/agent-runtime/internal/envelope"
	"github.com/R3E-Network/agent-runtime/internal/lifecycle"
	"github.com/R3E-Network/agent-runtime/internal/router"
	"github.com/R3E-Network/agent-runtime/internal/subject"
	"github.com/R3E-Network/agent-runtime/internal/telemetry"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultBackoff is the progressive redelivery delay table: 1s, 5s, 10s, 30s.
var DefaultBackoff = []time.Duration{time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second}

// Config configures a Consumer's durability parameters.
type Config struct {
	StreamName    string
	SubjectFilter string
	DurableName   string
	MaxDeliver    int
	AckWait       time.Duration
	Backoff       []time.Duration
	// FetchRatePS caps Fetch calls per second. Zero disables limiting.
	FetchRatePS float64
}

// Option configures a Consumer at construction time.
type Option func(*Consumer)

// WithMetrics attaches a *telemetry.Metrics. Defaults to telemetry.Global().
func WithMetrics(m *telemetry.Metrics) Option { return func(c *Consumer) { c.metrics = m } }

// WithLogger attaches a logrus entry. Defaults to the standard logger.
func WithLogger(log *logrus.Entry) Option { return func(c *Consumer) { c.log = log } }

// WithShutdown wires a lifecycle.GracefulShutdown so in-flight message
// processing is tracked and drained before the process exits.
func WithShutdown(gs *lifecycle.GracefulShutdown) Option { return func(c *Consumer) { c.shutdown = gs } }

// Consumer pulls from one JetStream work-queue subject and drives engine's
// ProcessEvent, one message at a time, on the calling goroutine — the pull,
// the process call, and the ack/nak all happen sequentially so ack only
// follows a returned engine call.
type Consumer struct {
	js     nats.JetStreamContext
	engine router.Engine
	agent  string
	cfg    Config

	limiter  *rate.Limiter
	metrics  *telemetry.Metrics
	log      *logrus.Entry
	shutdown *lifecycle.GracefulShutdown
}

// New builds a Consumer for agent, pulling cfg.SubjectFilter messages from
// cfg.StreamName and feeding them to engine.
func New(js nats.JetStreamContext, agent string, engine router.Engine, cfg Config, opts ...Option) *Consumer {
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 5
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultBackoff
	}

	c := &Consumer{
		js:      js,
		engine:  engine,
		agent:   agent,
		cfg:     cfg,
		metrics: telemetry.Global(),
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	if cfg.FetchRatePS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.FetchRatePS), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureConsumer idempotently creates the durable JetStream consumer.
func (c *Consumer) EnsureConsumer(ctx context.Context) error {
	backoff := make([]time.Duration, len(c.cfg.Backoff))
	copy(backoff, c.cfg.Backoff)

	_, err := c.js.AddConsumer(c.cfg.StreamName, &nats.ConsumerConfig{
		Durable:       c.cfg.DurableName,
		DeliverPolicy: nats.DeliverAllPolicy,
		AckPolicy:     nats.AckExplicitPolicy,
		FilterSubject: c.cfg.SubjectFilter,
		MaxDeliver:    c.cfg.MaxDeliver,
		AckWait:       c.cfg.AckWait,
		BackOff:       backoff,
	})
	if err != nil && err != nats.ErrConsumerNameAlreadyInUse {
		return apperrors.Wrap(apperrors.CodeInternal, "ensure consumer", err)
	}
	return nil
}

// Run pull-subscribes and processes messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	sub, err := c.js.PullSubscribe(c.cfg.SubjectFilter, c.cfg.DurableName, nats.BindStream(c.cfg.StreamName))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "pull subscribe", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		msgs, err := sub.Fetch(1, nats.Context(ctx))
		if err != nil {
			if err == nats.ErrTimeout || ctx.Err() != nil {
				continue
			}
			c.log.WithError(err).Warn("consumer fetch error")
			continue
		}
		for _, msg := range msgs {
			c.processMsg(ctx, msg)
		}
	}
}

func (c *Consumer) processMsg(ctx context.Context, msg *nats.Msg) {
	var guard *lifecycle.OperationGuard
	if c.shutdown != nil {
		guard = lifecycle.NewOperationGuard(c.shutdown)
		if guard == nil {
			// shutting down: let the broker redeliver to another consumer.
			_ = msg.Nak()
			return
		}
		defer guard.Close()
	}

	var env envelope.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		c.log.WithError(err).WithField("subject", msg.Subject).Warn("poison message, terminating")
		_ = msg.Term()
		return
	}

	_, procErr := c.engine.ProcessEvent(ctx, env)
	if procErr == nil {
		_ = msg.Ack()
		return
	}

	numDelivered := uint64(1)
	if md, err := msg.Metadata(); err == nil && md != nil {
		numDelivered = md.NumDelivered
	}

	if int(numDelivered) >= c.cfg.MaxDeliver {
		c.metrics.RecordDLQ(c.agent)
		dlqSubject := subject.DeadLetter(msg.Subject)
		if _, err := c.js.Publish(dlqSubject, msg.Data, nats.Context(ctx)); err != nil {
			c.log.WithError(err).WithField("subject", msg.Subject).Error("failed to publish to DLQ")
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
		return
	}

	c.metrics.RecordRedelivery(c.agent)
	_ = msg.NakWithDelay(c.backoffDelay(numDelivered))
}

// backoffDelay picks the delay for numDelivered (1-based), clamped to the
// last table entry for deliveries beyond it.
func (c *Consumer) backoffDelay(numDelivered uint64) time.Duration {
	idx := int(numDelivered) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.cfg.Backoff) {
		idx = len(c.cfg.Backoff) - 1
	}
	return c.cfg.Backoff[idx]
}
