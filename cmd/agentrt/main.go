// Command agentrt runs the agent runtime process: it wires one engine for
// the reference counter agent to a durable store, an event bus, a command
// router, and a JetStream consumer, then serves /healthz and /metrics until
// SIGINT or SIGTERM.
package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/R3E-Network/agent-runtime/infrastructure/resilience"
	adapterpkg "github.com/R3E-Network/agent-runtime/internal/adapter"
	"github.com/R3E-Network/agent-runtime/internal/bus"
	"github.com/R3E-Network/agent-runtime/internal/consumer"
	"github.com/R3E-Network/agent-runtime/internal/counteradapter"
	"github.com/R3E-Network/agent-runtime/internal/engine"
	"github.com/R3E-Network/agent-runtime/internal/httpapi"
	"github.com/R3E-Network/agent-runtime/internal/lifecycle"
	"github.com/R3E-Network/agent-runtime/internal/router"
	"github.com/R3E-Network/agent-runtime/internal/store"
	"github.com/R3E-Network/agent-runtime/internal/subject"
	"github.com/R3E-Network/agent-runtime/internal/telemetry"
	"github.com/R3E-Network/agent-runtime/pkg/config"
	"github.com/R3E-Network/agent-runtime/pkg/logger"
	"github.com/R3E-Network/agent-runtime/pkg/tracing"
	"github.com/R3E-Network/agent-runtime/pkg/version"
	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
)

// agentID is the one reference agent this process drives. Production
// deployments register one Engine per business adapter here.
const agentID = "counter"

func main() {
	tenant := flag.String("tenant", "default", "tenant scope for the reference agent")
	workspace := flag.String("workspace", "default", "workspace scope for the reference agent")
	configPath := flag.String("config", "", "path to a YAML config overlay (defaults to CONFIG_FILE env or configs/config.yaml)")
	flag.Parse()

	if *configPath != "" {
		os.Setenv("CONFIG_FILE", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	log.WithField("version", version.FullVersion()).Info("starting agent runtime")

	rootCtx := context.Background()

	var tracer telemetry.Tracer = telemetry.Noop
	if cfg.Tracing.Endpoint != "" {
		provider, shutdownTracer, err := tracing.NewOTLPTracerProvider(rootCtx, tracing.OTLPConfig{
			Endpoint:           cfg.Tracing.Endpoint,
			Insecure:           cfg.Tracing.Insecure,
			ServiceName:        cfg.Tracing.ServiceName,
			ResourceAttributes: cfg.Tracing.ResourceAttributes,
		})
		if err != nil {
			log.WithField("error", err.Error()).Warn("tracing disabled: failed to build otlp exporter")
		} else {
			tracer = tracing.ConfigureGlobalTracer(provider, cfg.Tracing.ServiceName)
			defer func() { _ = shutdownTracer(context.Background()) }()
		}
	}

	metrics := telemetry.Init(cfg.Tracing.ServiceName)

	eventStore, closeStore := buildStore(cfg, log)
	if closeStore != nil {
		defer closeStore()
	}

	shutdown := lifecycle.NewGracefulShutdown()

	var (
		eventBus  bus.EventBus
		cmdRouter router.Router
		nc        *nats.Conn
		js        nats.JetStreamContext
	)

	if cfg.NATS.URL != "" {
		natsOpts := []nats.Option{nats.Timeout(time.Duration(cfg.NATS.ConnectTimeout) * time.Second)}
		if cfg.NATS.CredsFile != "" {
			natsOpts = append(natsOpts, nats.UserCredentials(cfg.NATS.CredsFile))
		}
		nc, err = nats.Connect(cfg.NATS.URL, natsOpts...)
		if err != nil {
			log.WithField("error", err.Error()).Fatal("connect to nats")
		}
		defer nc.Close()

		js, err = nc.JetStream()
		if err != nil {
			log.WithField("error", err.Error()).Fatal("acquire jetstream context")
		}

		jsBus := bus.NewJetStreamBus(js, cfg.NATS.StreamPrefix+"_events")
		if err := jsBus.EnsureStream(rootCtx); err != nil {
			log.WithField("error", err.Error()).Fatal("ensure event stream")
		}
		eventBus = jsBus

		jsRouter := router.NewJetStreamRouter(js, cfg.NATS.StreamPrefix+"_commands")
		if err := jsRouter.EnsureStream(rootCtx); err != nil {
			log.WithField("error", err.Error()).Fatal("ensure command stream")
		}
		cmdRouter = jsRouter

		if _, err := js.AddStream(&nats.StreamConfig{
			Name:      cfg.NATS.StreamPrefix + "_dlq",
			Subjects:  []string{"failed.>"},
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
		}); err != nil && err != nats.ErrStreamNameAlreadyInUse {
			log.WithField("error", err.Error()).Fatal("ensure dead-letter stream")
		}
	} else {
		log.Warn("NATS_URL not set; running with an in-memory bus and in-process router (single-process only)")
		eventBus = bus.NewMemoryBus()
		cmdRouter = router.NewInProcessRouter(log)
	}

	adapter := counteradapter.New(agentID)
	eng := engine.New(agentID, adapter, eventBus, *tenant, *workspace,
		engine.WithStore(eventStore),
		engine.WithRouter(cmdRouter),
		engine.WithTracer(tracer),
		engine.WithMetrics(metrics),
		engine.WithIdempotencyCacheSize(cfg.Engine.IdempotencyLRU),
	)
	if cfg.Engine.Deterministic {
		engine.WithClock(engine.Deterministic)(eng)
	}

	if inproc, ok := cmdRouter.(*router.InProcessRouter); ok {
		inproc.Register(agentID, eng)
	}

	if err := eng.Recover(rootCtx); err != nil {
		log.WithField("error", err.Error()).Fatal("recover engine state")
	}

	checker := httpapi.NewHealthChecker()
	checker.Register(agentID, func() error {
		if h := adapter.HealthCheck(); h != adapterpkg.HealthReady {
			return fmt.Errorf("adapter health is %s", h)
		}
		return nil
	})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: httpapi.NewRouter(checker),
	}
	go func() {
		log.WithField("addr", httpServer.Addr).Info("serving /healthz and /metrics")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err.Error()).Error("http server stopped")
		}
	}()

	ctx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	if js != nil {
		cons := consumer.New(js, agentID, eng, consumer.Config{
			StreamName:    cfg.NATS.StreamPrefix + "_commands",
			SubjectFilter: subject.CommandFilter(*tenant, *workspace, agentID),
			DurableName:   agentID + "-durable",
			MaxDeliver:    cfg.Consumer.MaxDeliver,
			AckWait:       cfg.Consumer.AckWait,
			Backoff:       cfg.Consumer.Backoff,
			FetchRatePS:   float64(cfg.Consumer.FetchLimitPS),
		}, consumer.WithMetrics(metrics), consumer.WithShutdown(shutdown))

		if err := cons.EnsureConsumer(ctx); err != nil {
			log.WithField("error", err.Error()).Fatal("ensure durable consumer")
		}
		go func() {
			if err := cons.Run(ctx); err != nil {
				log.WithField("error", err.Error()).Error("consumer stopped")
			}
		}()
	}

	var tickScheduler *cron.Cron
	if cfg.Engine.TickIntervalSec > 0 {
		tickScheduler = cron.New(cron.WithSeconds())
		spec := fmt.Sprintf("@every %ds", cfg.Engine.TickIntervalSec)
		if _, err := tickScheduler.AddFunc(spec, func() {
			guard := lifecycle.NewOperationGuard(shutdown)
			if guard == nil {
				return
			}
			defer guard.Close()
			if err := eng.Tick(ctx); err != nil {
				log.WithField("error", err.Error()).Warn("engine tick failed")
			}
		}); err != nil {
			log.WithField("error", err.Error()).Fatal("schedule tick")
		}
		tickScheduler.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received, draining in-flight work")

	if tickScheduler != nil {
		<-tickScheduler.Stop().Done()
	}
	cancel()

	if err := shutdown.ShutdownAndWait(10 * time.Second); err != nil {
		log.WithField("error", err.Error()).Warn("shutdown wait timed out")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err.Error()).Warn("http server shutdown")
	}
}

// buildStore wires the configured event store, wrapping it with payload
// encryption when Config.Security.EncryptionKey is set. The returned close
// func is nil when there is nothing to release (the memory store).
func buildStore(cfg *config.Config, log *logger.Logger) (store.EventStore, func()) {
	var (
		eventStore store.EventStore
		closeFn    func()
	)

	if cfg.Postgres.DSN != "" {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			log.WithField("error", err.Error()).Fatal("open postgres")
		}
		if cfg.Postgres.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		}
		if cfg.Postgres.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		}
		if cfg.Postgres.ConnMaxLifeSecs > 0 {
			db.SetConnMaxLifetime(time.Duration(cfg.Postgres.ConnMaxLifeSecs) * time.Second)
		}

		pg := store.NewPostgresStore(db)
		retryCfg := resilience.DefaultRetryConfig()
		retryCfg.MaxAttempts = 5
		if err := resilience.Retry(context.Background(), retryCfg, func() error {
			return pg.EnsureSchema(context.Background())
		}); err != nil {
			log.WithField("error", err.Error()).Fatal("ensure event store schema")
		}
		eventStore = pg
		closeFn = func() { _ = db.Close() }
	} else {
		log.Warn("POSTGRES_DSN not set; running with an in-memory event store (data is lost on restart)")
		eventStore = store.NewMemoryStore()
	}

	if key := strings.TrimSpace(cfg.Security.EncryptionKey); key != "" {
		raw, err := decodeEncryptionKey(key)
		if err != nil {
			log.WithField("error", err.Error()).Fatal("invalid SECURITY_ENCRYPTION_KEY")
		}
		eventStore = store.NewEncryptingStore(eventStore, raw, "event-payload")
	}

	return eventStore, closeFn
}

func decodeEncryptionKey(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if len(value) == 32 {
		return []byte(value), nil
	}
	return nil, fmt.Errorf("expected a 32-byte key, base64-encoded or raw")
}
