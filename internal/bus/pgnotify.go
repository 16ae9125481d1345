package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/agent-runtime/internal/envelope"
	"github.com/lib/pq"
)

// PGNotifyBus is an EventBus backed by PostgreSQL's NOTIFY/LISTEN, for
// deployments that already run Postgres for the event store and want one
// fewer moving part than a JetStream cluster. Every event is published on
// the single channel given to NewPGNotifyBus.
type PGNotifyBus struct {
	db       *sql.DB
	listener *pq.Listener
	channel  string

	mu          sync.RWMutex
	subscribers []Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPGNotifyBus opens a dedicated listener connection to dsn and LISTENs on
// channel. db is used to issue NOTIFY on Publish.
func NewPGNotifyBus(db *sql.DB, dsn, channel string) (*PGNotifyBus, error) {
	reportProblem := func(_ pq.ListenerEventType, err error) {
		if err != nil {
			fmt.Printf("pgnotify bus: listener error: %v\n", err)
		}
	}
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("pgnotify bus: listen %s: %w", channel, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &PGNotifyBus{db: db, listener: listener, channel: channel, cancel: cancel}
	b.wg.Add(1)
	go b.listen(ctx)
	return b, nil
}

// Publish marshals each envelope and issues pg_notify on the bus channel.
// Postgres NOTIFY payloads are capped at 8000 bytes; envelopes whose JSON
// exceeds 7900 bytes fail loudly rather than being silently truncated.
func (b *PGNotifyBus) Publish(ctx context.Context, envs []envelope.Envelope) error {
	for _, env := range envs {
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("pgnotify bus: marshal envelope %s: %w", env.ID, err)
		}
		if len(data) > 7900 {
			return fmt.Errorf("pgnotify bus: envelope %s payload too large for NOTIFY (%d bytes)", env.ID, len(data))
		}
		if _, err := b.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", b.channel, string(data)); err != nil {
			return fmt.Errorf("pgnotify bus: notify: %w", err)
		}
	}
	return nil
}

func (b *PGNotifyBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, h)
}

func (b *PGNotifyBus) listen(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case notification := <-b.listener.Notify:
			if notification == nil {
				continue
			}
			b.deliver(notification.Extra)
		case <-time.After(90 * time.Second):
			go func() { _ = b.listener.Ping() }()
		}
	}
}

func (b *PGNotifyBus) deliver(payload string) {
	var env envelope.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		fmt.Printf("pgnotify bus: malformed notification dropped: %v\n", err)
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.subscribers))
	copy(handlers, b.subscribers)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(env); err != nil {
			fmt.Printf("pgnotify bus: handler error for %s: %v\n", env.ID, err)
		}
	}
}

// Close stops the listener goroutine and closes the underlying connection.
func (b *PGNotifyBus) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.listener.Close()
}

var _ EventBus = (*PGNotifyBus)(nil)
