package bus

import (
	"context"
	"sync"

	"github.com/R3E-Network/agent-runtime/internal/envelope"
)

// MemoryBus broadcasts synchronously to every subscriber in registration
// order, for deterministic tests and single-process deployments.
type MemoryBus struct {
	mu          sync.Mutex
	subscribers []Handler
	Published   []envelope.Envelope
}

// NewMemoryBus builds an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Publish records envs and synchronously invokes every subscriber for each,
// in order. The first handler error is returned at once: the remaining
// subscribers for that event and all later events in envs are neither
// recorded nor delivered.
func (b *MemoryBus) Publish(ctx context.Context, envs []envelope.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, env := range envs {
		b.Published = append(b.Published, env)
		for _, h := range b.subscribers {
			if err := h(env); err != nil {
				return err
			}
		}
	}
	return nil
}

// Subscribe registers h to receive every subsequently published event.
func (b *MemoryBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, h)
}

var _ EventBus = (*MemoryBus)(nil)
