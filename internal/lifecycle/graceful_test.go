package lifecycle

import (
	"context"
	"testing"
	"time"
)

func TestOperationGuardTracksInFlight(t *testing.T) {
	gs := NewGracefulShutdown()

	guard := NewOperationGuard(gs)
	if guard == nil {
		t.Fatalf("expected guard before shutdown")
	}
	if gs.InFlight() != 1 {
		t.Fatalf("expected 1 in-flight operation, got %d", gs.InFlight())
	}
	guard.Close()
	if gs.InFlight() != 0 {
		t.Fatalf("expected 0 in-flight operations after Close, got %d", gs.InFlight())
	}
}

func TestOperationGuardNilAfterShutdown(t *testing.T) {
	gs := NewGracefulShutdown()
	gs.Shutdown()

	if guard := NewOperationGuard(gs); guard != nil {
		t.Fatalf("expected nil guard once shutdown has started")
	}
}

func TestShutdownAndWaitBlocksUntilDone(t *testing.T) {
	gs := NewGracefulShutdown()
	guard := NewOperationGuard(gs)

	done := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		guard.Close()
		close(done)
	}()

	if err := gs.ShutdownAndWait(time.Second); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	<-done
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	gs := NewGracefulShutdown()
	_ = NewOperationGuard(gs) // never closed

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	if err := gs.Wait(ctx); err == nil {
		t.Fatalf("expected context deadline error while an operation is still in flight")
	}
}
