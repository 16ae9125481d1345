package subject

import "testing"

func TestForCommandStripsLeadingPrefix(t *testing.T) {
	got := ForCommand("acme", "default", "cmd.inventory.reserve")
	want := "cmd.acme.default.inventory.reserve"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestForEventStripsLeadingPrefix(t *testing.T) {
	got := ForEvent("acme", "default", "evt.order.created")
	want := "evt.acme.default.order.created"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestDeadLetter(t *testing.T) {
	got := DeadLetter("cmd.acme.default.counter.increment")
	want := "failed.cmd.acme.default.counter.increment"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestCommandFilter(t *testing.T) {
	got := CommandFilter("acme", "default", "counter")
	want := "cmd.acme.default.counter.>"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestTargetAgent(t *testing.T) {
	if got := TargetAgent("cmd.inventory.reserve"); got != "inventory" {
		t.Fatalf("got %q want inventory", got)
	}
	if got := TargetAgent("cmd.counter.increment.by"); got != "counter" {
		t.Fatalf("got %q want counter", got)
	}
}
