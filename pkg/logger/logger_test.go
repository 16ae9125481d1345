package logger

import "testing"

func TestNewSetsLevelAndFormat(t *testing.T) {
	log := New(Config{Level: "debug", Format: "json"})
	if log.GetLevel().String() != "debug" {
		t.Fatalf("expected level debug, got %s", log.GetLevel())
	}
}

func TestNewDefaultsOnBadLevel(t *testing.T) {
	log := New(Config{Level: "not-a-level", Format: "text"})
	if log.GetLevel().String() != "info" {
		t.Fatalf("expected fallback to info, got %s", log.GetLevel())
	}
}

func TestScopedAddsFields(t *testing.T) {
	log := NewDefault("engine")
	entry := log.Scoped("acme", "default", "counter")
	if entry.Data["tenant"] != "acme" || entry.Data["workspace"] != "default" || entry.Data["agent"] != "counter" {
		t.Fatalf("expected scoped fields, got %#v", entry.Data)
	}
}
