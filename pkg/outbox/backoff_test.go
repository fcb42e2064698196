package outbox

import (
	"testing"
	"time"
)

func TestPolicyDelayDoublesUntilCap(t *testing.T) {
	policy := NewPolicy(time.Second, 30*time.Second)

	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, want := range expected {
		attempts := i + 1
		if got := policy.Delay(attempts); got != want {
			t.Fatalf("attempt %d: expected %v got %v", attempts, want, got)
		}
	}
}

func TestPolicyDelayNeverDecreases(t *testing.T) {
	policy := NewPolicy(time.Second, time.Minute)

	prev := time.Duration(0)
	for attempts := 1; attempts <= 20; attempts++ {
		got := policy.Delay(attempts)
		if got < prev {
			t.Fatalf("delay decreased at attempt %d: %v -> %v", attempts, prev, got)
		}
		if got > time.Minute {
			t.Fatalf("delay exceeded cap at attempt %d: %v", attempts, got)
		}
		prev = got
	}
}

func TestPolicyDefaults(t *testing.T) {
	policy := NewPolicy(0, 0)
	if policy.Base != time.Second {
		t.Fatalf("expected default base 1s, got %v", policy.Base)
	}
	if policy.Cap != 30*time.Second {
		t.Fatalf("expected default cap 30s, got %v", policy.Cap)
	}

	if got := policy.Delay(0); got != time.Second {
		t.Fatalf("attempt floor should clamp to base, got %v", got)
	}

	inverted := NewPolicy(time.Minute, time.Second)
	if inverted.Cap != time.Minute {
		t.Fatalf("cap below base should clamp to base, got %v", inverted.Cap)
	}
}
