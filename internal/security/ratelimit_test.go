package security

import (
	"testing"
	"time"
)

func TestLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("first two hits should pass")
	}
	if l.Allow("a") {
		t.Fatal("third hit inside the window should be rejected")
	}
	if !l.Allow("b") {
		t.Fatal("keys are independent")
	}
	if got := l.RetryAfter("a"); got != time.Minute {
		t.Fatalf("retry after = %v; want 1m", got)
	}

	now = now.Add(30 * time.Second)
	if got := l.RetryAfter("a"); got != 30*time.Second {
		t.Fatalf("retry after = %v; want 30s", got)
	}
	now = now.Add(31 * time.Second)
	if !l.Allow("a") {
		t.Fatal("hits should expire after the window")
	}
	if got := l.RetryAfter("b"); got != 0 {
		t.Fatalf("expired key retry after = %v", got)
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !l.Allow("x") {
			t.Fatal("disabled limiter rejected a hit")
		}
	}
	var nilLimiter *Limiter
	if !nilLimiter.Allow("x") || nilLimiter.RetryAfter("x") != 0 {
		t.Fatal("nil limiter should allow everything")
	}
}
