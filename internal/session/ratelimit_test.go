package session

import (
	"testing"
	"time"
)

func TestConnLimiter_AllowsUpToBurst(t *testing.T) {
	l := newConnLimiter(1, 3)
	for i := 0; i < 3; i++ {
		if !l.allow() {
			t.Fatalf("expected token %d to be allowed", i)
		}
	}
	if l.allow() {
		t.Fatal("expected burst to be exhausted")
	}
}

func TestConnLimiter_RefillsOverTime(t *testing.T) {
	l := newConnLimiter(1000, 1)
	if !l.allow() {
		t.Fatal("expected first token to be allowed")
	}
	if l.allow() {
		t.Fatal("expected bucket to be empty immediately after")
	}
	l.lastRefil = l.lastRefil.Add(-time.Second)
	if !l.allow() {
		t.Fatal("expected refill after simulated elapsed time")
	}
}
