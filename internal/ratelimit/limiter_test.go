package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestCheckWithinLimit(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := New(3, time.Minute, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		remaining, ok := l.Check("user-1")
		if !ok {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		if want := 2 - i; remaining != want {
			t.Fatalf("request %d remaining = %d, want %d", i+1, remaining, want)
		}
	}
	if _, ok := l.Check("user-1"); ok {
		t.Fatal("fourth request allowed, want denied")
	}
}

func TestCheckIndependentPrincipals(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := New(1, time.Minute, func() time.Time { return now })

	if _, ok := l.Check("user-1"); !ok {
		t.Fatal("user-1 denied")
	}
	if _, ok := l.Check("user-2"); !ok {
		t.Fatal("user-2 denied, windows must be per principal")
	}
	if _, ok := l.Check("user-1"); ok {
		t.Fatal("user-1 second request allowed")
	}
}

func TestWindowReset(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := New(1, time.Minute, func() time.Time { return now })

	if _, ok := l.Check("user-1"); !ok {
		t.Fatal("first request denied")
	}
	if _, ok := l.Check("user-1"); ok {
		t.Fatal("second request in window allowed")
	}

	now = now.Add(61 * time.Second)
	if _, ok := l.Check("user-1"); !ok {
		t.Fatal("request after window expiry denied")
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := New(1, time.Minute, func() time.Time { return now })

	if d := l.RetryAfter("user-1"); d != 0 {
		t.Fatalf("RetryAfter before any request = %v, want 0", d)
	}
	l.Check("user-1")
	if d := l.RetryAfter("user-1"); d != time.Minute {
		t.Fatalf("RetryAfter = %v, want %v", d, time.Minute)
	}
	now = now.Add(2 * time.Minute)
	if d := l.RetryAfter("user-1"); d != 0 {
		t.Fatalf("RetryAfter past window = %v, want 0", d)
	}
}

func TestCheckConcurrent(t *testing.T) {
	l := New(50, time.Minute, nil)

	var wg sync.WaitGroup
	allowed := make(chan struct{}, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := l.Check("user-1"); ok {
				allowed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	var n int
	for range allowed {
		n++
	}
	if n != 50 {
		t.Fatalf("allowed %d concurrent requests, want exactly 50", n)
	}
}
