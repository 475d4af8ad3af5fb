package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jaidee-care/jaidee-core/internal/cache"
)

// failingStore always errors, simulating an unreachable cache.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}
func (failingStore) Delete(context.Context, string) error        { return errors.New("cache down") }
func (failingStore) Keys(context.Context, string) ([]string, error) {
	return nil, errors.New("cache down")
}
func (failingStore) Ping(context.Context) error { return errors.New("cache down") }
func (failingStore) Close() error               { return nil }

func TestLimiter_BurstThenDeny(t *testing.T) {
	mem := cache.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(mem, 5, 1, time.Hour)
	l.now = func() time.Time { return now }

	// Full bucket admits 5 back to back.
	for i := 0; i < 5; i++ {
		if d := l.Admit(ctx, "u1"); !d.Allowed {
			t.Fatalf("Request %d should be admitted", i+1)
		}
	}

	// Sixth is denied with a finite retry hint of one refill period.
	d := l.Admit(ctx, "u1")
	if d.Allowed {
		t.Fatal("Expected sixth request to be denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("Expected retry_after within one refill period, got %v", d.RetryAfter)
	}
}

func TestLimiter_DeniedConsumesNothing(t *testing.T) {
	mem := cache.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(mem, 1, 1, time.Hour)
	l.now = func() time.Time { return now }

	if d := l.Admit(ctx, "u1"); !d.Allowed {
		t.Fatal("First request should be admitted")
	}
	// Repeated denials must not push the budget further negative; after one
	// refill period exactly one request gets through.
	for i := 0; i < 10; i++ {
		if d := l.Admit(ctx, "u1"); d.Allowed {
			t.Fatal("Expected denial while empty")
		}
	}

	now = now.Add(time.Minute)
	if d := l.Admit(ctx, "u1"); !d.Allowed {
		t.Error("Expected admission after one refill period")
	}
	if d := l.Admit(ctx, "u1"); d.Allowed {
		t.Error("Only one token should have refilled")
	}
}

func TestLimiter_RefillCapsAtCapacity(t *testing.T) {
	mem := cache.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(mem, 2, 1, time.Hour)
	l.now = func() time.Time { return now }

	// Drain, then wait far longer than needed to refill.
	l.Admit(ctx, "u1")
	l.Admit(ctx, "u1")
	now = now.Add(24 * time.Hour)

	admitted := 0
	for i := 0; i < 5; i++ {
		if d := l.Admit(ctx, "u1"); d.Allowed {
			admitted++
		}
	}
	if admitted != 2 {
		t.Errorf("Expected refill capped at capacity 2, admitted %d", admitted)
	}
}

func TestLimiter_UsersAreIndependent(t *testing.T) {
	mem := cache.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	l := New(mem, 1, 1, time.Hour)

	if d := l.Admit(ctx, "u1"); !d.Allowed {
		t.Fatal("u1 first request should be admitted")
	}
	if d := l.Admit(ctx, "u1"); d.Allowed {
		t.Fatal("u1 second request should be denied")
	}
	if d := l.Admit(ctx, "u2"); !d.Allowed {
		t.Error("u2 must not be affected by u1's budget")
	}
}

func TestLimiter_FailsOpenOnStoreError(t *testing.T) {
	l := New(failingStore{}, 1, 1, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d := l.Admit(ctx, "u1"); !d.Allowed {
			t.Fatalf("Request %d should fail open when store is down", i+1)
		}
	}
	if got := l.FailOpenCount(); got < 3 {
		t.Errorf("Expected at least 3 fail-open admissions recorded, got %d", got)
	}
}

func TestLimiter_CorruptBucketResets(t *testing.T) {
	mem := cache.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	if err := mem.Set(ctx, "bucket:u1", []byte("not json"), 0); err != nil {
		t.Fatalf("Failed to seed corrupt bucket: %v", err)
	}

	l := New(mem, 5, 1, time.Hour)
	if d := l.Admit(ctx, "u1"); !d.Allowed {
		t.Error("Corrupt bucket should reset to a fresh full bucket, not deny")
	}
	if got := l.FailOpenCount(); got != 0 {
		t.Errorf("Corrupt bucket is a reset, not a fail-open: count %d", got)
	}
}

func TestLimiter_LockMapDoesNotGrowWithUsers(t *testing.T) {
	mem := cache.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	l := New(mem, 5, 1, time.Millisecond)
	for i := 0; i < 10000; i++ {
		l.Admit(ctx, fmt.Sprintf("user-%d", i))
	}

	// Lock entries live only while an admission is in flight; a quiet
	// limiter holds none regardless of how many users it has ever seen.
	if got := l.locks.Len(); got != 0 {
		t.Errorf("Expected no retained lock entries after admissions finished, got %d", got)
	}
}

func TestLimiter_ConcurrentSameUser(t *testing.T) {
	mem := cache.NewMemory()
	defer mem.Close()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(mem, 5, 1, time.Hour)
	l.now = func() time.Time { return now }

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := l.Admit(ctx, "u1"); d.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 5 {
		t.Errorf("Expected exactly 5 admissions under contention, got %d", admitted)
	}
}
