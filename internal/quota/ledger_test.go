package quota

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testLimits() Limits {
	return Limits{Anonymous: 2, Free: 3, Premium: 5, Window: 12 * time.Hour}
}

func newClockedLedger(limits Limits) (*MemoryLedger, *time.Time) {
	l := NewMemoryLedger(limits)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAdmit_ExhaustsWindow(t *testing.T) {
	l, _ := newClockedLedger(testLimits())
	ctx := context.Background()
	id := Identity{ID: "user:1", Authenticated: true}

	for i := 0; i < 3; i++ {
		d, err := l.Admit(ctx, id, Standard)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("admit %d should be allowed", i)
		}
		if d.Remaining != 2-i {
			t.Fatalf("admit %d remaining = %d, want %d", i, d.Remaining, 2-i)
		}
	}

	d, err := l.Admit(ctx, id, Standard)
	if err != nil {
		t.Fatalf("admit over limit: %v", err)
	}
	if d.Allowed {
		t.Fatalf("fourth request must be denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 12*time.Hour {
		t.Fatalf("unexpected retry-after: %v", d.RetryAfter)
	}
}

func TestAdmit_LazyResetAfterWindow(t *testing.T) {
	l, now := newClockedLedger(testLimits())
	ctx := context.Background()
	id := Identity{ID: "user:1", Authenticated: true}

	for i := 0; i < 3; i++ {
		if _, err := l.Admit(ctx, id, Standard); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}

	*now = now.Add(12 * time.Hour)

	d, err := l.Admit(ctx, id, Standard)
	if err != nil {
		t.Fatalf("admit after window: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("elapsed window must reset")
	}
	// the resetting request itself consumed one unit
	if d.Remaining != 2 {
		t.Fatalf("remaining = %d, want 2", d.Remaining)
	}
}

func TestAdmit_PremiumRequiresSignIn(t *testing.T) {
	l, _ := newClockedLedger(testLimits())

	_, err := l.Admit(context.Background(), Identity{ID: "anon:dev-1"}, Premium)
	if !errors.Is(err, ErrSignInRequired) {
		t.Fatalf("expected ErrSignInRequired, got %v", err)
	}
}

func TestAdmit_TiersHaveSeparateWindows(t *testing.T) {
	l, _ := newClockedLedger(testLimits())
	ctx := context.Background()
	id := Identity{ID: "user:1", Authenticated: true}

	for i := 0; i < 3; i++ {
		if _, err := l.Admit(ctx, id, Standard); err != nil {
			t.Fatalf("standard admit %d: %v", i, err)
		}
	}

	d, err := l.Admit(ctx, id, Premium)
	if err != nil {
		t.Fatalf("premium admit: %v", err)
	}
	if !d.Allowed || d.Remaining != 4 {
		t.Fatalf("premium window must be untouched, got %+v", d)
	}
}

func TestRemaining_DoesNotConsume(t *testing.T) {
	l, _ := newClockedLedger(testLimits())
	ctx := context.Background()
	id := Identity{ID: "anon:dev-1"}

	if _, err := l.Admit(ctx, id, Standard); err != nil {
		t.Fatalf("admit: %v", err)
	}

	for i := 0; i < 5; i++ {
		r, err := l.Remaining(ctx, id, Standard)
		if err != nil {
			t.Fatalf("remaining: %v", err)
		}
		if r != 1 {
			t.Fatalf("remaining = %d, want 1", r)
		}
	}
}

func TestRemaining_UntouchedIdentityGetsFullAllowance(t *testing.T) {
	l, _ := newClockedLedger(testLimits())

	r, err := l.Remaining(context.Background(), Identity{ID: "user:9", Authenticated: true}, Standard)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if r != 3 {
		t.Fatalf("remaining = %d, want 3", r)
	}
}
