package quota

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int
	start time.Time
}

// MemoryLedger implements the same fixed-window semantics as the redis ledger
// for tests and redis-less runs. Single process only.
type MemoryLedger struct {
	mu      sync.Mutex
	windows map[string]*window
	limits  Limits
	now     func() time.Time
}

func NewMemoryLedger(limits Limits) *MemoryLedger {
	return &MemoryLedger{
		windows: make(map[string]*window),
		limits:  limits,
		now:     time.Now,
	}
}

func (l *MemoryLedger) Admit(ctx context.Context, id Identity, class Class) (Decision, error) {
	allowance, err := l.limits.Allowance(id, class)
	if err != nil {
		return Decision{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := counterKey(id, class)
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.limits.Window {
		l.windows[key] = &window{count: 1, start: now}
		return Decision{Allowed: true, Remaining: allowance - 1}, nil
	}
	if w.count < allowance {
		w.count++
		return Decision{Allowed: true, Remaining: allowance - w.count}, nil
	}
	return Decision{RetryAfter: w.start.Add(l.limits.Window).Sub(now)}, nil
}

func (l *MemoryLedger) Remaining(ctx context.Context, id Identity, class Class) (int, error) {
	allowance, err := l.limits.Allowance(id, class)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[counterKey(id, class)]
	if !ok || l.now().Sub(w.start) >= l.limits.Window {
		return allowance, nil
	}
	remaining := allowance - w.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
