// Package quota enforces a per-user fixed-window request allowance with lazy
// reset. Admission and the consuming decrement are a single atomic operation.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSignInRequired denies premium-class requests from anonymous callers,
// independent of any counter value.
var ErrSignInRequired = errors.New("requires sign-in")

type Class string

const (
	Standard Class = "standard"
	Premium  Class = "premium"
)

// Identity is the tier-relevant view of a caller: authenticated users and
// anonymous device identities consume from separate allowances.
type Identity struct {
	ID            string
	Authenticated bool
}

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Ledger interface {
	// Admit consumes one unit on success. A window that has elapsed resets
	// first; the resetting request itself consumes one unit of the new window.
	Admit(ctx context.Context, id Identity, class Class) (Decision, error)
	// Remaining is a non-consuming peek for the current window.
	Remaining(ctx context.Context, id Identity, class Class) (int, error)
}

// Limits holds the per-tier base allowances and the shared window duration.
type Limits struct {
	Anonymous int
	Free      int
	Premium   int
	Window    time.Duration
}

// Allowance maps an identity and model class to the applicable base allowance.
func (l Limits) Allowance(id Identity, class Class) (int, error) {
	if class == Premium {
		if !id.Authenticated {
			return 0, ErrSignInRequired
		}
		return l.Premium, nil
	}
	if !id.Authenticated {
		return l.Anonymous, nil
	}
	return l.Free, nil
}

// counterKey qualifies the counter by tier so premium and free usage never
// share a window.
func counterKey(id Identity, class Class) string {
	tier := "free"
	if class == Premium {
		tier = "premium"
	}
	return fmt.Sprintf("quota:%s:%s", id.ID, tier)
}
