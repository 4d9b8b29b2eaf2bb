package quota

import (
	"fmt"
	"strings"
	"time"
)

// HumanDuration renders a retry wait as "N hours M minutes S seconds" with
// zero components omitted. Non-positive durations (clock skew) floor to
// "a few moments".
func HumanDuration(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs <= 0 {
		return "a few moments"
	}

	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60

	var parts []string
	if h > 0 {
		parts = append(parts, plural(h, "hour"))
	}
	if m > 0 {
		parts = append(parts, plural(m, "minute"))
	}
	if s > 0 {
		parts = append(parts, plural(s, "second"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// DenyMessage is the human-readable body for a 429.
func DenyMessage(retryAfter time.Duration) string {
	return fmt.Sprintf("You have used up your quota. Try again in %s.", HumanDuration(retryAfter))
}
