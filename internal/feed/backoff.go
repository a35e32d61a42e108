package feed

import (
	"math"
	"time"
)

// NextDelay computes the reconnect delay for the given attempt (1-based):
// min(max, base * 1.5^(attempt-1)). Pure so the schedule is testable without
// timers.
func NextDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(base) * math.Pow(1.5, float64(attempt-1)))
	if d > max || d < 0 {
		return max
	}
	return d
}
