package orchestrator

import "time"

// backoffDelay returns the delay before retry number attempt+1,
// doubling per failed attempt and capped at the stage's maximum.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
