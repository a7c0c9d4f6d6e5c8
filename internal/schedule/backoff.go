package schedule

import "time"

// Backoff returns the delay before retrying after the given failed attempt
// (1-based): base doubled per prior failure, capped at the ceiling.
// Deterministic, no jitter.
func Backoff(base, ceiling time.Duration, failedAttempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if failedAttempt < 1 {
		failedAttempt = 1
	}

	delay := base
	for i := 1; i < failedAttempt; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}
