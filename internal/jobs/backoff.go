package jobs

import "time"

// Backoff returns the delay before the next execution after the given number
// of completed attempts: base doubled per attempt, never exceeding cap.
func Backoff(base, cap time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
