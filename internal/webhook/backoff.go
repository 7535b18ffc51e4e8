package webhook

import "time"

// MaxAttempts is the total number of delivery attempts per event/endpoint
// pair before giving up.
const MaxAttempts = 5

// Backoff returns the delay before the given attempt number runs. Attempt 1
// is immediate; retries follow an exponential schedule of 2, 4, 8, 16
// minutes for attempts 2 through 5.
func Backoff(attemptNumber int) time.Duration {
	if attemptNumber <= 1 {
		return 0
	}
	// 2^(n-1) minutes: 2, 4, 8, 16
	return time.Duration(1<<(attemptNumber-1)) * time.Minute
}
