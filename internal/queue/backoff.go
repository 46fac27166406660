package queue

import "time"

const (
	// baseRetryDelay is the wait after the first failure.
	baseRetryDelay = 5 * time.Second

	// maxRetryDelay caps the exponential growth: 5s, 10s, 20s, 40s, 80s, 80s...
	maxRetryDelay = 80 * time.Second
)

// RetryDelay returns the required wait before an item with the given retry
// count becomes eligible again: min(5s * 2^retryCount, 80s). The value never
// decreases as retryCount grows.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	d := baseRetryDelay
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

// Eligible reports whether an item may be attempted at the given instant.
//
// An item is eligible when its retry budget is not exhausted and either it
// has never been attempted or the capped exponential backoff window since
// the last attempt has elapsed. An item whose retry count has reached its
// max is dead-lettered: excluded forever, regardless of elapsed time.
//
// Pure function of item state and the clock - no I/O.
func Eligible(item *Item, now time.Time) bool {
	if item.RetryCount >= item.MaxRetries {
		return false
	}
	if item.LastAttemptedAt == nil {
		return true
	}
	return now.Sub(*item.LastAttemptedAt) >= RetryDelay(item.RetryCount)
}
