package lifecycle

import (
	"time"
)

// Ready is a type of function that reports readiness of some state or action.
type Ready func() bool

// Await waits until the ready function is ready, retrying up to maxTries times
// and doubling the pause after each failed attempt starting from backoff.
// Returns whether ready ever reported true.
func Await(ready Ready, maxTries int, backoff time.Duration) bool {
	for tries := 0; tries <= maxTries; tries++ {
		if ready() {
			return true
		}
		if tries < maxTries {
			// exponentially back off before the next attempt
			time.Sleep(backoff << uint(tries))
		}
	}
	return false
}
