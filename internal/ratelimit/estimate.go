package ratelimit

import "time"

// estimateWait guesses how long the task at 1-based queue position will wait
// for a slot. It is advisory only and never gates dispatch.
//
// When enough holds are outstanding, the answer is the release of the
// (position-available)-th soonest hold. Otherwise it falls back to a
// steady-state rate of maxRequests per window.
func estimateWait(position, available, maxRequests int, window time.Duration, releaseAt func(n int) (time.Time, bool), now time.Time) time.Duration {
	if position <= available {
		return 0
	}

	ahead := position - available
	if at, ok := releaseAt(ahead - 1); ok {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}

	return steadyStateWait(ahead, maxRequests, window)
}

func steadyStateWait(ahead, maxRequests int, window time.Duration) time.Duration {
	batches := (ahead - 1) / maxRequests
	positionInBatch := ahead % maxRequests
	perTask := window / time.Duration(maxRequests)
	return time.Duration(batches)*window + time.Duration(positionInBatch)*perTask
}
