package notify

import "time"

// Ladder is a fixed, ordinal list of retry delays. The delay after attempt n
// is Ladder[n-1]; once n exceeds the ladder the delivery is exhausted.
type Ladder []time.Duration

func DefaultLadder() Ladder {
	return Ladder{time.Minute, 5 * time.Minute, 15 * time.Minute, time.Hour}
}

// Next returns when attempt+1 is due, measured from the time the given
// attempt was made. ok is false when the ladder is exhausted.
func (l Ladder) Next(attemptedAt time.Time, attempt int) (next time.Time, ok bool) {
	if attempt < 1 || attempt > len(l) {
		return time.Time{}, false
	}
	return attemptedAt.Add(l[attempt-1]), true
}

// MaxAttempts is the total number of sends a delivery gets, counting the first
func (l Ladder) MaxAttempts() int {
	return len(l) + 1
}
