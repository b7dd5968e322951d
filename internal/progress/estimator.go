package progress

import "time"

// Estimator produces time-based progress for tools that report none. The
// estimate rises linearly from Low toward Cap over Expected and never exceeds
// Cap until the tool actually exits. Successive values never decrease.
type Estimator struct {
	Low      int
	Cap      int
	Expected time.Duration
	last     int
}

// NewEstimator builds an estimator over [low, cap].
func NewEstimator(low, ceiling int, expected time.Duration) *Estimator {
	if ceiling < low {
		ceiling = low
	}
	return &Estimator{Low: low, Cap: ceiling, Expected: expected, last: low}
}

// At returns the estimate for the elapsed time.
func (e *Estimator) At(elapsed time.Duration) int {
	value := e.Cap
	if e.Expected > 0 {
		fraction := min(float64(elapsed)/float64(e.Expected), 1)
		if fraction < 0 {
			fraction = 0
		}
		value = e.Low + int(float64(e.Cap-e.Low)*fraction)
	}
	value = min(max(value, e.last), e.Cap)
	e.last = value
	return value
}

// ScaledExpectation converts a per-minute-of-media cost into an expected run
// time. Unknown or sub-minute media counts as one minute.
func ScaledExpectation(perMinute time.Duration, mediaSeconds float64) time.Duration {
	minutes := mediaSeconds / 60
	if minutes < 1 {
		minutes = 1
	}
	return time.Duration(float64(perMinute) * minutes)
}
