package outbox

import "time"

// Policy computes how long a failed event waits before becoming due again.
// Delays double from Base per recorded failure and never exceed Cap, so the
// schedule is non-decreasing up to the cap.
type Policy struct {
	Base time.Duration
	Cap  time.Duration
}

const (
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 30 * time.Second
)

func NewPolicy(base, cap time.Duration) Policy {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if cap <= 0 {
		cap = defaultBackoffCap
	}
	if cap < base {
		cap = base
	}
	return Policy{Base: base, Cap: cap}
}

// Delay returns the backoff for the given failure count. attempts is the
// number of failed attempts recorded so far, starting at 1 for the first
// failure.
func (p Policy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.Cap {
			return p.Cap
		}
	}
	if delay > p.Cap {
		return p.Cap
	}
	return delay
}
