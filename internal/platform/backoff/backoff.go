// Package backoff provides an explicit retry policy shared by the
// reconciler's failure handling and the webhook notifier.
package backoff

import (
	"math"
	"time"
)

// Policy describes bounded exponential backoff. The zero value is not
// usable; call WithDefaults or fill every field.
type Policy struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration

	// MaxAttempts bounds the number of delivery/poll attempts.
	MaxAttempts int
	// MaxElapsed bounds the total retry window from the first attempt.
	// Zero means no elapsed bound.
	MaxElapsed time.Duration
}

func (p Policy) WithDefaults() Policy {
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.Cap <= 0 {
		p.Cap = 30 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	return p
}

// Delay returns the wait before the given attempt. Attempt 1 waits Base,
// attempt 2 waits Base*Multiplier, and so on, capped at Cap.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return p.Base
	}
	d := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.Cap) {
		return p.Cap
	}
	return time.Duration(d)
}

// Exhausted reports whether the budget is spent after the given number of
// attempts and elapsed time since the first attempt.
func (p Policy) Exhausted(attempts int, elapsed time.Duration) bool {
	if attempts >= p.MaxAttempts {
		return true
	}
	if p.MaxElapsed > 0 && elapsed >= p.MaxElapsed {
		return true
	}
	return false
}
