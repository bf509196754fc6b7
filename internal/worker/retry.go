package worker

import "time"

// RetryPolicy controls redelivery backoff for the event dispatcher.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 2 * time.Second,
		MaxDelay:     2 * time.Minute,
		Multiplier:   2.0,
	}
}

// NextDelay returns the backoff before the given attempt (1-based).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.InitialDelay
	}

	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// Exhausted reports whether a new failure at the given retry count should
// dead-letter the event instead of rescheduling it.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount+1 >= p.MaxRetries
}
