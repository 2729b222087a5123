// Package retry provides a parameterized backoff policy shared by the
// transaction submission path and the account-store conflict path.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// Submission is the default policy for network submission and
// confirmation polling: 500ms base, doubling, capped at 8s, 5 attempts.
var Submission = Policy{
	BaseDelay:   500 * time.Millisecond,
	Multiplier:  2,
	MaxDelay:    8 * time.Second,
	MaxAttempts: 5,
}

// Conflict is the policy for optimistic-lock conflicts: one immediate
// retry with a refreshed version, then surface the error.
var Conflict = Policy{
	BaseDelay:   50 * time.Millisecond,
	Multiplier:  2,
	MaxDelay:    time.Second,
	MaxAttempts: 2,
}

// PermanentError wraps an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do stops immediately.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do calls fn up to p.MaxAttempts times, sleeping between attempts with
// exponential backoff and +-25% jitter. It stops early when fn succeeds,
// when fn returns a PermanentError, or when ctx is cancelled.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}

	var err error
	delay := p.BaseDelay

	for attempt := 0; attempt < attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay)):
		}

		delay = time.Duration(float64(delay) * mult)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return err
}

// jittered spreads a delay by +-25% to avoid thundering herds.
func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := d / 4
	return d - spread + time.Duration(cryptoInt64n(int64(2*spread+1)))
}

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n))
}
