// Package retry implements the jittered exponential backoff used for the
// before-first-byte upstream retry class (§4.3) and the audio-extractor
// retry policy (§4.1). It wraps github.com/cenkalti/backoff/v5, which the
// donor already carried as an indirect dependency of its provider stack;
// this package promotes it to direct use.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy configures a jittered exponential backoff run.
type Policy struct {
	BaseDelay   time.Duration // first retry delay before jitter
	Multiplier  float64       // delay growth factor per attempt
	Jitter      float64       // +/- fraction applied to each delay (e.g. 0.2 == +/-20%)
	MaxAttempts int           // total attempts including the first, 0 means unlimited
	MaxElapsed  time.Duration // overall deadline across all attempts, 0 means unlimited
	PerAttempt  time.Duration // per-attempt timeout applied to ctx, 0 means none
}

// DispatchPolicy is the before-first-byte upstream retry class (§4.3):
// up to 3 total attempts, 250ms base delay doubling each attempt, +/-30%
// jitter, no per-attempt timeout beyond the caller's context.
func DispatchPolicy() Policy {
	return Policy{
		BaseDelay:   250 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      0.30,
		MaxAttempts: 3,
	}
}

// AudioExtractionPolicy is the §4.1 audio-transcription retry policy: up to
// 3 retries (4 attempts total) at 500ms base, +/-20% jitter, bounded to 30s
// per attempt.
func AudioExtractionPolicy() Policy {
	return Policy{
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      0.20,
		MaxAttempts: 4,
		PerAttempt:  30 * time.Second,
	}
}

// Permanent wraps err so Do stops retrying immediately and returns err
// unwrapped to the caller.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs fn under the given policy, retrying on error until fn returns nil,
// fn returns a Permanent error, attempts are exhausted, or ctx is done. It
// returns the last error on exhaustion.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	if p.Multiplier <= 0 {
		b.Multiplier = 2.0
	}

	opts := []backoff.RetryOption{}
	if p.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(p.MaxAttempts)))
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}

	operation := func() (struct{}, error) {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.PerAttempt > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.PerAttempt)
			defer cancel()
		}
		return struct{}{}, fn(attemptCtx)
	}

	_, err := backoff.Retry(ctx, operation, opts...)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Unwrap()
		}
		return err
	}
	return nil
}
