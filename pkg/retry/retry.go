// Package retry runs an operation with a bounded number of retries and
// exponential backoff with jitter.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy bounds the attempts made by Do. MaxRetries counts retries after the
// first attempt, so MaxRetries=2 allows three calls in total.
type Policy struct {
	MaxRetries int           `envconfig:"MAX_RETRIES" default:"2"`
	Backoff    time.Duration `envconfig:"RETRY_BACKOFF" default:"500ms"`
	MaxBackoff time.Duration `envconfig:"RETRY_MAX_BACKOFF" default:"5s"`
	Jitter     float64       `envconfig:"RETRY_JITTER" default:"0.2"`
}

// DefaultPolicy mirrors the per-call retry budget used for model and search calls.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 2, Backoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second, Jitter: 0.2}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the retry budget is
// spent, or ctx is done. The last error is returned unwrapped from Permanent.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := 0; attempt <= max(p.MaxRetries, 0); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(p.backoff(attempt - 1)):
			}
		}

		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (p Policy) backoff(attempt int) time.Duration {
	if p.Backoff <= 0 {
		return 0
	}
	d := p.Backoff * time.Duration(1<<attempt)
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	if d < 0 {
		return 0
	}
	return d
}
