// Package retry bounds retries of idempotent collaborator calls.
//
// Only reads and best-effort writes go through here. Conditional commits are
// never retried: a repeated commit after an ambiguous failure is answered by the
// store's own precondition instead.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/cenkalti/backoff/v5"
)

// Policy describes how many times and how quickly to retry.
type Policy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Default is three tries starting at 25ms.
func Default() Policy {
	return Policy{
		MaxTries:        3,
		InitialInterval: 25 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
	}
}

// None performs exactly one attempt.
func None() Policy {
	return Policy{MaxTries: 1}
}

// Do runs op until it succeeds, returns a permanent error, the policy is
// exhausted, or ctx is done. Not-found, validation and context errors are
// permanent.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	tries := p.MaxTries
	if tries == 0 {
		tries = 1
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err != nil && Permanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
}

// Permanent reports whether err should not be retried.
func Permanent(err error) bool {
	return errors.Is(err, domain.ErrConversationNotFound) ||
		errors.Is(err, domain.ErrDocumentNotFound) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrUnknownConversationType) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
