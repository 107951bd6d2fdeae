// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package backoff provides a configurable retry policy with escalating
// per-attempt timeouts, replacing ad hoc "try twice with a bigger
// timeout" logic at call sites.
package backoff

import (
	"context"
	"errors"
	"time"
)

// ErrAttemptsExhausted is returned when every attempt has failed.
var ErrAttemptsExhausted = errors.New("all retry attempts exhausted")

// Policy describes how an operation is retried. The timeout for attempt n
// (0-based) is BaseTimeout * Multiplier^n.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// BaseTimeout bounds the first attempt.
	BaseTimeout time.Duration
	// Multiplier scales the timeout for each subsequent attempt.
	// Values below 1 are treated as 1.
	Multiplier float64
}

// Default is the policy used when none is configured: two attempts, the
// second with a doubled timeout.
var Default = Policy{
	Attempts:    2,
	BaseTimeout: 10 * time.Second,
	Multiplier:  2,
}

// Timeout returns the timeout bounding the given 0-based attempt.
func (p Policy) Timeout(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.BaseTimeout)
	for range attempt {
		d *= mult
	}

	return time.Duration(d)
}

// Retry runs fn until it succeeds or the policy is exhausted. Each attempt
// receives a context bounded by that attempt's timeout. The parent context
// canceling stops further attempts immediately.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var errs error

	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return errors.Join(errs, err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout(attempt))
		err := fn(attemptCtx)

		cancel()

		if err == nil {
			return nil
		}

		errs = errors.Join(errs, err)
	}

	return errors.Join(ErrAttemptsExhausted, errs)
}
