/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package retry provides a bounded retry policy shared by minting,
// transaction-confirmation polling and reconciliation retries.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds the number of attempts and the delay between them.
type Policy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is suitable for transaction-confirmation polling.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     10,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Permanent wraps an error so the retry loop stops immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, the policy is exhausted, or ctx is done.
func Do(ctx context.Context, policy Policy, op func() error) error {
	return backoff.Retry(op, newBackOff(ctx, policy))
}

// DoWithData runs op until it yields a value, the policy is exhausted,
// or ctx is done.
func DoWithData[T any](ctx context.Context, policy Policy, op func() (T, error)) (T, error) {
	return backoff.RetryWithData(op, newBackOff(ctx, policy))
}

func newBackOff(ctx context.Context, policy Policy) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	return backoff.WithContext(backoff.WithMaxRetries(b, policy.MaxAttempts), ctx)
}
