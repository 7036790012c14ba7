/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package redis provides a liveness check for the redis deployment backing
// the consent transaction and session stores.
package redis

import (
	"context"
	"fmt"

	"github.com/agentgrant/consent/pkg/storage/redis"
)

// New returns a health check that pings redis through the given client.
func New(client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := client.API().Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}

		return nil
	}
}
