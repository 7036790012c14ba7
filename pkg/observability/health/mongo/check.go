/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mongo provides a liveness check for the mongodb deployment backing
// the app metadata cache.
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/agentgrant/consent/pkg/storage/mongodb"
)

// New returns a health check that pings the mongodb primary through the
// given client.
func New(client *mongodb.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
			return fmt.Errorf("failed to ping mongodb: %w", err)
		}

		return nil
	}
}
