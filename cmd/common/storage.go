/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/agentgrant/consent/internal/logfields"
	"github.com/agentgrant/consent/pkg/storage/mongodb"
	"github.com/agentgrant/consent/pkg/storage/redis"
)

// ConnectTimeoutDefault is the default number of seconds to wait until a
// datasource is available before giving up.
const ConnectTimeoutDefault = 30

// InitMongoDB opens the shared MongoDB client, retrying once a second until
// the datasource is reachable or the timeout budget is spent.
func InitMongoDB(
	connString, databaseName string,
	timeout uint64,
	logger *log.Log,
	opts ...mongodb.ClientOpt,
) (*mongodb.Client, error) {
	var client *mongodb.Client

	err := retry(
		func() error {
			var openErr error
			client, openErr = mongodb.New(connString, databaseName, opts...)
			return openErr
		},
		timeout,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init mongodb client: %w", err)
	}

	return client, nil
}

// InitRedis opens the shared redis client, retrying once a second until the
// datasource is reachable or the timeout budget is spent.
func InitRedis(
	addrs []string,
	timeout uint64,
	logger *log.Log,
	opts ...redis.ClientOpt,
) (*redis.Client, error) {
	var client *redis.Client

	err := retry(
		func() error {
			var openErr error
			client, openErr = redis.New(addrs, opts...)
			return openErr
		},
		timeout,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init redis client: %w", err)
	}

	return client, nil
}

func retry(task func() error, numRetries uint64, logger *log.Log) error {
	const sleep = 1 * time.Second

	return backoff.RetryNotify(
		task,
		backoff.WithMaxRetries(backoff.NewConstantBackOff(sleep), numRetries),
		func(retryErr error, t time.Duration) {
			logger.Warn("Failed to connect to storage, will sleep before trying again.",
				logfields.WithSleep(t), log.WithError(retryErr))
		},
	)
}
