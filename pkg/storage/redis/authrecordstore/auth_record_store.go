/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package authrecordstore persists the resolved authentication record for
// one auth identity, so a returning user's delegated key-pair is found
// without minting again. Records are removed on denial.
package authrecordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisapi "github.com/redis/go-redis/v9"

	"github.com/agentgrant/consent/pkg/service/consent"
	"github.com/agentgrant/consent/pkg/storage/redis"
)

const (
	keyPrefix = "consent_auth_record"
)

// Store manages auth records in redis.
type Store struct {
	ttl         time.Duration
	redisClient *redis.Client
}

// NewStore creates a Store. A non-positive TTL keeps records until they are
// explicitly deleted.
func NewStore(redisClient *redis.Client, recordTTLSec int32) *Store {
	ttl := time.Duration(recordTTLSec) * time.Second
	if ttl < 0 {
		ttl = 0
	}

	return &Store{
		ttl:         ttl,
		redisClient: redisClient,
	}
}

func (s *Store) Get(ctx context.Context, authKey string) (*consent.AuthRecord, error) {
	b, err := s.redisClient.API().Get(ctx, resolveRedisKey(authKey)).Bytes()
	if err != nil {
		if errors.Is(err, redisapi.Nil) {
			return nil, consent.ErrDataNotFound
		}

		return nil, fmt.Errorf("find auth record: %w", err)
	}

	record := &consent.AuthRecord{}
	if err = json.Unmarshal(b, record); err != nil {
		return nil, fmt.Errorf("decode auth record: %w", err)
	}

	return record, nil
}

func (s *Store) Put(ctx context.Context, authKey string, record *consent.AuthRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal auth record: %w", err)
	}

	return s.redisClient.API().Set(ctx, resolveRedisKey(authKey), data, s.ttl).Err()
}

func (s *Store) Delete(ctx context.Context, authKey string) error {
	return s.redisClient.API().Del(ctx, resolveRedisKey(authKey)).Err()
}

func resolveRedisKey(authKey string) string {
	return fmt.Sprintf("%s-%s", keyPrefix, authKey)
}
