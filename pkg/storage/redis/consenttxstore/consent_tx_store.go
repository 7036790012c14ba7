/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package consenttxstore persists consent transactions in redis with a TTL
// covering the longest plausible flow duration.
package consenttxstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redisapi "github.com/redis/go-redis/v9"

	"github.com/agentgrant/consent/pkg/service/consent"
	"github.com/agentgrant/consent/pkg/storage/redis"
)

const (
	keyPrefix = "consent_tx"
)

// Store manages consent transactions in redis.
type Store struct {
	ttl         time.Duration
	redisClient *redis.Client
}

// NewStore creates a Store.
func NewStore(redisClient *redis.Client, txTTLSec int32) *Store {
	return &Store{
		ttl:         time.Duration(txTTLSec) * time.Second,
		redisClient: redisClient,
	}
}

// Create creates a transaction document.
func (s *Store) Create(ctx context.Context, data *consent.TransactionData) (*consent.Transaction, error) {
	txID := consent.TxID(uuid.NewString())

	doc := &txDocument{
		ExpireAt:        time.Now().Add(s.ttl),
		TransactionData: data,
	}

	if err := s.set(ctx, txID, doc); err != nil {
		return nil, fmt.Errorf("tx create: %w", err)
	}

	return &consent.Transaction{ID: txID, TransactionData: *data}, nil
}

// Get returns a transaction by id.
func (s *Store) Get(ctx context.Context, txID consent.TxID) (*consent.Transaction, error) {
	doc, err := s.getTxDocument(ctx, txID)
	if err != nil {
		return nil, err
	}

	return &consent.Transaction{ID: txID, TransactionData: *doc.TransactionData}, nil
}

// Update rewrites a transaction document, preserving its expiry window.
// Get-then-set is not atomic: two concurrent updates of the same
// transaction can interleave. State transitions assume one browser session
// drives a flow at a time; a WATCH or version field would be needed to
// serialize concurrent writers.
func (s *Store) Update(ctx context.Context, tx *consent.Transaction) error {
	doc, err := s.getTxDocument(ctx, tx.ID)
	if err != nil {
		return err
	}

	doc.TransactionData = &tx.TransactionData

	if err = s.set(ctx, tx.ID, doc); err != nil {
		return fmt.Errorf("tx update: %w", err)
	}

	return nil
}

func (s *Store) set(ctx context.Context, txID consent.TxID, doc *txDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal tx: %w", err)
	}

	return s.redisClient.API().Set(ctx, resolveRedisKey(txID), data, s.ttl).Err()
}

func (s *Store) getTxDocument(ctx context.Context, txID consent.TxID) (*txDocument, error) {
	b, err := s.redisClient.API().Get(ctx, resolveRedisKey(txID)).Bytes()
	if err != nil {
		if errors.Is(err, redisapi.Nil) {
			return nil, consent.ErrDataNotFound
		}

		return nil, fmt.Errorf("find tx: %w", err)
	}

	doc := &txDocument{}
	if err = json.Unmarshal(b, doc); err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}

	if doc.ExpireAt.Before(time.Now().UTC()) {
		return nil, consent.ErrDataNotFound
	}

	return doc, nil
}

type txDocument struct {
	ExpireAt        time.Time                `json:"expireAt"`
	TransactionData *consent.TransactionData `json:"transactionData"`
}

func resolveRedisKey(txID consent.TxID) string {
	return fmt.Sprintf("%s-%s", keyPrefix, txID)
}
