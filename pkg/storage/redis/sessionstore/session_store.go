/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package sessionstore persists session signature bundles keyed by consent
// transaction id. The redis TTL always matches the bundle expiry, so
// expired material is unreadable even before the provider's own checks.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisapi "github.com/redis/go-redis/v9"

	"github.com/agentgrant/consent/pkg/consentsession"
	"github.com/agentgrant/consent/pkg/service/consent"
	"github.com/agentgrant/consent/pkg/storage/redis"
)

const (
	keyPrefix = "consent_session"
)

// Store manages session bundles in redis.
type Store struct {
	redisClient *redis.Client
	rehydrator  consentsession.SignerRehydrator
}

// NewStore creates a Store. The rehydrator restores signing capability from
// the exported session material on read.
func NewStore(redisClient *redis.Client, rehydrator consentsession.SignerRehydrator) *Store {
	return &Store{
		redisClient: redisClient,
		rehydrator:  rehydrator,
	}
}

// Put stores the bundle with a TTL equal to its remaining lifetime. The
// bundle's signer must be portable; opaque signers cannot be persisted.
func (s *Store) Put(ctx context.Context, txID consent.TxID, bundle *consentsession.Bundle) error {
	remaining := time.Until(bundle.ExpiresAt)
	if remaining <= 0 {
		return errors.New("bundle already expired")
	}

	signer, err := bundle.Signer(time.Now())
	if err != nil {
		return fmt.Errorf("bundle signer: %w", err)
	}

	portable, ok := signer.(consentsession.PortableSigner)
	if !ok {
		return errors.New("signer session material is not portable")
	}

	doc := &sessionDocument{
		PublicKey: bundle.PublicKey,
		Abilities: bundle.Abilities,
		ExpiresAt: bundle.ExpiresAt,
		Material:  portable.Material(),
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return s.redisClient.API().Set(ctx, resolveRedisKey(txID), data, remaining).Err()
}

// Get rehydrates the stored bundle.
func (s *Store) Get(ctx context.Context, txID consent.TxID) (*consentsession.Bundle, error) {
	b, err := s.redisClient.API().Get(ctx, resolveRedisKey(txID)).Bytes()
	if err != nil {
		if errors.Is(err, redisapi.Nil) {
			return nil, consent.ErrDataNotFound
		}

		return nil, fmt.Errorf("find session: %w", err)
	}

	doc := &sessionDocument{}
	if err = json.Unmarshal(b, doc); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	if doc.ExpiresAt.Before(time.Now().UTC()) {
		return nil, consent.ErrDataNotFound
	}

	signer, err := s.rehydrator.Rehydrate(ctx, doc.Material)
	if err != nil {
		return nil, fmt.Errorf("rehydrate signer: %w", err)
	}

	return consentsession.NewBundle(doc.PublicKey, doc.Abilities, doc.ExpiresAt, signer), nil
}

// Delete removes the stored bundle lifecycle-independently of its TTL.
func (s *Store) Delete(ctx context.Context, txID consent.TxID) error {
	return s.redisClient.API().Del(ctx, resolveRedisKey(txID)).Err()
}

type sessionDocument struct {
	PublicKey string                   `json:"publicKey"`
	Abilities []consentsession.Ability `json:"abilities"`
	ExpiresAt time.Time                `json:"expiresAt"`
	Material  []byte                   `json:"material"`
}

func resolveRedisKey(txID consent.TxID) string {
	return fmt.Sprintf("%s-%s", keyPrefix, txID)
}
