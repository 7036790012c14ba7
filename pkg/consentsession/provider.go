/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consentsession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"
)

var logger = log.New("consent-session")

const (
	// DefaultSessionTTL is the fixed horizon for session signature bundles.
	DefaultSessionTTL = 15 * time.Minute

	// maxProofAge bounds how stale an auth proof may be at submission time.
	maxProofAge = 5 * time.Minute
)

// sessionBackend is the wallet/authentication SDK that produces session
// signatures for a key-pair. Consumed as an opaque capability provider.
type sessionBackend interface {
	CreateSession(
		ctx context.Context,
		keyPairPublicKey string,
		proof *AuthProof,
		abilities []Ability,
	) (Signer, error)
}

// capacityDelegator satisfies the rate-limiting/payment delegation step that
// sponsors gas for session operations. Its failures are surfaced distinctly
// from authentication failures.
type capacityDelegator interface {
	DelegateCapacity(ctx context.Context, keyPairPublicKey string) error
}

// Config holds configuration options and dependencies for Provider.
type Config struct {
	Backend           sessionBackend
	CapacityDelegator capacityDelegator
	SessionTTL        time.Duration
}

// Provider produces time-bounded signing capability for a key-pair and a
// fresh authentication proof.
type Provider struct {
	backend           sessionBackend
	capacityDelegator capacityDelegator
	sessionTTL        time.Duration
}

// NewProvider returns a new Provider instance.
func NewProvider(config *Config) *Provider {
	ttl := config.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &Provider{
		backend:           config.Backend,
		capacityDelegator: config.CapacityDelegator,
		sessionTTL:        ttl,
	}
}

// GetSessionMaterial exchanges a fresh auth proof for a session signature
// bundle scoped to the requested abilities only.
func (p *Provider) GetSessionMaterial(
	ctx context.Context,
	keyPairPublicKey string,
	proof *AuthProof,
	abilities []Ability,
) (*Bundle, error) {
	if len(abilities) == 0 {
		return nil, newAuthenticationFailed(errors.New("no abilities requested"))
	}

	for _, ability := range abilities {
		if ability != AbilitySignWithKey && ability != AbilityExecuteAction {
			return nil, newAuthenticationFailed(fmt.Errorf("unsupported ability %q", ability))
		}
	}

	if err := validateProof(proof, time.Now()); err != nil {
		return nil, newAuthenticationFailed(err)
	}

	if err := p.capacityDelegator.DelegateCapacity(ctx, keyPairPublicKey); err != nil {
		return nil, newCapacityUnavailable(fmt.Errorf("delegate capacity: %w", err))
	}

	signer, err := p.backend.CreateSession(ctx, keyPairPublicKey, proof, abilities)
	if err != nil {
		return nil, newAuthenticationFailed(fmt.Errorf("create session: %w", err))
	}

	now := time.Now()

	logger.Debugc(ctx, "session material issued", log.WithID(keyPairPublicKey))

	return &Bundle{
		PublicKey: keyPairPublicKey,
		Abilities: append([]Ability(nil), abilities...),
		IssuedAt:  now,
		ExpiresAt: now.Add(p.sessionTTL),
		signer:    signer,
	}, nil
}

func validateProof(proof *AuthProof, now time.Time) error {
	if proof == nil {
		return errors.New("missing auth proof")
	}

	if proof.ProducedAt.IsZero() || now.Sub(proof.ProducedAt) > maxProofAge {
		return errors.New("auth proof expired at submission time")
	}

	method, err := newMethod(proof.Kind)
	if err != nil {
		return err
	}

	return method.validate(proof)
}
