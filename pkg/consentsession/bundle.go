/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consentsession

import (
	"errors"
	"fmt"
	"time"

	"github.com/agentgrant/consent/pkg/restapi/resterr"
)

var errBundleExpired = errors.New("session signature bundle expired")

// NewBundle assembles a bundle from already-issued session material, e.g.
// when rehydrating from the session store.
func NewBundle(publicKey string, abilities []Ability, expiresAt time.Time, signer Signer) *Bundle {
	return &Bundle{
		PublicKey: publicKey,
		Abilities: abilities,
		IssuedAt:  time.Now(),
		ExpiresAt: expiresAt,
		signer:    signer,
	}
}

// Expired reports whether the bundle is unusable at the given time.
func (b *Bundle) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// HasAbility reports whether the bundle is scoped to the given ability.
func (b *Bundle) HasAbility(ability Ability) bool {
	for _, a := range b.Abilities {
		if a == ability {
			return true
		}
	}

	return false
}

// Require fails closed when the bundle is expired or lacks the ability,
// regardless of scope. Every consuming operation calls this before use.
func (b *Bundle) Require(ability Ability, now time.Time) error {
	if b.Expired(now) {
		return resterr.NewAuthenticationFailed(errBundleExpired).
			WithComponent(resterr.SessionProviderComponent)
	}

	if !b.HasAbility(ability) {
		return resterr.NewAuthenticationFailed(
			fmt.Errorf("bundle not scoped to ability %q", ability)).
			WithComponent(resterr.SessionProviderComponent)
	}

	return nil
}

// Signer returns the signing capability. It fails closed when the bundle
// is expired.
func (b *Bundle) Signer(now time.Time) (Signer, error) {
	if err := b.Require(AbilitySignWithKey, now); err != nil {
		return nil, err
	}

	if b.signer == nil {
		return nil, resterr.NewAuthenticationFailed(errors.New("bundle carries no signing material")).
			WithComponent(resterr.SessionProviderComponent)
	}

	return b.signer, nil
}
