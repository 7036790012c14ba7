/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consentsession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentgrant/consent/pkg/restapi/resterr"
)

func TestBundleExpiry(t *testing.T) {
	now := time.Now()

	bundle := &Bundle{
		PublicKey: testPublicKey,
		Abilities: []Ability{AbilitySignWithKey, AbilityExecuteAction},
		IssuedAt:  now.Add(-20 * time.Minute),
		ExpiresAt: now.Add(-5 * time.Minute),
		signer:    &fakeSigner{},
	}

	require.True(t, bundle.Expired(now))

	// an expired bundle is rejected regardless of ability scope
	for _, ability := range []Ability{AbilitySignWithKey, AbilityExecuteAction} {
		err := bundle.Require(ability, now)
		require.Error(t, err)
		require.Equal(t, resterr.CodeAuthenticationFailed, resterr.FromError(err).Code)
	}

	_, err := bundle.Signer(now)
	require.Error(t, err)
}

func TestBundleRequire(t *testing.T) {
	now := time.Now()

	bundle := &Bundle{
		PublicKey: testPublicKey,
		Abilities: []Ability{AbilityExecuteAction},
		IssuedAt:  now,
		ExpiresAt: now.Add(15 * time.Minute),
	}

	require.NoError(t, bundle.Require(AbilityExecuteAction, now))
	require.Error(t, bundle.Require(AbilitySignWithKey, now))
}

func TestBundleSignerMissingMaterial(t *testing.T) {
	now := time.Now()

	bundle := &Bundle{
		PublicKey: testPublicKey,
		Abilities: []Ability{AbilitySignWithKey},
		IssuedAt:  now,
		ExpiresAt: now.Add(15 * time.Minute),
	}

	_, err := bundle.Signer(now)
	require.ErrorContains(t, err, "no signing material")
}
