/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package token issues and verifies the capability token handed back to the
// requesting application. Tokens are compact JWS (ES256K over secp256k1)
// signed by the delegated key-pair's session capability, never by the user's
// primary key.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/agentgrant/consent/internal/logfields"
	"github.com/agentgrant/consent/pkg/consentsession"
	"github.com/agentgrant/consent/pkg/profile"
	"github.com/agentgrant/consent/pkg/restapi/resterr"
)

var logger = log.New("capability-token")

const (
	// DefaultTTLMinutes is the fixed short expiry window for issued tokens.
	DefaultTTLMinutes = 30
	// maxTTLMinutes bounds ttl to a small positive value.
	maxTTLMinutes = 60

	signingAlgorithm = "ES256K"
)

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Claims is the capability token payload. The jti claim gives audiences a
// handle for replay caches, but this service does not enforce single use;
// the short expiry is the only in-scope replay mitigation.
type Claims struct {
	Subject   string            `json:"sub"`
	Audience  string            `json:"aud"`
	IssuedAt  int64             `json:"iat"`
	ExpiresAt int64             `json:"exp"`
	TokenID   string            `json:"jti"`
	PKP       *profile.AgentPKP `json:"pkp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Issuer produces capability tokens for delegated key-pairs.
type Issuer struct {
	ttl time.Duration
}

// NewIssuer returns a new Issuer instance. ttlMinutes outside (0, 60]
// falls back to the default.
func NewIssuer(ttlMinutes int) *Issuer {
	if ttlMinutes <= 0 || ttlMinutes > maxTTLMinutes {
		ttlMinutes = DefaultTTLMinutes
	}

	return &Issuer{ttl: time.Duration(ttlMinutes) * time.Minute}
}

// Issue signs a capability token bound to the delegated key-pair and the
// audience. The signing capability must be live; expired capability fails
// closed with IssuanceFailed.
func (i *Issuer) Issue(
	ctx context.Context,
	pkp *profile.AgentPKP,
	bundle *consentsession.Bundle,
	audience string,
	payload map[string]string,
) (string, error) {
	if err := validateAudience(audience); err != nil {
		return "", resterr.NewConfigurationError(err).
			WithComponent(resterr.TokenIssuerComponent).
			WithIncorrectValue(audience)
	}

	signer, err := bundle.Signer(time.Now())
	if err != nil {
		return "", resterr.NewIssuanceFailed(fmt.Errorf("signing capability: %w", err)).
			WithComponent(resterr.TokenIssuerComponent)
	}

	now := time.Now()

	claims := &Claims{
		Subject:   pkp.EthAddress,
		Audience:  audience,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(i.ttl).Unix(),
		TokenID:   uuid.NewString(),
		PKP:       pkp,
		Payload:   payload,
	}

	signingInput, err := encodeSigningInput(claims)
	if err != nil {
		return "", resterr.NewIssuanceFailed(err).WithComponent(resterr.TokenIssuerComponent)
	}

	digest := sha256.Sum256([]byte(signingInput))

	signature, err := signer.Sign(ctx, digest[:])
	if err != nil {
		return "", resterr.NewIssuanceFailed(fmt.Errorf("sign token: %w", err)).
			WithComponent(resterr.TokenIssuerComponent)
	}

	if len(signature) == 65 {
		// trim the eth recovery byte; JWS carries r||s only
		signature = signature[:64]
	}

	if len(signature) != 64 {
		return "", resterr.NewIssuanceFailed(
			fmt.Errorf("unexpected signature length %d", len(signature))).
			WithComponent(resterr.TokenIssuerComponent)
	}

	logger.Debugc(ctx, "capability token issued",
		logfields.WithAudience(audience), logfields.WithPKPTokenID(pkp.TokenID))

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

func encodeSigningInput(claims *Claims) (string, error) {
	headerJSON, err := json.Marshal(&header{Alg: signingAlgorithm, Typ: "JWT"})
	if err != nil {
		return "", fmt.Errorf("marshal header: %w", err)
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON), nil
}

func validateAudience(audience string) error {
	u, err := url.Parse(audience)
	if err != nil {
		return fmt.Errorf("parse audience: %w", err)
	}

	if !u.IsAbs() || u.Host == "" {
		return errors.New("audience must be a well-formed absolute URL")
	}

	return nil
}
