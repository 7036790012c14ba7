/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package token

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Verify checks the token's signature against the embedded delegated key's
// public key and its audience binding and expiry. It returns the verified
// claims.
func Verify(token, audience string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("token is not a compact JWS")
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}

	var h header
	if err = json.Unmarshal(headerJSON, &h); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}

	if h.Alg != signingAlgorithm {
		return nil, fmt.Errorf("unexpected signing algorithm %q", h.Alg)
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}

	claims := &Claims{}
	if err = json.Unmarshal(claimsJSON, claims); err != nil {
		return nil, fmt.Errorf("unmarshal claims: %w", err)
	}

	if claims.PKP == nil || claims.PKP.PublicKey == "" {
		return nil, errors.New("token carries no delegated key")
	}

	if claims.Audience != audience {
		return nil, fmt.Errorf("token audience %q does not match %q", claims.Audience, audience)
	}

	if time.Now().Unix() >= claims.ExpiresAt {
		return nil, errors.New("token expired")
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}

	if err = verifySignature(parts[0]+"."+parts[1], signature, claims.PKP.PublicKey); err != nil {
		return nil, err
	}

	return claims, nil
}

func verifySignature(signingInput string, signature []byte, publicKeyHex string) error {
	if len(signature) != 64 {
		return fmt.Errorf("unexpected signature length %d", len(signature))
	}

	keyBytes, err := hex.DecodeString(strings.TrimPrefix(publicKeyHex, "0x"))
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}

	publicKey, err := btcec.ParsePubKey(keyBytes)
	if err != nil {
		return fmt.Errorf("parse public key: %w", err)
	}

	var r, s btcec.ModNScalar

	if overflow := r.SetByteSlice(signature[:32]); overflow {
		return errors.New("malformed signature r")
	}

	if overflow := s.SetByteSlice(signature[32:]); overflow {
		return errors.New("malformed signature s")
	}

	digest := sha256.Sum256([]byte(signingInput))

	if !ecdsa.NewSignature(&r, &s).Verify(digest[:], publicKey) {
		return errors.New("signature verification failed")
	}

	return nil
}
