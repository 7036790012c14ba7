/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consentsession

import (
	"context"
	"time"
)

// Ability is a scope granted to a session signature bundle.
type Ability string

const (
	// AbilitySignWithKey allows signing arbitrary payloads with the key-pair.
	AbilitySignWithKey Ability = "sign-with-key"
	// AbilityExecuteAction allows executing delegated actions with the key-pair.
	AbilityExecuteAction Ability = "execute-action"
)

// MethodKind discriminates the supported authentication methods.
type MethodKind string

const (
	MethodWallet   MethodKind = "wallet"
	MethodWebAuthn MethodKind = "webauthn"
	MethodOTP      MethodKind = "otp"
)

// AuthProof is a freshly produced proof from one supported authentication
// method. Exactly one of the per-method sections is populated, selected by
// Kind.
type AuthProof struct {
	Kind       MethodKind `json:"kind"`
	ProducedAt time.Time  `json:"producedAt"`

	// wallet
	WalletAddress   string `json:"walletAddress,omitempty"`
	WalletSignature string `json:"walletSignature,omitempty"`
	WalletMessage   string `json:"walletMessage,omitempty"`

	// webauthn
	CredentialID      string `json:"credentialId,omitempty"`
	AuthenticatorData string `json:"authenticatorData,omitempty"`
	ClientDataJSON    string `json:"clientDataJson,omitempty"`

	// otp
	OTPIdentifier string `json:"otpIdentifier,omitempty"`
	OTPCode       string `json:"otpCode,omitempty"`
}

// Signer signs payloads with a delegated key-pair through session material.
type Signer interface {
	Sign(ctx context.Context, data []byte) ([]byte, error)
	PublicKey() []byte
}

// PortableSigner is a Signer whose session material can be exported for
// storage and later rehydrated by the issuing backend.
type PortableSigner interface {
	Signer
	Material() []byte
}

// SignerRehydrator restores a Signer from exported session material.
type SignerRehydrator interface {
	Rehydrate(ctx context.Context, material []byte) (Signer, error)
}

// Bundle is time-bounded proof material authorizing operations with one
// key-pair, scoped to specific abilities. It is never written to durable
// storage without a TTL matching ExpiresAt.
type Bundle struct {
	PublicKey string    `json:"publicKey"`
	Abilities []Ability `json:"abilities"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`

	signer Signer
}
