/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consentsession

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/agentgrant/consent/pkg/restapi/resterr"
)

// authMethod validates the method-specific section of an auth proof.
type authMethod interface {
	validate(proof *AuthProof) error
}

// newMethod dispatches on the proof's type tag.
func newMethod(kind MethodKind) (authMethod, error) {
	switch kind {
	case MethodWallet:
		return &walletMethod{}, nil
	case MethodWebAuthn:
		return &webAuthnMethod{}, nil
	case MethodOTP:
		return &otpMethod{}, nil
	default:
		return nil, fmt.Errorf("unsupported auth method %q", kind)
	}
}

type walletMethod struct{}

func (m *walletMethod) validate(proof *AuthProof) error {
	if !isEthAddress(proof.WalletAddress) {
		return fmt.Errorf("invalid wallet address %q", proof.WalletAddress)
	}

	if proof.WalletMessage == "" {
		return errors.New("missing signed wallet message")
	}

	sig := strings.TrimPrefix(proof.WalletSignature, "0x")
	if _, err := hex.DecodeString(sig); err != nil || len(sig) != 130 {
		return errors.New("malformed wallet signature")
	}

	return nil
}

type webAuthnMethod struct{}

func (m *webAuthnMethod) validate(proof *AuthProof) error {
	if proof.CredentialID == "" {
		return errors.New("missing webauthn credential id")
	}

	if proof.AuthenticatorData == "" || proof.ClientDataJSON == "" {
		return errors.New("incomplete webauthn assertion")
	}

	return nil
}

type otpMethod struct{}

func (m *otpMethod) validate(proof *AuthProof) error {
	if proof.OTPIdentifier == "" {
		return errors.New("missing otp identifier")
	}

	if len(proof.OTPCode) < 6 {
		return errors.New("malformed otp code")
	}

	return nil
}

func isEthAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return false
	}

	_, err := hex.DecodeString(s[2:])

	return err == nil
}

func newAuthenticationFailed(err error) error {
	return resterr.NewAuthenticationFailed(err).
		WithComponent(resterr.SessionProviderComponent)
}

func newCapacityUnavailable(err error) error {
	return resterr.NewCapacityUnavailable(err).
		WithComponent(resterr.SessionProviderComponent)
}
