/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package sessiongateway talks to the session node gateway that exchanges a
// fresh authentication proof for scoped session key material. The returned
// material is a secp256k1 key delegated by the node network; signing happens
// locally so the gateway is not on the path of every signature.
package sessiongateway

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/tidwall/gjson"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/agentgrant/consent/pkg/consentsession"
)

var logger = log.New("sessiongateway-client")

const (
	sessionEndpoint  = "/v1/sessions"
	capacityEndpoint = "/v1/capacity/delegations"

	contentType = "application/json"
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds configuration options and dependencies for Client.
type Config struct {
	HTTPClient httpClient
	GatewayURL string
	APIKey     string
}

// Client is the session gateway API client. It produces session signers,
// rehydrates stored ones and delegates gas capacity for a key-pair.
type Client struct {
	httpClient httpClient
	gatewayURL string
	apiKey     string
}

// NewClient returns a new Client instance.
func NewClient(config *Config) *Client {
	return &Client{
		httpClient: config.HTTPClient,
		gatewayURL: config.GatewayURL,
		apiKey:     config.APIKey,
	}
}

type createSessionRequest struct {
	PublicKey string                    `json:"publicKey"`
	AuthProof *consentsession.AuthProof `json:"authProof"`
	Abilities []consentsession.Ability  `json:"abilities"`
}

// CreateSession exchanges the proof for session key material scoped to the
// requested abilities.
func (c *Client) CreateSession(
	ctx context.Context,
	keyPairPublicKey string,
	proof *consentsession.AuthProof,
	abilities []consentsession.Ability,
) (consentsession.Signer, error) {
	body, err := json.Marshal(&createSessionRequest{
		PublicKey: keyPairPublicKey,
		AuthProof: proof,
		Abilities: abilities,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal session request: %w", err)
	}

	respBody, err := c.post(ctx, c.gatewayURL+sessionEndpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	material := gjson.GetBytes(respBody, "sessionKey").String()
	if material == "" {
		return nil, errors.New("gateway response is missing sessionKey")
	}

	keyBytes, err := hex.DecodeString(strings.TrimPrefix(material, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode session key: %w", err)
	}

	signer, err := newSigner(keyBytes)
	if err != nil {
		return nil, err
	}

	logger.Debugc(ctx, "session created", log.WithID(keyPairPublicKey))

	return signer, nil
}

// DelegateCapacity sponsors gas for session operations of the key-pair.
func (c *Client) DelegateCapacity(ctx context.Context, keyPairPublicKey string) error {
	body, err := json.Marshal(map[string]string{"publicKey": keyPairPublicKey})
	if err != nil {
		return fmt.Errorf("marshal capacity request: %w", err)
	}

	if _, err = c.post(ctx, c.gatewayURL+capacityEndpoint, body); err != nil {
		return fmt.Errorf("delegate capacity: %w", err)
	}

	return nil
}

// Rehydrate restores a session signer from material exported by a signer
// this client produced.
func (c *Client) Rehydrate(_ context.Context, material []byte) (consentsession.Signer, error) {
	return newSigner(material)
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)

	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, respBody)
	}

	return respBody, nil
}

// signer signs digests locally with the delegated secp256k1 session key. It
// is portable so the session store can persist and rehydrate it.
type signer struct {
	key *btcec.PrivateKey
}

func newSigner(keyBytes []byte) (*signer, error) {
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("session key must be 32 bytes, got %d", len(keyBytes))
	}

	key, _ := btcec.PrivKeyFromBytes(keyBytes)

	return &signer{key: key}, nil
}

func (s *signer) Sign(_ context.Context, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}

	compact, err := ecdsa.SignCompact(s.key, digest, false)
	if err != nil {
		return nil, fmt.Errorf("sign compact: %w", err)
	}

	// compact format is header || r || s
	return compact[1:], nil
}

func (s *signer) PublicKey() []byte {
	return s.key.PubKey().SerializeUncompressed()
}

func (s *signer) Material() []byte {
	return s.key.Serialize()
}
