/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sessiongateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/agentgrant/consent/pkg/consentsession"
)

func TestClient_CreateSession(t *testing.T) {
	proof := &consentsession.AuthProof{
		Kind:          consentsession.MethodWallet,
		ProducedAt:    time.Now(),
		WalletAddress: "0x3f5CE5FBFe3E9af3971dD833D26bA9b5C936f0bE",
	}

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	keyHex := hex.EncodeToString(key.Serialize())

	t.Run("success", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				require.Equal(t, http.MethodPost, req.Method)
				require.True(t, strings.HasSuffix(req.URL.Path, sessionEndpoint))
				require.Equal(t, "test-key", req.Header.Get("api-key"))

				body, err := io.ReadAll(req.Body)
				require.NoError(t, err)
				require.Equal(t, "0x04aabb", gjson.GetBytes(body, "publicKey").String())
				require.Equal(t, "wallet", gjson.GetBytes(body, "authProof.kind").String())
				require.Equal(t, "sign-with-key", gjson.GetBytes(body, "abilities.0").String())

				return jsonResponse(http.StatusCreated, `{"sessionKey":"0x`+keyHex+`"}`), nil
			},
		})

		signer, err := client.CreateSession(context.Background(), "0x04aabb", proof,
			[]consentsession.Ability{consentsession.AbilitySignWithKey})
		require.NoError(t, err)
		require.Equal(t, key.PubKey().SerializeUncompressed(), signer.PublicKey())

		digest := sha256.Sum256([]byte("payload"))

		signature, err := signer.Sign(context.Background(), digest[:])
		require.NoError(t, err)
		require.Len(t, signature, 64)

		var r, s btcec.ModNScalar

		require.False(t, r.SetByteSlice(signature[:32]))
		require.False(t, s.SetByteSlice(signature[32:]))
		require.True(t, ecdsa.NewSignature(&r, &s).Verify(digest[:], key.PubKey()))
	})

	t.Run("missing session key", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{}`), nil
			},
		})

		_, err := client.CreateSession(context.Background(), "0x04aabb", proof,
			[]consentsession.Ability{consentsession.AbilitySignWithKey})
		require.ErrorContains(t, err, "missing sessionKey")
	})

	t.Run("invalid session key", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"sessionKey":"0xdead"}`), nil
			},
		})

		_, err := client.CreateSession(context.Background(), "0x04aabb", proof,
			[]consentsession.Ability{consentsession.AbilitySignWithKey})
		require.ErrorContains(t, err, "must be 32 bytes")
	})

	t.Run("gateway error", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusUnauthorized, `{"error":"bad proof"}`), nil
			},
		})

		_, err := client.CreateSession(context.Background(), "0x04aabb", proof,
			[]consentsession.Ability{consentsession.AbilitySignWithKey})
		require.ErrorContains(t, err, "unexpected status code 401")
	})
}

func TestClient_DelegateCapacity(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				require.True(t, strings.HasSuffix(req.URL.Path, capacityEndpoint))

				return jsonResponse(http.StatusOK, `{"delegated":true}`), nil
			},
		})

		require.NoError(t, client.DelegateCapacity(context.Background(), "0x04aabb"))
	})

	t.Run("transport error", func(t *testing.T) {
		client := newTestClient(t, &httpClientStub{
			do: func(req *http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
		})

		err := client.DelegateCapacity(context.Background(), "0x04aabb")
		require.ErrorContains(t, err, "delegate capacity")
	})
}

func TestClient_Rehydrate(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	client := newTestClient(t, &httpClientStub{})

	t.Run("round trip", func(t *testing.T) {
		signer, err := client.Rehydrate(context.Background(), key.Serialize())
		require.NoError(t, err)
		require.Equal(t, key.PubKey().SerializeUncompressed(), signer.PublicKey())

		portable, ok := signer.(consentsession.PortableSigner)
		require.True(t, ok)
		require.Equal(t, key.Serialize(), portable.Material())
	})

	t.Run("bad material", func(t *testing.T) {
		_, err := client.Rehydrate(context.Background(), []byte{0x01})
		require.ErrorContains(t, err, "must be 32 bytes")
	})
}

func newTestClient(t *testing.T, httpClient httpClient) *Client {
	t.Helper()

	return NewClient(&Config{
		HTTPClient: httpClient,
		GatewayURL: "https://session-gateway.example.com",
		APIKey:     "test-key",
	})
}

type httpClientStub struct {
	do func(req *http.Request) (*http.Response, error)
}

func (c *httpClientStub) Do(req *http.Request) (*http.Response, error) {
	return c.do(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}
