/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package relayer client requests sponsored minting of agent key pairs from
// the relay service, so the user never pays for the mint transaction.
package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/agentgrant/consent/internal/retry"
	"github.com/agentgrant/consent/pkg/profile"
	"github.com/agentgrant/consent/pkg/restapi/resterr"
)

var logger = log.New("relayer-client")

const (
	mintEndpoint = "/mint-next-and-add-auth-methods"

	defaultPollAttempts = 10
	defaultPollInterval = 3 * time.Second
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// AuthMethod describes one authentication method bound to the minted key
// pair at mint time.
type AuthMethod struct {
	Type  int    `json:"authMethodType"`
	ID    string `json:"authMethodId"`
	Value string `json:"authMethodPubkey,omitempty"`
}

// MintRequest is the sponsored mint request body.
type MintRequest struct {
	KeyType         int          `json:"keyType"`
	AuthMethods     []AuthMethod `json:"authMethods"`
	SendPKPToItself bool         `json:"sendPkpToItself,omitempty"`
}

// MintResult is the outcome of a completed sponsored mint.
type MintResult struct {
	PKP       *profile.AgentPKP
	RequestID string
}

// Config holds configuration options and dependencies for Client.
type Config struct {
	HTTPClient   httpClient
	RelayerURL   string
	APIKey       string
	PollAttempts uint64
	PollInterval time.Duration
}

// Client is the relay service API client.
type Client struct {
	httpClient httpClient
	relayerURL string
	apiKey     string
	pollPolicy retry.Policy
}

// NewClient returns a new Client instance.
func NewClient(config *Config) *Client {
	attempts := config.PollAttempts
	if attempts == 0 {
		attempts = defaultPollAttempts
	}

	interval := config.PollInterval
	if interval == 0 {
		interval = defaultPollInterval
	}

	return &Client{
		httpClient: config.HTTPClient,
		relayerURL: config.RelayerURL,
		apiKey:     config.APIKey,
		pollPolicy: retry.Policy{
			MaxAttempts:     attempts,
			InitialInterval: interval,
			MaxInterval:     interval,
		},
	}
}

// MintAgentPKP submits a sponsored mint request and polls the relayer until
// the mint either completes or the poll budget is exhausted.
func (c *Client) MintAgentPKP(ctx context.Context, req *MintRequest) (*MintResult, error) {
	requestID, err := c.submitMint(ctx, req)
	if err != nil {
		return nil, err
	}

	logger.Debugc(ctx, "sponsored mint submitted", log.WithID(requestID))

	pkp, err := retry.DoWithData(ctx, c.pollPolicy, func() (*profile.AgentPKP, error) {
		return c.pollMint(ctx, requestID)
	})
	if err != nil {
		return nil, resterr.NewSystemError(fmt.Errorf("mint request %s: %w", requestID, err)).
			WithComponent(resterr.RelayerComponent).
			WithOperation("MintAgentPKP")
	}

	return &MintResult{PKP: pkp, RequestID: requestID}, nil
}

func (c *Client) submitMint(ctx context.Context, req *MintRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", resterr.NewSystemError(fmt.Errorf("marshal mint request: %w", err)).
			WithComponent(resterr.RelayerComponent)
	}

	respBody, err := c.post(ctx, c.relayerURL+mintEndpoint, body)
	if err != nil {
		return "", resterr.NewSystemError(fmt.Errorf("submit mint: %w", err)).
			WithComponent(resterr.RelayerComponent).
			WithOperation("MintAgentPKP")
	}

	requestID := gjson.GetBytes(respBody, "requestId").String()
	if requestID == "" {
		return "", resterr.NewSystemError(fmt.Errorf("relayer response missing requestId")).
			WithComponent(resterr.RelayerComponent)
	}

	return requestID, nil
}

// pollMint fetches mint status. A pending mint returns a plain error so the
// retry policy keeps polling; a failed mint is permanent.
func (c *Client) pollMint(ctx context.Context, requestID string) (*profile.AgentPKP, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/auth/status/%s", c.relayerURL, requestID), http.NoBody)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create status request: %w", err))
	}

	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll mint status: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read status response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	switch status := gjson.GetBytes(respBody, "status").String(); status {
	case "Succeeded":
		return &profile.AgentPKP{
			TokenID:    gjson.GetBytes(respBody, "pkpTokenId").String(),
			PublicKey:  gjson.GetBytes(respBody, "pkpPublicKey").String(),
			EthAddress: gjson.GetBytes(respBody, "pkpEthAddress").String(),
		}, nil
	case "Failed":
		return nil, retry.Permanent(fmt.Errorf("mint failed: %s",
			gjson.GetBytes(respBody, "error").String()))
	default:
		return nil, fmt.Errorf("mint not complete: status %q", status)
	}
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, respBody)
	}

	return respBody, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")

	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
}
