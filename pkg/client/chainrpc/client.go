/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package chainrpc talks JSON-RPC to the delegation registry gateway. It is
// the single concrete chain access point; one Client instance is shared by
// the grant reader and the write submitter.
package chainrpc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/agentgrant/consent/internal/logfields"
	"github.com/agentgrant/consent/internal/retry"
	"github.com/agentgrant/consent/pkg/chainregistry"
	"github.com/agentgrant/consent/pkg/consentsession"
)

var logger = log.New("chainrpc-client")

const (
	methodCall        = "registry_call"
	methodEstimateGas = "registry_estimateGas"
	methodSendTx      = "registry_sendTransaction"
	methodTxReceipt   = "registry_getTransactionReceipt"

	defaultConfirmAttempts = 20
	defaultConfirmInterval = 3 * time.Second
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds configuration options and dependencies for Client.
type Config struct {
	HTTPClient      httpClient
	RPCURL          string
	ContractAddress string
	ConfirmAttempts uint64
	ConfirmInterval time.Duration
}

// Client is the registry gateway JSON-RPC client. It satisfies both the
// read-only caller and the transactor seams of the chainregistry package.
type Client struct {
	httpClient      httpClient
	rpcURL          string
	contractAddress string
	confirmPolicy   retry.Policy
	requestID       atomic.Int64
}

// NewClient returns a new Client instance.
func NewClient(config *Config) *Client {
	attempts := config.ConfirmAttempts
	if attempts == 0 {
		attempts = defaultConfirmAttempts
	}

	interval := config.ConfirmInterval
	if interval == 0 {
		interval = defaultConfirmInterval
	}

	return &Client{
		httpClient:      config.HTTPClient,
		rpcURL:          config.RPCURL,
		contractAddress: config.ContractAddress,
		confirmPolicy: retry.Policy{
			MaxAttempts:     attempts,
			InitialInterval: interval,
			MaxInterval:     interval,
		},
	}
}

// GetDelegatees returns the delegatee addresses recorded for the key-pair.
func (c *Client) GetDelegatees(ctx context.Context, tokenID string) ([]string, error) {
	result, err := c.view(ctx, "getDelegatees", tokenID)
	if err != nil {
		return nil, err
	}

	return stringSlice(result), nil
}

// GetAllRegisteredTools returns every registered tool with its enabled flag.
func (c *Client) GetAllRegisteredTools(ctx context.Context, tokenID string) ([]chainregistry.ToolState, error) {
	result, err := c.view(ctx, "getAllRegisteredTools", tokenID)
	if err != nil {
		return nil, err
	}

	var tools []chainregistry.ToolState

	for _, item := range result.Array() {
		tools = append(tools, chainregistry.ToolState{
			ID:      item.Get("toolId").String(),
			Enabled: item.Get("enabled").Bool(),
		})
	}

	return tools, nil
}

// GetToolsWithPolicy returns tools that have policies attached, with the
// delegatees they are attached for.
func (c *Client) GetToolsWithPolicy(ctx context.Context, tokenID string) ([]chainregistry.ToolWithPolicy, error) {
	result, err := c.view(ctx, "getToolsWithPolicy", tokenID)
	if err != nil {
		return nil, err
	}

	var tools []chainregistry.ToolWithPolicy

	for _, item := range result.Array() {
		tools = append(tools, chainregistry.ToolWithPolicy{
			ToolID:     item.Get("toolId").String(),
			Delegatees: stringSlice(item.Get("delegatees")),
			PolicyIDs:  stringSlice(item.Get("policyIds")),
		})
	}

	return tools, nil
}

// GetPermittedToolsForDelegatee returns the tool ids the delegatee may use.
func (c *Client) GetPermittedToolsForDelegatee(ctx context.Context, tokenID, delegatee string) ([]string, error) {
	result, err := c.view(ctx, "getPermittedToolsForDelegatee", tokenID, delegatee)
	if err != nil {
		return nil, err
	}

	return stringSlice(result), nil
}

// GetToolPolicyParameters returns the stored parameter values for the given
// names. Values come back hex encoded and are returned as raw bytes.
func (c *Client) GetToolPolicyParameters(
	ctx context.Context, tokenID, toolID, delegatee string, parameterNames []string,
) ([]chainregistry.ParameterValue, error) {
	result, err := c.view(ctx, "getToolPolicyParameters", tokenID, toolID, delegatee, parameterNames)
	if err != nil {
		return nil, err
	}

	var values []chainregistry.ParameterValue

	for _, item := range result.Array() {
		raw, err := hex.DecodeString(trimHexPrefix(item.Get("value").String()))
		if err != nil {
			return nil, fmt.Errorf("decode parameter %s: %w", item.Get("name").String(), err)
		}

		values = append(values, chainregistry.ParameterValue{
			Name:  item.Get("name").String(),
			Value: raw,
		})
	}

	return values, nil
}

// GetAllPermittedAppIDsForPKP returns the application ids already granted.
func (c *Client) GetAllPermittedAppIDsForPKP(ctx context.Context, tokenID string) ([]string, error) {
	result, err := c.view(ctx, "getAllPermittedAppIdsForPkp", tokenID)
	if err != nil {
		return nil, err
	}

	return stringSlice(result), nil
}

// EstimateGas asks the gateway for a gas estimate of the write.
func (c *Client) EstimateGas(
	ctx context.Context,
	call *chainregistry.WriteCall,
	signer consentsession.Signer,
) (uint64, error) {
	result, err := c.rpc(ctx, methodEstimateGas, map[string]interface{}{
		"to":     c.contractAddress,
		"method": call.Method,
		"args":   append([]interface{}{call.TokenID}, call.Args...),
		"from":   "0x" + hex.EncodeToString(signer.PublicKey()),
	})
	if err != nil {
		return 0, fmt.Errorf("estimate gas for %s: %w", call.Method, err)
	}

	return result.Uint(), nil
}

// Submit signs the write payload with the session signer and sends it.
func (c *Client) Submit(
	ctx context.Context,
	call *chainregistry.WriteCall,
	gasLimit uint64,
	signer consentsession.Signer,
) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"to":     c.contractAddress,
		"method": call.Method,
		"args":   append([]interface{}{call.TokenID}, call.Args...),
		"gas":    gasLimit,
	})
	if err != nil {
		return "", fmt.Errorf("marshal write payload: %w", err)
	}

	digest := sha256.Sum256(payload)

	signature, err := signer.Sign(ctx, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign write payload: %w", err)
	}

	result, err := c.rpc(ctx, methodSendTx, map[string]interface{}{
		"payload":   json.RawMessage(payload),
		"signature": "0x" + hex.EncodeToString(signature),
		"from":      "0x" + hex.EncodeToString(signer.PublicKey()),
	})
	if err != nil {
		return "", fmt.Errorf("send transaction %s: %w", call.Method, err)
	}

	txHash := result.Get("txHash").String()
	if txHash == "" {
		txHash = result.String()
	}

	if txHash == "" {
		return "", fmt.Errorf("gateway returned no transaction hash for %s", call.Method)
	}

	logger.Debugc(ctx, "registry write submitted", logfields.WithTxHash(txHash))

	return txHash, nil
}

// WaitMined polls the gateway until the transaction is confirmed or the
// confirmation budget runs out. A reverted transaction stops the poll.
func (c *Client) WaitMined(ctx context.Context, txHash string) error {
	return retry.Do(ctx, c.confirmPolicy, func() error {
		result, err := c.rpc(ctx, methodTxReceipt, txHash)
		if err != nil {
			return fmt.Errorf("get receipt: %w", err)
		}

		switch status := result.Get("status").String(); status {
		case "confirmed":
			return nil
		case "reverted":
			return retry.Permanent(fmt.Errorf("%w: %s", chainregistry.ErrTxReverted, txHash))
		default:
			return fmt.Errorf("transaction %s not confirmed: status %q", txHash, status)
		}
	})
}

// view performs one read-only contract call.
func (c *Client) view(ctx context.Context, method string, args ...interface{}) (gjson.Result, error) {
	result, err := c.rpc(ctx, methodCall, map[string]interface{}{
		"to":     c.contractAddress,
		"method": method,
		"args":   args,
	})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("call %s: %w", method, err)
	}

	return result, nil
}

func (c *Client) rpc(ctx context.Context, method string, params ...interface{}) (gjson.Result, error) {
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      c.requestID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create rpc request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("do rpc request: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read rpc response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, respBody)
	}

	if rpcErr := gjson.GetBytes(respBody, "error"); rpcErr.Exists() {
		return gjson.Result{}, fmt.Errorf("rpc error %d: %s",
			rpcErr.Get("code").Int(), rpcErr.Get("message").String())
	}

	return gjson.GetBytes(respBody, "result"), nil
}

func stringSlice(result gjson.Result) []string {
	var out []string

	for _, item := range result.Array() {
		out = append(out, item.String())
	}

	return out
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0:2] == "0x" {
		return s[2:]
	}

	return s
}
