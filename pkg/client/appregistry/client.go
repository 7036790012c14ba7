/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package appregistry resolves application metadata and role descriptors
// from the app registry HTTP API, with a read-through cache in front of it.
package appregistry

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/agentgrant/consent/internal/logfields"
	"github.com/agentgrant/consent/pkg/profile"
	"github.com/agentgrant/consent/pkg/restapi/resterr"
)

var logger = log.New("app-registry-client")

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// appCache is a read-through cache keyed by application id. A miss returns
// resterr.ErrDataNotFound.
type appCache interface {
	Get(ctx context.Context, appID string) (*profile.App, error)
	Put(ctx context.Context, app *profile.App) error
}

// Config holds configuration options and dependencies for Client.
type Config struct {
	HTTPClient httpClient
	APIBaseURL string
	Cache      appCache
}

// Client is the app registry API client.
type Client struct {
	httpClient httpClient
	apiBaseURL string
	cache      appCache
}

// NewClient returns a new Client instance.
func NewClient(config *Config) *Client {
	return &Client{
		httpClient: config.HTTPClient,
		apiBaseURL: config.APIBaseURL,
		cache:      config.Cache,
	}
}

// GetAppMetadata resolves the application descriptor, preferring the cache.
func (c *Client) GetAppMetadata(ctx context.Context, appID string) (*profile.App, error) {
	if c.cache != nil {
		if app, err := c.cache.Get(ctx, appID); err == nil {
			return app, nil
		}
	}

	body, err := c.get(ctx, fmt.Sprintf("%s/appMetadata/%s", c.apiBaseURL, appID))
	if err != nil {
		return nil, readFailed(fmt.Errorf("fetch app metadata: %w", err))
	}

	app := parseApp(appID, body)

	if c.cache != nil {
		if err = c.cache.Put(ctx, app); err != nil {
			// cache fill failure does not fail the lookup
			logger.Warnc(ctx, "failed to cache app metadata",
				log.WithError(err), logfields.WithAppID(appID))
		}
	}

	return app, nil
}

// GetRole resolves a tool-policy descriptor with its parameter schema.
func (c *Client) GetRole(ctx context.Context, managementWallet, roleID string) (*profile.Role, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/role/%s/%s", c.apiBaseURL, managementWallet, roleID))
	if err != nil {
		return nil, readFailed(fmt.Errorf("fetch role: %w", err))
	}

	role := &profile.Role{
		ID:   gjson.GetBytes(body, "roleId").String(),
		Name: gjson.GetBytes(body, "roleName").String(),
	}

	if role.ID == "" {
		role.ID = roleID
	}

	for _, p := range gjson.GetBytes(body, "parameters").Array() {
		role.Parameters = append(role.Parameters, profile.Parameter{
			Name:         p.Get("paramName").String(),
			DefaultValue: p.Get("defaultValue").String(),
			ValueType:    p.Get("valueType").String(),
		})
	}

	return role, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return body, nil
}

func parseApp(appID string, body []byte) *profile.App {
	app := &profile.App{
		ID:               appID,
		Name:             gjson.GetBytes(body, "name").String(),
		Description:      gjson.GetBytes(body, "description").String(),
		ContactEmail:     gjson.GetBytes(body, "contactEmail").String(),
		ManagementWallet: gjson.GetBytes(body, "managementWallet").String(),
		LatestVersion:    int(gjson.GetBytes(body, "latestVersion").Int()),
	}

	for _, delegatee := range gjson.GetBytes(body, "delegatees").Array() {
		app.Delegatees = append(app.Delegatees, delegatee.String())
	}

	for _, tool := range gjson.GetBytes(body, "toolIdentifiers").Array() {
		app.ToolIdentifiers = append(app.ToolIdentifiers, tool.String())
	}

	for _, policy := range gjson.GetBytes(body, "policyIdentifiers").Array() {
		app.PolicyIdentifiers = append(app.PolicyIdentifiers, policy.String())
	}

	return app
}

func readFailed(err error) error {
	return resterr.NewReadFailed(err).WithComponent(resterr.AppRegistryComponent)
}
