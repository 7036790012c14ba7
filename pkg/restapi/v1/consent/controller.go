/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package consent provides the consent flow REST API.
package consent

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/agentgrant/consent/pkg/consentsession"
	noopMetricsProvider "github.com/agentgrant/consent/pkg/observability/metrics/noop"
	"github.com/agentgrant/consent/pkg/restapi/resterr"
	consentsvc "github.com/agentgrant/consent/pkg/service/consent"
	"github.com/agentgrant/consent/pkg/service/reconcile"
)

type router interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// Config holds configuration options for Controller.
type Config struct {
	ConsentService consentsvc.ServiceInterface
	Metrics        metricsProvider
}

type metricsProvider interface {
	InitiateFlowTime(value time.Duration)
}

// Controller for the consent flow API.
type Controller struct {
	consentSvc consentsvc.ServiceInterface
	metrics    metricsProvider
}

// NewController creates a new Controller instance and registers its routes.
func NewController(router router, config *Config) *Controller {
	metrics := config.Metrics

	if metrics == nil {
		metrics = &noopMetricsProvider.NoMetrics{}
	}

	c := &Controller{
		consentSvc: config.ConsentService,
		metrics:    metrics,
	}

	router.POST("/v1/consent/flows", c.InitiateFlow)
	router.POST("/v1/consent/flows/:txID/approve", c.ApproveFlow)
	router.POST("/v1/consent/flows/:txID/deny", c.DenyFlow)
	router.GET("/v1/consent/flows/:txID", c.GetFlow)

	return c
}

// InitiateFlowRequest is the POST /v1/consent/flows body.
type InitiateFlowRequest struct {
	AppID          string                     `json:"appId"`
	RoleID         string                     `json:"roleId,omitempty"`
	ReferrerOrigin string                     `json:"referrerOrigin"`
	AuthProof      *consentsession.AuthProof  `json:"authProof"`
}

// InitiateFlowResponse is the POST /v1/consent/flows response.
type InitiateFlowResponse struct {
	TxID        string                    `json:"txId"`
	State       string                    `json:"state"`
	Review      *consentsvc.ReviewPayload `json:"review,omitempty"`
	RedirectURL string                    `json:"redirectUrl,omitempty"`
}

// ApproveFlowRequest is the approve body, parameter edits included.
type ApproveFlowRequest struct {
	EditedParams []reconcile.ParameterGroup `json:"editedParams,omitempty"`
	AuthProof    *consentsession.AuthProof  `json:"authProof,omitempty"`
}

// ApproveFlowResponse carries the token-bearing redirect.
type ApproveFlowResponse struct {
	RedirectURL string             `json:"redirectUrl"`
	Receipt     *reconcile.Receipt `json:"receipt,omitempty"`
}

// DenyFlowResponse carries the bare redirect.
type DenyFlowResponse struct {
	RedirectURL string `json:"redirectUrl"`
}

// FlowStateResponse is the polling response.
type FlowStateResponse struct {
	TxID        string `json:"txId"`
	State       string `json:"state"`
	ErrorCode   string `json:"errorCode,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// InitiateFlow starts a consent flow.
// POST /v1/consent/flows.
func (c *Controller) InitiateFlow(e echo.Context) error {
	var body InitiateFlowRequest

	if err := readBody(e, &body); err != nil {
		return err
	}

	started := time.Now()

	resp, err := c.consentSvc.InitiateFlow(e.Request().Context(), &consentsvc.InitiateFlowRequest{
		AppID:          body.AppID,
		RoleID:         body.RoleID,
		ReferrerOrigin: body.ReferrerOrigin,
		AuthProof:      body.AuthProof,
	})
	if err != nil {
		return err
	}

	c.metrics.InitiateFlowTime(time.Since(started))

	return e.JSON(http.StatusCreated, &InitiateFlowResponse{
		TxID:        string(resp.TxID),
		State:       resp.State.String(),
		Review:      resp.Review,
		RedirectURL: resp.RedirectURL,
	})
}

// ApproveFlow applies the user's approval.
// POST /v1/consent/flows/:txID/approve.
func (c *Controller) ApproveFlow(e echo.Context) error {
	var body ApproveFlowRequest

	if err := readBody(e, &body); err != nil {
		return err
	}

	resp, err := c.consentSvc.Approve(e.Request().Context(), &consentsvc.ApproveRequest{
		TxID:         consentsvc.TxID(e.Param("txID")),
		EditedParams: body.EditedParams,
		AuthProof:    body.AuthProof,
	})
	if err != nil {
		return err
	}

	return e.JSON(http.StatusOK, &ApproveFlowResponse{
		RedirectURL: resp.RedirectURL,
		Receipt:     resp.Receipt,
	})
}

// DenyFlow denies the flow and clears stored auth material.
// POST /v1/consent/flows/:txID/deny.
func (c *Controller) DenyFlow(e echo.Context) error {
	redirectURL, err := c.consentSvc.Deny(e.Request().Context(), consentsvc.TxID(e.Param("txID")))
	if err != nil {
		return err
	}

	return e.JSON(http.StatusOK, &DenyFlowResponse{RedirectURL: redirectURL})
}

// GetFlow returns the flow state for polling.
// GET /v1/consent/flows/:txID.
func (c *Controller) GetFlow(e echo.Context) error {
	tx, err := c.consentSvc.GetFlowState(e.Request().Context(), consentsvc.TxID(e.Param("txID")))
	if err != nil {
		return err
	}

	resp := &FlowStateResponse{
		TxID:      string(tx.ID),
		State:     tx.State.String(),
		ErrorCode: tx.ErrorCode,
	}

	// a redirect is only exposed on terminal success or denial
	if tx.State.Terminal() && tx.State != consentsvc.TransactionStateFailed {
		resp.RedirectURL = tx.RedirectURL
	}

	return e.JSON(http.StatusOK, resp)
}

func readBody(e echo.Context, body interface{}) error {
	if err := e.Bind(body); err != nil {
		return resterr.NewConfigurationError(errors.New("invalid request body")).
			WithComponent(resterr.ConsentSvcComponent).
			WithOperation("bind")
	}

	return nil
}
