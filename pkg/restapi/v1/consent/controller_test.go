/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consent

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/agentgrant/consent/pkg/restapi/resterr"
	consentsvc "github.com/agentgrant/consent/pkg/service/consent"
	"github.com/agentgrant/consent/pkg/service/reconcile"
)

func TestController_InitiateFlow(t *testing.T) {
	t.Run("awaiting decision", func(t *testing.T) {
		svc := &serviceStub{
			initiateResp: &consentsvc.InitiateFlowResponse{
				TxID:   "tx-1",
				State:  consentsvc.TransactionStateAwaitingUserDecision,
				Review: &consentsvc.ReviewPayload{AppName: "Trade Executor"},
			},
		}

		rec, err := invoke(t, svc, http.MethodPost, "/v1/consent/flows",
			`{"appId":"app-1","referrerOrigin":"https://dapp.example.com",
			  "authProof":{"kind":"wallet"}}`,
			func(c *Controller, e echo.Context) error { return c.InitiateFlow(e) })

		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, rec.Code)
		require.Contains(t, rec.Body.String(), `"state":"awaiting-user-decision"`)
		require.Contains(t, rec.Body.String(), "Trade Executor")
	})

	t.Run("auto-approved", func(t *testing.T) {
		svc := &serviceStub{
			initiateResp: &consentsvc.InitiateFlowResponse{
				TxID:        "tx-1",
				State:       consentsvc.TransactionStateAutoApproved,
				RedirectURL: "https://dapp.example.com?jwt=abc",
			},
		}

		rec, err := invoke(t, svc, http.MethodPost, "/v1/consent/flows",
			`{"appId":"app-1","referrerOrigin":"https://dapp.example.com",
			  "authProof":{"kind":"wallet"}}`,
			func(c *Controller, e echo.Context) error { return c.InitiateFlow(e) })

		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, rec.Code)
		require.Contains(t, rec.Body.String(), "jwt=abc")
	})

	t.Run("malformed body", func(t *testing.T) {
		_, err := invoke(t, &serviceStub{}, http.MethodPost, "/v1/consent/flows", `{`,
			func(c *Controller, e echo.Context) error { return c.InitiateFlow(e) })

		var restErr *resterr.Error

		require.ErrorAs(t, err, &restErr)
		require.Equal(t, resterr.CodeConfigurationError, restErr.Code)
	})

	t.Run("service error propagates", func(t *testing.T) {
		svc := &serviceStub{
			initiateErr: resterr.NewAuthenticationFailed(errors.New("proof expired")),
		}

		_, err := invoke(t, svc, http.MethodPost, "/v1/consent/flows",
			`{"appId":"app-1","referrerOrigin":"https://dapp.example.com",
			  "authProof":{"kind":"wallet"}}`,
			func(c *Controller, e echo.Context) error { return c.InitiateFlow(e) })

		var restErr *resterr.Error

		require.ErrorAs(t, err, &restErr)
		require.Equal(t, resterr.CodeAuthenticationFailed, restErr.Code)
	})
}

func TestController_ApproveFlow(t *testing.T) {
	svc := &serviceStub{
		approveResp: &consentsvc.ApproveResponse{
			RedirectURL: "https://dapp.example.com?jwt=abc",
		},
	}

	rec, err := invoke(t, svc, http.MethodPost, "/v1/consent/flows/tx-1/approve",
		`{"editedParams":[{"type":"maxAmount","values":["250"]}]}`,
		func(c *Controller, e echo.Context) error {
			e.SetParamNames("txID")
			e.SetParamValues("tx-1")

			return c.ApproveFlow(e)
		})

	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "jwt=abc")
	require.Equal(t, consentsvc.TxID("tx-1"), svc.approvedTxID)
	require.Len(t, svc.approvedEdits, 1)
}

func TestController_DenyFlow(t *testing.T) {
	svc := &serviceStub{denyRedirect: "https://dapp.example.com"}

	rec, err := invoke(t, svc, http.MethodPost, "/v1/consent/flows/tx-1/deny", "",
		func(c *Controller, e echo.Context) error {
			e.SetParamNames("txID")
			e.SetParamValues("tx-1")

			return c.DenyFlow(e)
		})

	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "jwt")
}

func TestController_GetFlow(t *testing.T) {
	t.Run("completed exposes redirect", func(t *testing.T) {
		svc := &serviceStub{
			tx: &consentsvc.Transaction{
				ID: "tx-1",
				TransactionData: consentsvc.TransactionData{
					State:       consentsvc.TransactionStateCompleted,
					RedirectURL: "https://dapp.example.com?jwt=abc",
				},
			},
		}

		rec, err := invoke(t, svc, http.MethodGet, "/v1/consent/flows/tx-1", "",
			func(c *Controller, e echo.Context) error {
				e.SetParamNames("txID")
				e.SetParamValues("tx-1")

				return c.GetFlow(e)
			})

		require.NoError(t, err)
		require.Contains(t, rec.Body.String(), `"state":"completed"`)
		require.Contains(t, rec.Body.String(), "jwt=abc")
	})

	t.Run("failed flow never exposes a redirect", func(t *testing.T) {
		svc := &serviceStub{
			tx: &consentsvc.Transaction{
				ID: "tx-1",
				TransactionData: consentsvc.TransactionData{
					State:       consentsvc.TransactionStateFailed,
					RedirectURL: "https://dapp.example.com?jwt=forged",
					ErrorCode:   "reconciliation_step_failed",
				},
			},
		}

		rec, err := invoke(t, svc, http.MethodGet, "/v1/consent/flows/tx-1", "",
			func(c *Controller, e echo.Context) error {
				e.SetParamNames("txID")
				e.SetParamValues("tx-1")

				return c.GetFlow(e)
			})

		require.NoError(t, err)
		require.Contains(t, rec.Body.String(), `"state":"failed"`)
		require.NotContains(t, rec.Body.String(), "jwt")
	})
}

func invoke(
	t *testing.T,
	svc consentsvc.ServiceInterface,
	method, target, body string,
	handle func(c *Controller, e echo.Context) error,
) (*httptest.ResponseRecorder, error) {
	t.Helper()

	e := echo.New()

	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := httptest.NewRecorder()
	c := NewController(e, &Config{ConsentService: svc})

	return rec, handle(c, e.NewContext(req, rec))
}

type serviceStub struct {
	initiateResp *consentsvc.InitiateFlowResponse
	initiateErr  error
	approveResp  *consentsvc.ApproveResponse
	approveErr   error
	denyRedirect string
	tx           *consentsvc.Transaction

	approvedTxID  consentsvc.TxID
	approvedEdits []reconcile.ParameterGroup
}

func (s *serviceStub) InitiateFlow(
	_ context.Context, _ *consentsvc.InitiateFlowRequest,
) (*consentsvc.InitiateFlowResponse, error) {
	if s.initiateErr != nil {
		return nil, s.initiateErr
	}

	return s.initiateResp, nil
}

func (s *serviceStub) Approve(
	_ context.Context, req *consentsvc.ApproveRequest,
) (*consentsvc.ApproveResponse, error) {
	if s.approveErr != nil {
		return nil, s.approveErr
	}

	s.approvedTxID = req.TxID
	s.approvedEdits = req.EditedParams

	return s.approveResp, nil
}

func (s *serviceStub) Deny(_ context.Context, _ consentsvc.TxID) (string, error) {
	return s.denyRedirect, nil
}

func (s *serviceStub) GetFlowState(_ context.Context, _ consentsvc.TxID) (*consentsvc.Transaction, error) {
	return s.tx, nil
}
