/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consent_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	wrapper "github.com/agentgrant/consent/pkg/observability/tracing/wrappers/consent"
	consentsvc "github.com/agentgrant/consent/pkg/service/consent"
)

func TestWrapper(t *testing.T) {
	svc := &serviceStub{}

	w := wrapper.Wrap(svc, trace.NewNoopTracerProvider().Tracer("test"))

	_, err := w.InitiateFlow(context.Background(), &consentsvc.InitiateFlowRequest{AppID: "app-1"})
	require.NoError(t, err)

	_, err = w.Approve(context.Background(), &consentsvc.ApproveRequest{TxID: "tx-1"})
	require.NoError(t, err)

	_, err = w.Deny(context.Background(), "tx-1")
	require.NoError(t, err)

	_, err = w.GetFlowState(context.Background(), "tx-1")
	require.NoError(t, err)

	require.Equal(t, []string{"InitiateFlow", "Approve", "Deny", "GetFlowState"}, svc.calls)
}

type serviceStub struct {
	calls []string
}

func (s *serviceStub) InitiateFlow(
	_ context.Context, _ *consentsvc.InitiateFlowRequest,
) (*consentsvc.InitiateFlowResponse, error) {
	s.calls = append(s.calls, "InitiateFlow")

	return &consentsvc.InitiateFlowResponse{TxID: "tx-1"}, nil
}

func (s *serviceStub) Approve(_ context.Context, _ *consentsvc.ApproveRequest) (*consentsvc.ApproveResponse, error) {
	s.calls = append(s.calls, "Approve")

	return &consentsvc.ApproveResponse{}, nil
}

func (s *serviceStub) Deny(_ context.Context, _ consentsvc.TxID) (string, error) {
	s.calls = append(s.calls, "Deny")

	return "https://dapp.example.com", nil
}

func (s *serviceStub) GetFlowState(_ context.Context, _ consentsvc.TxID) (*consentsvc.Transaction, error) {
	s.calls = append(s.calls, "GetFlowState")

	return &consentsvc.Transaction{ID: "tx-1"}, nil
}
