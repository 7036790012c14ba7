/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consent

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentgrant/consent/pkg/observability/tracing/attributeutil"
	consentsvc "github.com/agentgrant/consent/pkg/service/consent"
)

type Service consentsvc.ServiceInterface

// Wrapper adds tracing spans around consent service calls.
type Wrapper struct {
	svc    Service
	tracer trace.Tracer
}

func Wrap(svc Service, tracer trace.Tracer) *Wrapper {
	return &Wrapper{svc: svc, tracer: tracer}
}

func (w *Wrapper) InitiateFlow(
	ctx context.Context,
	req *consentsvc.InitiateFlowRequest,
) (*consentsvc.InitiateFlowResponse, error) {
	ctx, span := w.tracer.Start(ctx, "consent.InitiateFlow")
	defer span.End()

	span.SetAttributes(attribute.String("app_id", req.AppID))
	span.SetAttributes(attributeutil.JSON("initiate_flow_request", req, attributeutil.WithRedacted("authProof")))

	resp, err := w.svc.InitiateFlow(ctx, req)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("tx_id", string(resp.TxID)))

	return resp, nil
}

func (w *Wrapper) Approve(ctx context.Context, req *consentsvc.ApproveRequest) (*consentsvc.ApproveResponse, error) {
	ctx, span := w.tracer.Start(ctx, "consent.Approve")
	defer span.End()

	span.SetAttributes(attribute.String("tx_id", string(req.TxID)))

	resp, err := w.svc.Approve(ctx, req)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (w *Wrapper) Deny(ctx context.Context, txID consentsvc.TxID) (string, error) {
	ctx, span := w.tracer.Start(ctx, "consent.Deny")
	defer span.End()

	span.SetAttributes(attribute.String("tx_id", string(txID)))

	return w.svc.Deny(ctx, txID)
}

func (w *Wrapper) GetFlowState(ctx context.Context, txID consentsvc.TxID) (*consentsvc.Transaction, error) {
	return w.svc.GetFlowState(ctx, txID)
}
