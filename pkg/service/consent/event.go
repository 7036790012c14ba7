/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consent

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/agentgrant/consent/pkg/event/spi"
	"github.com/agentgrant/consent/pkg/restapi/resterr"
)

const eventSource = "source://agentgrant/consent"

const (
	eventInitiated    = spi.ConsentInteractionInitiated
	eventAutoApproved = spi.ConsentInteractionAutoApproved
	eventApproved     = spi.ConsentInteractionApproved
	eventDenied       = spi.ConsentInteractionDenied
	eventFailed       = spi.ConsentInteractionFailed
)

// EventPayload is the consent interaction event body.
type EventPayload struct {
	AppID          string `json:"appID,omitempty"`
	AppVersion     int    `json:"appVersion,omitempty"`
	State          string `json:"state,omitempty"`
	PKPTokenID     string `json:"pkpTokenID,omitempty"`
	Error          string `json:"error,omitempty"`
	ErrorCode      string `json:"errorCode,omitempty"`
	ErrorComponent string `json:"errorComponent,omitempty"`
}

func (s *Service) sendTxEvent(ctx context.Context, tx *Transaction, eventType spi.EventType) error {
	return s.sendTxEventWithError(ctx, tx, eventType, nil)
}

func (s *Service) sendTxEventWithError(
	ctx context.Context,
	tx *Transaction,
	eventType spi.EventType,
	e error,
) error {
	event, err := createEvent(tx, eventType, e)
	if err != nil {
		return err
	}

	return s.eventSvc.Publish(ctx, s.eventTopic, event)
}

func createEvent(tx *Transaction, eventType spi.EventType, e error) (*spi.Event, error) {
	payload := &EventPayload{
		AppID:      tx.AppID,
		AppVersion: tx.AppVersion,
		State:      tx.State.String(),
	}

	if tx.PKP != nil {
		payload.PKPTokenID = tx.PKP.TokenID
	}

	if e != nil {
		payload.Error = e.Error()

		var restErr *resterr.Error
		if errors.As(e, &restErr) {
			payload.ErrorCode = string(restErr.Code)
			payload.ErrorComponent = string(restErr.ErrorComponent)
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	event := spi.NewEventWithPayload(uuid.NewString(), eventSource, eventType, data)
	event.TransactionID = string(tx.ID)

	return event, nil
}
