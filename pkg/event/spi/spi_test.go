/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package spi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	event := NewEvent("id1", "source1", ConsentInteractionInitiated)

	require.Equal(t, "1.0", event.SpecVersion)
	require.Equal(t, "id1", event.ID)
	require.Equal(t, "source1", event.Source)
	require.Equal(t, ConsentInteractionInitiated, event.Type)
	require.False(t, event.Time.IsZero())
}

func TestNewEventWithPayload(t *testing.T) {
	event := NewEventWithPayload("id1", "source1", ConsentInteractionApproved, []byte(`{"k":"v"}`))

	require.Equal(t, "application/json", event.DataContentType)
	require.Equal(t, []byte(`{"k":"v"}`), event.Data)
}

func TestCopy(t *testing.T) {
	event := NewEventWithPayload("id1", "source1", ConsentInteractionDenied, []byte(`{}`))
	event.TransactionID = "tx1"
	event.Subject = "subject1"

	eventCopy := event.Copy()

	require.Equal(t, event, eventCopy)
	require.NotSame(t, event, eventCopy)
}
