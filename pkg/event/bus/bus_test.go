/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentgrant/consent/pkg/event/spi"
	"github.com/agentgrant/consent/pkg/lifecycle"
)

func TestBus(t *testing.T) {
	b := New()
	require.True(t, b.IsConnected())

	msgChan, err := b.Subscribe(context.Background(), spi.ConsentEventTopic)
	require.NoError(t, err)

	event := spi.NewEvent("id1", "source1", spi.ConsentInteractionApproved)

	require.NoError(t, b.Publish(context.Background(), spi.ConsentEventTopic, event))

	select {
	case got := <-msgChan:
		require.Equal(t, event.ID, got.ID)
		require.Equal(t, event.Type, got.Type)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	require.NoError(t, b.Close())

	_, err = b.Subscribe(context.Background(), spi.ConsentEventTopic)
	require.ErrorIs(t, err, lifecycle.ErrNotStarted)

	require.Error(t, b.Publish(context.Background(), spi.ConsentEventTopic, event))
}

func TestPublishNoSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	event := spi.NewEvent("id1", "source1", spi.ConsentInteractionDenied)
	require.NoError(t, b.Publish(context.Background(), "unknown-topic", event))
}
