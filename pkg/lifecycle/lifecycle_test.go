/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	started := false
	stopped := false

	lc := New("test-service",
		WithStart(func() { started = true }),
		WithStop(func() { stopped = true }),
	)

	require.Equal(t, StateNotStarted, lc.State())

	lc.Start()
	require.True(t, started)
	require.Equal(t, StateStarted, lc.State())

	// second Start is a no-op
	lc.Start()
	require.Equal(t, StateStarted, lc.State())

	lc.Stop()
	require.True(t, stopped)
	require.Equal(t, StateStopped, lc.State())

	// second Stop is a no-op
	lc.Stop()
	require.Equal(t, StateStopped, lc.State())
}

func TestLifecycleDefaults(t *testing.T) {
	lc := New("defaults")

	lc.Start()
	require.Equal(t, StateStarted, lc.State())

	lc.Stop()
	require.Equal(t, StateStopped, lc.State())
}
