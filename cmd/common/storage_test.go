/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/trustbloc/logutil-go/pkg/log"
)

func TestInitMongoDB(t *testing.T) {
	t.Run("error if connection string is invalid", func(t *testing.T) {
		_, err := InitMongoDB("invalid", "testdb", 0, log.New("test"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "init mongodb client")
	})
}

func TestInitRedis(t *testing.T) {
	t.Run("error if datasource is unreachable", func(t *testing.T) {
		_, err := InitRedis([]string{"localhost:6399"}, 0, log.New("test"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "init redis client")
	})
}
