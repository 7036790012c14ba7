/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package noop

import (
	"time"

	"github.com/agentgrant/consent/pkg/observability/metrics"
)

// NoMetrics provides default no operation implementation for the Metrics interface.
type NoMetrics struct{}

// GetMetrics returns metrics implementation.
func GetMetrics() metrics.Metrics {
	return &NoMetrics{}
}

func (n *NoMetrics) InitiateFlowTime(_ time.Duration)   {}
func (n *NoMetrics) ReconcileGrantTime(_ time.Duration) {}
func (n *NoMetrics) IssueTokenTime(_ time.Duration)     {}
