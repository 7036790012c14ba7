/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package prometheus

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/agentgrant/consent/internal/logfields"
	"github.com/agentgrant/consent/pkg/observability/metrics"
)

var logger = metrics.Logger

var (
	createOnce sync.Once       //nolint:gochecknoglobals
	instance   metrics.Metrics //nolint:gochecknoglobals
)

type promProvider struct {
	httpServer *http.Server
}

// NewPrometheusProvider creates new instance of Prometheus Metrics Provider.
func NewPrometheusProvider(httpServer *http.Server) metrics.Provider {
	return &promProvider{httpServer: httpServer}
}

// Create creates/initializes the prometheus metrics provider.
func (pp *promProvider) Create() error {
	if pp.httpServer != nil {
		return nil
	}

	if err := pp.httpServer.ListenAndServe(); err != nil {
		return fmt.Errorf("start metrics HTTP server: %w", err)
	}

	return nil
}

// Metrics returns supported metrics.
func (pp *promProvider) Metrics() metrics.Metrics {
	return GetMetrics()
}

// Destroy destroys the prometheus metrics provider.
func (pp *promProvider) Destroy() error {
	if pp.httpServer != nil {
		return pp.httpServer.Shutdown(context.Background())
	}

	return nil
}

// GetMetrics returns metrics implementation.
func GetMetrics() metrics.Metrics {
	createOnce.Do(func() {
		instance = NewMetrics()
	})

	return instance
}

// PromMetrics manages the metrics for the consent service.
type PromMetrics struct {
	initiateFlowTime   prometheus.Histogram
	reconcileGrantTime prometheus.Histogram
	issueTokenTime     prometheus.Histogram
}

// NewMetrics creates instance of prometheus metrics.
func NewMetrics() metrics.Metrics {
	pm := &PromMetrics{
		initiateFlowTime:   newInitiateFlowTime(),
		reconcileGrantTime: newReconcileGrantTime(),
		issueTokenTime:     newIssueTokenTime(),
	}

	registerMetrics(pm)

	return pm
}

// InitiateFlowTime records the time for the InitiateFlow controller endpoint call.
func (pm *PromMetrics) InitiateFlowTime(value time.Duration) {
	pm.initiateFlowTime.Observe(value.Seconds())

	logger.Debug("InitiateFlow controller endpoint time", logfields.WithDuration(value))
}

// ReconcileGrantTime records the time for the Reconcile service call.
func (pm *PromMetrics) ReconcileGrantTime(value time.Duration) {
	pm.reconcileGrantTime.Observe(value.Seconds())

	logger.Debug("Reconcile service call time", logfields.WithDuration(value))
}

// IssueTokenTime records the time for the capability token Issue service call.
func (pm *PromMetrics) IssueTokenTime(value time.Duration) {
	pm.issueTokenTime.Observe(value.Seconds())

	logger.Debug("Issue capability token service call time", logfields.WithDuration(value))
}

func registerMetrics(pm *PromMetrics) {
	prometheus.MustRegister(
		pm.initiateFlowTime, pm.reconcileGrantTime, pm.issueTokenTime,
	)
}

func newHistogram(subsystem, name, help string, labels prometheus.Labels) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   metrics.Namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
}

func newInitiateFlowTime() prometheus.Histogram {
	return newHistogram(
		metrics.Controller, metrics.ControllerInitiateFlowMetric,
		"The time (in seconds) it takes to execute the InitiateFlow controller endpoint call.",
		nil,
	)
}

func newReconcileGrantTime() prometheus.Histogram {
	return newHistogram(
		metrics.Service, metrics.ReconcileGrantMetric,
		"The time (in seconds) it takes to reconcile on-chain grant state.",
		nil,
	)
}

func newIssueTokenTime() prometheus.Histogram {
	return newHistogram(
		metrics.Service, metrics.IssueTokenMetric,
		"The time (in seconds) it takes to issue a capability token.",
		nil,
	)
}
