/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package healthutil

import (
	"context"
	"sync"
	"time"

	"github.com/alexliesenfeld/health"
)

// ResponseTimeState holds the last and running average response time of one
// health check.
type ResponseTimeState struct {
	LastResponseTime    time.Duration
	AverageResponseTime time.Duration
}

// ResponseTimeInterceptor records per-check response times into m.
func ResponseTimeInterceptor(m map[string]ResponseTimeState) health.Interceptor {
	var mu sync.Mutex

	return func(next health.InterceptorFunc) health.InterceptorFunc {
		return func(ctx context.Context, name string, state health.CheckState) health.CheckState {
			start := time.Now()
			result := next(ctx, name, state)
			elapsed := time.Since(start)

			mu.Lock()
			defer mu.Unlock()

			if prev, ok := m[name]; ok {
				m[name] = ResponseTimeState{
					LastResponseTime:    elapsed,
					AverageResponseTime: (prev.AverageResponseTime + elapsed) / 2,
				}
			} else {
				m[name] = ResponseTimeState{
					LastResponseTime:    elapsed,
					AverageResponseTime: elapsed,
				}
			}

			return result
		}
	}
}
