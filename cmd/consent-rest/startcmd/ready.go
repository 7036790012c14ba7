package startcmd

import (
	"net/http"
	"sync/atomic"

	"github.com/labstack/echo/v4"
)

const readinessEndpoint = "/ready"

// readiness reports 403 on GET /ready until the server has finished
// startup, then 200. The flag is flipped from the main goroutine while
// the echo server runs in its own, so access is atomic.
type readiness struct {
	ready atomic.Bool
}

func newReadinessController(e *echo.Echo) *readiness {
	r := &readiness{}

	e.GET(readinessEndpoint, func(c echo.Context) error {
		if !r.ready.Load() {
			return c.NoContent(http.StatusForbidden)
		}

		return c.NoContent(http.StatusOK)
	})

	return r
}

func (r *readiness) Ready(isReady bool) {
	r.ready.Store(isReady)
}
