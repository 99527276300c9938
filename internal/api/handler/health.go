package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/projectkepler/kepler/internal/api/response"
	"golang.org/x/sync/errgroup"
)

const healthCheckTimeout = 3 * time.Second

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. All
// checks run concurrently; any failure reports 503 with per-service status.
func NewHealthHandler(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		var (
			mu       sync.Mutex
			g        errgroup.Group
			services = make(map[string]string, len(checks))
			degraded bool
		)
		for name, check := range checks {
			g.Go(func() error {
				status := "ok"
				if err := check(ctx); err != nil {
					status = "degraded"
				}
				mu.Lock()
				services[name] = status
				degraded = degraded || status != "ok"
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", services)
			return
		}
		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": services,
		})
	}
}
