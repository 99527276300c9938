package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/projectkepler/kepler/internal/api/middleware"
	"github.com/projectkepler/kepler/internal/api/response"
	"github.com/projectkepler/kepler/internal/metrics"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Metrics   *metrics.Metrics

	HealthHandler http.HandlerFunc

	SubmitJobHandler http.HandlerFunc
	GetJobHandler    http.HandlerFunc
	ListJobsHandler  http.HandlerFunc
	PredictHandler   http.HandlerFunc

	UploadHandler       http.HandlerFunc
	DeleteUploadHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
	DeleteKeyHandler http.HandlerFunc

	GetProfileHandler        http.HandlerFunc
	UpdateProfileHandler     http.HandlerFunc
	UsernameAvailableHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger(deps.Metrics))
	r.Use(mw.Recovery)

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/detection-jobs", orNotImplemented(deps.SubmitJobHandler))
		r.Get("/api/v1/detection-jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/detection-jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Post("/api/v1/predict", orNotImplemented(deps.PredictHandler))

		r.Post("/api/v1/uploads", orNotImplemented(deps.UploadHandler))
		r.Delete("/api/v1/uploads", orNotImplemented(deps.DeleteUploadHandler))

		// Key management needs a signed-in session, not another API key.
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireSession)

			r.Post("/api/v1/api-keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/api-keys", orNotImplemented(deps.ListKeysHandler))
			r.Post("/api/v1/api-keys/{keyID}/revoke", orNotImplemented(deps.RevokeKeyHandler))
			r.Delete("/api/v1/api-keys/{keyID}", orNotImplemented(deps.DeleteKeyHandler))

			r.Get("/api/v1/profile", orNotImplemented(deps.GetProfileHandler))
			r.Put("/api/v1/profile", orNotImplemented(deps.UpdateProfileHandler))
			r.Get("/api/v1/profile/username-availability", orNotImplemented(deps.UsernameAvailableHandler))
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
