package plots

import (
	"net/http"

	"github.com/LandHubTZ/LandHub-Backend/internal/middleware"
	"github.com/go-chi/chi/v5"
)

func SetupRoutes(h *Handler, limiter *middleware.RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Get("/", h.SearchHandler)
	r.Get("/near", h.NearHandler)
	r.Get("/stats", h.StatsHandler)
	r.Post("/in-area", h.InAreaHandler)
	r.Get("/{plotID}", h.GetHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.IdentityMiddleware)
		r.Use(limiter.Middleware)
		r.Post("/{plotID}/lock", h.LockHandler)
		r.Post("/{plotID}/unlock", h.UnlockHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.IdentityMiddleware)
		r.Use(middleware.AdminMiddleware)
		r.Patch("/{plotID}/status", h.StatusHandler)
	})

	return r
}
