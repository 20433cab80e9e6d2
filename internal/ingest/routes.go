package ingest

import (
	"net/http"

	"github.com/LandHubTZ/LandHub-Backend/internal/middleware"
	"github.com/go-chi/chi/v5"
)

func SetupRoutes(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(middleware.IdentityMiddleware)
		r.Get("/shapefile/status/{jobID}", h.StatusHandler)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminMiddleware)
			r.Post("/shapefile/upload", h.UploadHandler)
		})
	})

	return r
}
