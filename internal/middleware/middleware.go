package middleware

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/LandHubTZ/LandHub-Backend/internal/utils"
)

// Authentication lives in the API gateway, which verifies the caller and
// forwards their identity in these headers. This service trusts them as-is.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// IdentityMiddleware requires a gateway-forwarded user identity and injects
// it into the request context.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			http.Error(w, "Unauthorized: missing caller identity", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), utils.ContextUserIDKey, userID)
		if role := r.Header.Get(HeaderUserRole); role != "" {
			ctx = context.WithValue(ctx, utils.ContextUserRoleKey, role)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminMiddleware gates admin-only routes. Runs after IdentityMiddleware.
func AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := utils.GetUserIDFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized: missing user ID in context", http.StatusUnauthorized)
			return
		}

		role, _ := utils.GetUserRoleFromContext(r.Context())
		if role != "admin" && role != "master_admin" {
			http.Error(w, "Forbidden: admin access required", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func allowedOrigins() map[string]struct{} {
	origins := os.Getenv("ALLOWED_ORIGINS")
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	allowed := map[string]struct{}{}
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = struct{}{}
		}
	}
	return allowed
}

// Resolved on first request, not at package init: main loads .env.local
// before the server starts serving, so ALLOWED_ORIGINS from the env file is
// visible by then.
var allowed = sync.OnceValue(allowedOrigins)

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Echo the origin back only if it’s on our allow-list
		if _, ok := allowed()[origin]; ok {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin") // important for caches
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods",
				"GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers",
				"Content-Type, Authorization, X-User-ID, X-User-Role")
		}

		w.Header().Set("Access-Control-Expose-Headers", "Retry-After, Cache-Control")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
