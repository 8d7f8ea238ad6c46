package middleware

import (
	"net/http"
	"strconv"

	"github.com/num-err/smartscan/config"
)

const defaultCORSMaxAge = "86400"

// CORSMiddleware creates a CORS middleware. Browser capture clients call the API cross-origin.
func CORSMiddleware() func(http.Handler) http.Handler {
	maxAge := getCORSMaxAge()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", config.GetEnvOrDefault("CORS_ALLOWED_ORIGIN", "*"))
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
			w.Header().Set("Access-Control-Expose-Headers", "Retry-After")
			w.Header().Set("Access-Control-Max-Age", maxAge)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getCORSMaxAge reads CORS_MAX_AGE, falling back to 24 hours on a missing or non-numeric value
func getCORSMaxAge() string {
	value := config.GetEnvOrDefault("CORS_MAX_AGE", defaultCORSMaxAge)
	if _, err := strconv.Atoi(value); err != nil {
		return defaultCORSMaxAge
	}
	return value
}
