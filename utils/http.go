// Package utils provides the HTTP plumbing shared by the registry server
package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// ErrorBody is the code and message pair carried by every error response
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse defines the structure for a standard JSON error message
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// RespondWithJSON writes payload as JSON with the given status code
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are already sent
		slog.Error("Failed to encode JSON response", "error", err, "statusCode", code)
	}
}

// RespondWithError writes a {"error":{"code","message"}} body
func RespondWithError(w http.ResponseWriter, status int, code, message string) {
	RespondWithJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// PanicRecoveryMiddleware recovers from handler panics, logs the stack and returns 500
func PanicRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("handler panic recovered",
					"error", err,
					"path", r.URL.Path,
					"method", r.Method,
					"stack", string(debug.Stack()))
				RespondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
