package utils

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/num-err/smartscan/config"
)

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig reads PORT (default 3000) and the server timeouts from the environment.
// Write timeout is generous since bulk imports fetch images before answering.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            config.GetEnvOrDefault("PORT", "3000"),
		ReadTimeout:     config.GetEnvDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    config.GetEnvDurationOrDefault("SERVER_WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:     config.GetEnvDurationOrDefault("SERVER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: config.GetEnvDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// CreateServer creates an HTTP server with the given configuration
func CreateServer(cfg *ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// StartServerWithGracefulShutdown serves until SIGINT or SIGTERM, then drains in-flight requests
func StartServerWithGracefulShutdown(server *http.Server, serviceName string, shutdownTimeout time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RunServer(ctx, server, serviceName, shutdownTimeout)
}

// RunServer serves until ctx is cancelled, then shuts the server down
func RunServer(ctx context.Context, server *http.Server, serviceName string, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "service", serviceName, "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server failed to start", "error", err, "service", serviceName)
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server...", "service", serviceName)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err, "service", serviceName)
		return err
	}
	return <-errCh
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// HealthHandler reports "healthy" when every check passes, otherwise 503 with the failing checks
func HealthHandler(serviceName string, checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			RespondWithError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		failures := make(map[string]string)
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failures[name] = err.Error()
			}
		}

		if len(failures) > 0 {
			slog.Warn("Health check failed", "service", serviceName, "failures", failures)
			RespondWithJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status":  "unhealthy",
				"service": serviceName,
				"checks":  failures,
			})
			return
		}

		RespondWithJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": serviceName,
		})
	}
}
