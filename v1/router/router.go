// Package router assembles the HTTP surface of the registry
package router

import (
	"net/http"

	"github.com/num-err/smartscan/middleware"
	"github.com/num-err/smartscan/monitoring"
	"github.com/num-err/smartscan/utils"
	"github.com/num-err/smartscan/v1/handlers"
	"github.com/num-err/smartscan/v1/services"
)

// Config holds what the router needs to build the handler tree
type Config struct {
	ServiceName   string
	Service       *services.MemberService
	MaxImageBytes int64
	MaxBulkBytes  int64
	// HealthChecks are run by /health; "database" is added from Service when absent
	HealthChecks map[string]utils.HealthCheck
}

// New returns the top-level handler: member API, /health and /metrics behind CORS and request metrics
func New(cfg Config) http.Handler {
	memberHandler := handlers.NewMemberHandler(cfg.Service, handlers.BodyLimits{
		MaxImageBytes: cfg.MaxImageBytes,
		MaxBulkBytes:  cfg.MaxBulkBytes,
	})

	checks := make(map[string]utils.HealthCheck, len(cfg.HealthChecks)+1)
	for name, check := range cfg.HealthChecks {
		checks[name] = check
	}
	if _, ok := checks["database"]; !ok {
		checks["database"] = cfg.Service.Ping
	}

	mux := http.NewServeMux()
	memberHandler.SetupMemberRoutes(mux)
	mux.Handle("/health", utils.PanicRecoveryMiddleware(utils.HealthHandler(cfg.ServiceName, checks)))
	mux.Handle("/metrics", monitoring.Handler())

	monitoring.RegisterRoutes(append(memberHandler.Routes(), "/health", "/metrics"))

	return monitoring.HTTPMetricsMiddleware(middleware.CORSMiddleware()(mux))
}
