package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/num-err/smartscan/audit"
	"github.com/num-err/smartscan/config"
	"github.com/num-err/smartscan/database"
	"github.com/num-err/smartscan/utils"
	v1database "github.com/num-err/smartscan/v1/database"
	"github.com/num-err/smartscan/v1/router"
	"github.com/num-err/smartscan/v1/services"
)

const serviceName = "smartscan"

// openStore is replaced in tests
var openStore = openRepository

func main() {
	// Load .env file if it exists (optional - fails silently if not found)
	_ = godotenv.Load()

	utils.SetupLogging(config.GetEnvOrDefault("LOG_FORMAT", "json"), config.GetEnvOrDefault("LOG_LEVEL", "info"))
	slog.Info("Starting member registry initialization")

	if err := run(); err != nil {
		slog.Error("Member registry stopped with error", "error", err)
		os.Exit(1)
	}
}

// run wires the registry and serves until shutdown. Deferred cleanup runs before main exits.
func run() error {
	registryConfig, err := config.LoadRegistryConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load registry config: %w", err)
	}

	dbConfig := database.NewDatabaseConfig()
	repo, closeDB, err := openStore(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to open %s member store: %w", dbConfig.Type, err)
	}
	defer closeDB()

	opts := []services.Option{services.WithRegistryConfig(registryConfig)}
	healthChecks := map[string]utils.HealthCheck{}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		auditor, err := audit.NewStreamAuditor(&audit.RedisConfig{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       config.GetEnvIntOrDefault("REDIS_DB", 0),
			Stream:   config.GetEnvOrDefault("AUDIT_STREAM", audit.DefaultStream),
		})
		if err != nil {
			// Auditing is best effort; the registry keeps serving without it
			slog.Warn("Audit stream unavailable, audit events disabled", "error", err)
		} else {
			defer auditor.Close()
			opts = append(opts, services.WithAuditor(auditor))
			healthChecks["audit"] = auditor.HealthCheck
		}
	}

	files := &services.FileLoader{BaseDir: registryConfig.Bulk.ImageBaseDir, MaxBytes: registryConfig.MaxImageBytes}
	loader := &services.RoutingLoader{Files: files}
	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		objects, err := services.NewObjectStoreLoader(services.ObjectStoreConfig{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			UseSSL:    config.GetEnvBoolOrDefault("S3_USE_SSL", false),
			Region:    os.Getenv("S3_REGION"),
		}, registryConfig.MaxImageBytes)
		if err != nil {
			return fmt.Errorf("failed to configure object storage: %w", err)
		}
		loader.Objects = objects
		slog.Info("Object storage enabled for bulk images", "endpoint", endpoint)
	}
	opts = append(opts, services.WithImageLoader(loader))

	memberService := services.NewMemberService(repo, opts...)

	handler := router.New(router.Config{
		ServiceName:   serviceName,
		Service:       memberService,
		MaxImageBytes: registryConfig.MaxImageBytes,
		MaxBulkBytes:  registryConfig.Bulk.MaxBodyBytes,
		HealthChecks:  healthChecks,
	})

	serverConfig := utils.DefaultServerConfig()
	server := utils.CreateServer(serverConfig, handler)
	return utils.StartServerWithGracefulShutdown(server, serviceName, serverConfig.ShutdownTimeout)
}

// openRepository connects to the configured backend and returns the store with its close function
func openRepository(cfg *database.Config) (v1database.MemberRepository, func(), error) {
	if cfg.Type == database.DatabaseTypeMongoDB {
		client, db, err := database.ConnectMongo(context.Background(), cfg)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(ctx); err != nil {
				slog.Warn("Failed to disconnect MongoDB", "error", err)
			}
		}

		repo, err := v1database.NewMongoRepository(context.Background(), db, cfg.QueryTimeout)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		return repo, closeFn, nil
	}

	gormDB, err := database.ConnectGormDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return v1database.NewGormRepository(gormDB, cfg.QueryTimeout), closeFn, nil
}
