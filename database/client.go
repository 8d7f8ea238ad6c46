package database

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	configpkg "github.com/num-err/smartscan/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseType represents the type of database to use
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMongoDB  DatabaseType = "mongodb"
)

// Config holds database connection configuration
type Config struct {
	Type DatabaseType

	// SQLite configuration
	DatabasePath string

	// PostgreSQL configuration
	Host     string
	Port     string
	Username string
	Password string
	Database string
	SSLMode  string

	// MongoDB configuration
	MongoURI      string
	MongoDatabase string

	// Connection pool settings (SQL databases)
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MaxRetries      int

	// QueryTimeout bounds every store call
	QueryTimeout time.Duration
}

// NewDatabaseConfig creates a new database configuration from environment variables
// Configuration priority:
//  1. DB_TYPE=postgres → PostgreSQL (DB_HOST, DB_PASSWORD, etc.)
//  2. DB_TYPE=mongodb → MongoDB (MONGODB_URI, MONGODB_DATABASE)
//  3. DB_TYPE=sqlite or DB_PATH set → file-based SQLite (default ./data/members.db)
//  4. nothing set → in-memory SQLite
func NewDatabaseConfig() *Config {
	dbTypeStr := strings.ToLower(configpkg.GetEnvOrDefault("DB_TYPE", ""))
	dbPathSet := os.Getenv("DB_PATH") != ""

	var dbType DatabaseType
	switch dbTypeStr {
	case "postgres", "postgresql":
		dbType = DatabaseTypePostgres
	case "mongodb", "mongo":
		dbType = DatabaseTypeMongoDB
	case "sqlite", "":
		dbType = DatabaseTypeSQLite
	default:
		slog.Warn("Unknown DB_TYPE, defaulting to sqlite", "db_type", dbTypeStr)
		dbType = DatabaseTypeSQLite
	}

	config := &Config{
		Type:            dbType,
		ConnMaxLifetime: configpkg.GetEnvDurationOrDefault("DB_CONN_MAX_LIFETIME", time.Hour),
		ConnMaxIdleTime: configpkg.GetEnvDurationOrDefault("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
		QueryTimeout:    configpkg.GetEnvDurationOrDefault("DB_QUERY_TIMEOUT", 5*time.Second),
		MaxRetries:      configpkg.GetEnvIntOrDefault("DB_MAX_RETRIES", 5),
	}

	switch dbType {
	case DatabaseTypeSQLite:
		// Single connection: in-memory databases are per connection and SQLite serializes writes anyway
		config.MaxOpenConns = configpkg.GetEnvIntOrDefault("DB_MAX_OPEN_CONNS", 1)
		config.MaxIdleConns = configpkg.GetEnvIntOrDefault("DB_MAX_IDLE_CONNS", 1)
		config.MaxRetries = 1

		if dbTypeStr == "" && !dbPathSet {
			config.DatabasePath = ":memory:"
			slog.Info("No database configuration found, using in-memory SQLite")
		} else {
			config.DatabasePath = configpkg.GetEnvOrDefault("DB_PATH", "./data/members.db")
			dbDir := filepath.Dir(config.DatabasePath)
			if err := os.MkdirAll(dbDir, 0o755); err != nil {
				slog.Warn("Failed to create database directory", "path", dbDir, "error", err)
			}
		}

		slog.Info("Database configuration (SQLite)",
			"database_path", config.DatabasePath,
			"max_open_conns", config.MaxOpenConns)

	case DatabaseTypePostgres:
		config.Host = configpkg.GetEnvOrDefault("DB_HOST", "localhost")
		config.Port = configpkg.GetEnvOrDefault("DB_PORT", "5432")
		config.Username = configpkg.GetEnvOrDefault("DB_USERNAME", "postgres")
		config.Password = configpkg.GetEnvOrDefault("DB_PASSWORD", "")
		config.Database = configpkg.GetEnvOrDefault("DB_NAME", "smartscan")
		config.SSLMode = configpkg.GetEnvOrDefault("DB_SSLMODE", "disable")
		config.MaxOpenConns = configpkg.GetEnvIntOrDefault("DB_MAX_OPEN_CONNS", 25)
		config.MaxIdleConns = configpkg.GetEnvIntOrDefault("DB_MAX_IDLE_CONNS", 5)

		slog.Info("Database configuration (PostgreSQL)",
			"host", config.Host,
			"port", config.Port,
			"database", config.Database,
			"username", config.Username,
			"sslmode", config.SSLMode)

	case DatabaseTypeMongoDB:
		config.MongoURI = configpkg.GetEnvOrDefault("MONGODB_URI", "mongodb://localhost:27017")
		config.MongoDatabase = configpkg.GetEnvOrDefault("MONGODB_DATABASE", "smartscan")
		config.Database = config.MongoDatabase

		slog.Info("Database configuration (MongoDB)", "database", config.MongoDatabase)
	}

	return config
}

// ConnectGormDB establishes a GORM connection to SQLite or PostgreSQL
func ConnectGormDB(config *Config) (*gorm.DB, error) {
	if config.Type == DatabaseTypeMongoDB {
		return nil, fmt.Errorf("ConnectGormDB called with database type %s", config.Type)
	}

	// ParameterizedQueries keeps member names and photos out of the logs
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)
	gormConfig := &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
		// Scan timestamps are compared in SQL, keep every stored time in UTC
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var dialector gorm.Dialector
	if config.Type == DatabaseTypeSQLite {
		slog.Info("Attempting GORM SQLite database connection", "path", config.DatabasePath)
		dialector = sqlite.Open(config.DatabasePath)
	} else {
		// net/url encodes credentials with special characters
		dsnURL := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(config.Username, config.Password),
			Host:   fmt.Sprintf("%s:%s", config.Host, config.Port),
			Path:   config.Database,
		}
		q := dsnURL.Query()
		q.Set("sslmode", config.SSLMode)
		dsnURL.RawQuery = q.Encode()

		slog.Info("Attempting GORM PostgreSQL database connection",
			"host", config.Host,
			"port", config.Port,
			"database", config.Database)
		dialector = postgres.Open(dsnURL.String())
	}

	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var gormDB *gorm.DB
	var err error
	for i := 0; i < maxRetries; i++ {
		gormDB, err = gorm.Open(dialector, gormConfig)
		if err == nil {
			break
		}
		if i < maxRetries-1 {
			waitTime := time.Second * time.Duration(1<<i)
			slog.Warn("Failed to connect to database, retrying...",
				"attempt", i+1,
				"maxRetries", maxRetries,
				"error", err,
				"waitTime", waitTime)
			time.Sleep(waitTime)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("GORM database connection established successfully", "type", string(config.Type))
	return gormDB, nil
}

// ConnectMongo establishes a MongoDB client and returns the configured database
func ConnectMongo(ctx context.Context, config *Config) (*mongo.Client, *mongo.Database, error) {
	if config.Type != DatabaseTypeMongoDB {
		return nil, nil, fmt.Errorf("ConnectMongo called with database type %s", config.Type)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().
		ApplyURI(config.MongoURI).
		SetTimeout(config.QueryTimeout))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	slog.Info("MongoDB connection established successfully", "database", config.MongoDatabase)
	return client, client.Database(config.MongoDatabase), nil
}
