package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when CONFIG_PATH is not set
const DefaultConfigPath = "config/registry.yaml"

// BulkConfig bounds the bulk import endpoint
type BulkConfig struct {
	MaxEntries  int `yaml:"maxEntries"`
	Concurrency int `yaml:"concurrency"`
	// MaxBodyBytes caps the JSON request body, inline base64 photos included
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
	// ImageBaseDir confines imagePath lookups for local files. Empty means no restriction.
	ImageBaseDir string `yaml:"imageBaseDir"`
}

// QRConfig controls generated QR images
type QRConfig struct {
	Size int `yaml:"size"`
}

// RegistryConfig holds the member registry settings loaded from YAML
type RegistryConfig struct {
	MaxImageBytes int64      `yaml:"maxImageBytes"`
	Bulk          BulkConfig `yaml:"bulk"`
	QR            QRConfig   `yaml:"qr"`
}

// Config is the root of the YAML document
type Config struct {
	Registry RegistryConfig `yaml:"registry"`
}

// DefaultRegistryConfig provides values used when the config file is missing or partial
var DefaultRegistryConfig = RegistryConfig{
	MaxImageBytes: 10 << 20,
	Bulk: BulkConfig{
		MaxEntries:   500,
		Concurrency:  8,
		MaxBodyBytes: 64 << 20,
	},
	QR: QRConfig{
		Size: 256,
	},
}

// LoadRegistryConfig loads the registry configuration from a YAML file.
// A missing file yields the defaults; a malformed file is an error.
func LoadRegistryConfig(configPath string) (*RegistryConfig, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("Registry config file not found, using defaults", "path", configPath)
			cfg := DefaultRegistryConfig
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var doc Config
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg := doc.Registry
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *RegistryConfig) applyDefaults() {
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = DefaultRegistryConfig.MaxImageBytes
	}
	if c.Bulk.MaxEntries <= 0 {
		c.Bulk.MaxEntries = DefaultRegistryConfig.Bulk.MaxEntries
	}
	if c.Bulk.Concurrency <= 0 {
		c.Bulk.Concurrency = DefaultRegistryConfig.Bulk.Concurrency
	}
	if c.Bulk.MaxBodyBytes <= 0 {
		c.Bulk.MaxBodyBytes = DefaultRegistryConfig.Bulk.MaxBodyBytes
	}
	if c.QR.Size <= 0 {
		c.QR.Size = DefaultRegistryConfig.QR.Size
	}
}

// GetEnvOrDefault returns the environment variable value or a default
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvIntOrDefault parses an integer environment variable or returns the default
func GetEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		slog.Warn("Invalid integer in environment, using default", "key", key, "value", value, "default", defaultValue)
	}
	return defaultValue
}

// GetEnvBoolOrDefault parses a boolean environment variable or returns the default
func GetEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvDurationOrDefault parses a duration like "5s" or "1h" or returns the default
func GetEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		slog.Warn("Invalid duration format, using default", "key", key, "value", value, "default", defaultValue)
	}
	return defaultValue
}
