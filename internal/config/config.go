// Package config loads service configuration from TOML files, .env files,
// and SITEGRAPH_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/sitegraph/pkg/broker"
	"github.com/JaimeStill/sitegraph/pkg/database"
	"github.com/JaimeStill/sitegraph/pkg/formatting"
	"github.com/JaimeStill/sitegraph/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"
	DotEnvFile           = ".env"

	EnvSitegraphEnv             = "SITEGRAPH_ENV"
	EnvSitegraphShutdownTimeout = "SITEGRAPH_SHUTDOWN_TIMEOUT"
	EnvSitegraphVersion         = "SITEGRAPH_VERSION"
	EnvSitegraphMaxUploadSize   = "SITEGRAPH_MAX_UPLOAD_SIZE"
)

var databaseEnv = &database.Env{
	Host:            "SITEGRAPH_DB_HOST",
	Port:            "SITEGRAPH_DB_PORT",
	Name:            "SITEGRAPH_DB_NAME",
	User:            "SITEGRAPH_DB_USER",
	Password:        "SITEGRAPH_DB_PASSWORD",
	SSLMode:         "SITEGRAPH_DB_SSL_MODE",
	MaxConns:        "SITEGRAPH_DB_MAX_CONNS",
	MinConns:        "SITEGRAPH_DB_MIN_CONNS",
	ConnMaxLifetime: "SITEGRAPH_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "SITEGRAPH_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	Provider:         "SITEGRAPH_STORAGE_PROVIDER",
	ContainerName:    "SITEGRAPH_STORAGE_CONTAINER_NAME",
	ConnectionString: "SITEGRAPH_STORAGE_CONNECTION_STRING",
	AccountURL:       "SITEGRAPH_STORAGE_ACCOUNT_URL",
	Endpoint:         "SITEGRAPH_STORAGE_ENDPOINT",
	AccessKey:        "SITEGRAPH_STORAGE_ACCESS_KEY",
	SecretKey:        "SITEGRAPH_STORAGE_SECRET_KEY",
	Bucket:           "SITEGRAPH_STORAGE_BUCKET",
	UseSSL:           "SITEGRAPH_STORAGE_USE_SSL",
}

var redisEnv = &broker.Env{
	Addr:        "SITEGRAPH_REDIS_ADDR",
	Password:    "SITEGRAPH_REDIS_PASSWORD",
	DB:          "SITEGRAPH_REDIS_DB",
	Prefix:      "SITEGRAPH_REDIS_PREFIX",
	DialTimeout: "SITEGRAPH_REDIS_DIAL_TIMEOUT",
}

// Config is the root configuration for the sitegraph service.
type Config struct {
	Logging         LoggingConfig   `toml:"logging"`
	Server          ServerConfig    `toml:"server"`
	Database        database.Config `toml:"database"`
	Storage         storage.Config  `toml:"storage"`
	Redis           broker.Config   `toml:"redis"`
	Engine          EngineConfig    `toml:"engine"`
	Providers       ProvidersConfig `toml:"providers"`
	ShutdownTimeout string          `toml:"shutdown_timeout"`
	MaxUploadSize   string          `toml:"max_upload_size"`
	Version         string          `toml:"version"`
}

// Env returns the SITEGRAPH_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvSitegraphEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// MaxUploadSizeBytes returns MaxUploadSize in bytes.
func (c *Config) MaxUploadSizeBytes() int64 {
	n, _ := formatting.ParseBytes(c.MaxUploadSize)
	return n
}

// Load reads .env files, the base config (if present), and any environment
// overlay, then finalizes all values. Variables already set in the process
// environment win over .env entries.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.MaxUploadSize != "" {
		c.MaxUploadSize = overlay.MaxUploadSize
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Logging.Merge(&overlay.Logging)
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.Redis.Merge(&overlay.Redis)
	c.Engine.Merge(&overlay.Engine)
	c.Providers.Merge(&overlay.Providers)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Logging.Finalize(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Redis.Finalize(redisEnv); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := c.Engine.Finalize(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := c.Providers.Finalize(); err != nil {
		return fmt.Errorf("providers: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.MaxUploadSize == "" {
		c.MaxUploadSize = "50MB"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	envString(EnvSitegraphShutdownTimeout, &c.ShutdownTimeout)
	envString(EnvSitegraphMaxUploadSize, &c.MaxUploadSize)
	envString(EnvSitegraphVersion, &c.Version)
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	if n, err := formatting.ParseBytes(c.MaxUploadSize); err != nil || n <= 0 {
		return fmt.Errorf("invalid max_upload_size: %q", c.MaxUploadSize)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvSitegraphEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadDotEnv reads .env.<env> then .env. godotenv never overrides a
// variable that is already set, so the environment-specific file wins.
func loadDotEnv() error {
	files := []string{DotEnvFile}
	if env := os.Getenv(EnvSitegraphEnv); env != "" {
		files = append([]string{DotEnvFile + "." + env}, files...)
	}

	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}
