package storage

import (
	"fmt"
	"os"
	"strconv"
)

// Config selects a storage provider and carries its settings.
type Config struct {
	Provider string      `toml:"provider"`
	Azure    AzureConfig `toml:"azure"`
	Minio    MinioConfig `toml:"minio"`
}

// AzureConfig holds Azure Blob Storage connection parameters. When
// ConnectionString is empty, AccountURL is used with the default credential chain.
type AzureConfig struct {
	ContainerName    string `toml:"container_name"`
	ConnectionString string `toml:"connection_string"`
	AccountURL       string `toml:"account_url"`
}

// MinioConfig holds S3-compatible object storage parameters.
type MinioConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Provider         string
	ContainerName    string
	ConnectionString string
	AccountURL       string
	Endpoint         string
	AccessKey        string
	SecretKey        string
	Bucket           string
	UseSSL           string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Provider != "" {
		c.Provider = overlay.Provider
	}
	if overlay.Azure.ContainerName != "" {
		c.Azure.ContainerName = overlay.Azure.ContainerName
	}
	if overlay.Azure.ConnectionString != "" {
		c.Azure.ConnectionString = overlay.Azure.ConnectionString
	}
	if overlay.Azure.AccountURL != "" {
		c.Azure.AccountURL = overlay.Azure.AccountURL
	}
	if overlay.Minio.Endpoint != "" {
		c.Minio.Endpoint = overlay.Minio.Endpoint
	}
	if overlay.Minio.AccessKey != "" {
		c.Minio.AccessKey = overlay.Minio.AccessKey
	}
	if overlay.Minio.SecretKey != "" {
		c.Minio.SecretKey = overlay.Minio.SecretKey
	}
	if overlay.Minio.Bucket != "" {
		c.Minio.Bucket = overlay.Minio.Bucket
	}
	if overlay.Minio.UseSSL {
		c.Minio.UseSSL = true
	}
}

func (c *Config) loadDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderAzure
	}
	if c.Azure.ContainerName == "" {
		c.Azure.ContainerName = "documents"
	}
	if c.Minio.Bucket == "" {
		c.Minio.Bucket = "documents"
	}
}

func (c *Config) loadEnv(env *Env) {
	str := func(key string, dst *string) {
		if key == "" {
			return
		}
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	str(env.Provider, &c.Provider)
	str(env.ContainerName, &c.Azure.ContainerName)
	str(env.ConnectionString, &c.Azure.ConnectionString)
	str(env.AccountURL, &c.Azure.AccountURL)
	str(env.Endpoint, &c.Minio.Endpoint)
	str(env.AccessKey, &c.Minio.AccessKey)
	str(env.SecretKey, &c.Minio.SecretKey)
	str(env.Bucket, &c.Minio.Bucket)

	if env.UseSSL != "" {
		if v := os.Getenv(env.UseSSL); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				c.Minio.UseSSL = b
			}
		}
	}
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderAzure:
		if c.Azure.ContainerName == "" {
			return fmt.Errorf("azure.container_name required")
		}
		if c.Azure.ConnectionString == "" && c.Azure.AccountURL == "" {
			return fmt.Errorf("azure.connection_string or azure.account_url required")
		}
	case ProviderMinio:
		if c.Minio.Endpoint == "" {
			return fmt.Errorf("minio.endpoint required")
		}
		if c.Minio.Bucket == "" {
			return fmt.Errorf("minio.bucket required")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider)
	}
	return nil
}
