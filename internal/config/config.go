// Package config handles loading and validation of storefront client configuration.
// Supports both development (env vars, .env, CONFIG_FILE) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/joho/godotenv"
)

// Config holds all client configuration.
// Environment determines whether backend credentials load from env vars
// (development) or Secret Manager (production).
type Config struct {
	// Local surface settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	SecretID   string

	// StateDB is the SQLite file holding the session id and account token.
	StateDB string

	Storefront StorefrontConfig
	Gateway    GatewayConfig
	HTTP       HTTPConfig
}

// StorefrontConfig describes the commerce backend.
// In production, this is loaded from Secret Manager as JSON.
type StorefrontConfig struct {
	APIURL        string `json:"api_url"`
	APIKey        string `json:"api_key,omitempty"`
	MinAPIVersion string `json:"min_api_version,omitempty"`
	StoreName     string `json:"store_name,omitempty"`
}

// GatewayConfig describes the payment gateway's hosted checkout library.
type GatewayConfig struct {
	ScriptURL string `json:"script_url"`
	Name      string `json:"name"` // global constructor the script defines
}

// HTTPConfig selects the outbound transport layers.
type HTTPConfig struct {
	Timeout        time.Duration
	TLSFingerprint bool
	BreakerEnabled bool
	Tracing        bool
}

const (
	defaultPort      = "8080"
	defaultScriptURL = "https://checkout.razorpay.com/v1/checkout.js"
	defaultGateway   = "Razorpay"
	defaultTimeout   = 30 * time.Second
	defaultSecretID  = "storefront-client"
)

// Load reads configuration from .env, file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// A missing .env file is not an error.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	httpCfg, err := httpFromEnv()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", defaultPort),
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		SecretID:    envOrDefault("STOREFRONT_SECRET_ID", defaultSecretID),
		StateDB:     envOrDefault("STOREFRONT_STATE_DB", defaultStateDB()),
		Gateway: GatewayConfig{
			ScriptURL: envOrDefault("GATEWAY_SCRIPT_URL", defaultScriptURL),
			Name:      envOrDefault("GATEWAY_NAME", defaultGateway),
		},
		HTTP: httpCfg,
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading storefront config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig struct {
		Port        string           `json:"port"`
		Environment string           `json:"environment"`
		LogLevel    string           `json:"log_level"`
		StateDB     string           `json:"state_db"`
		Storefront  StorefrontConfig `json:"storefront"`
		Gateway     GatewayConfig    `json:"gateway"`
		HTTP        struct {
			Timeout        string `json:"timeout"`
			TLSFingerprint bool   `json:"tls_fingerprint"`
			BreakerEnabled *bool  `json:"breaker_enabled"`
			Tracing        bool   `json:"tracing"`
		} `json:"http"`
	}
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	timeout := defaultTimeout
	if fileConfig.HTTP.Timeout != "" {
		if timeout, err = time.ParseDuration(fileConfig.HTTP.Timeout); err != nil {
			return nil, fmt.Errorf("invalid http.timeout: %w", err)
		}
	}
	breaker := true
	if fileConfig.HTTP.BreakerEnabled != nil {
		breaker = *fileConfig.HTTP.BreakerEnabled
	}

	cfg := &Config{
		Port:        withDefault(fileConfig.Port, defaultPort),
		Environment: withDefault(fileConfig.Environment, "development"),
		LogLevel:    withDefault(fileConfig.LogLevel, "info"),
		StateDB:     withDefault(fileConfig.StateDB, defaultStateDB()),
		Storefront:  fileConfig.Storefront,
		Gateway: GatewayConfig{
			ScriptURL: withDefault(fileConfig.Gateway.ScriptURL, defaultScriptURL),
			Name:      withDefault(fileConfig.Gateway.Name, defaultGateway),
		},
		HTTP: HTTPConfig{
			Timeout:        timeout,
			TLSFingerprint: fileConfig.HTTP.TLSFingerprint,
			BreakerEnabled: breaker,
			Tracing:        fileConfig.HTTP.Tracing,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches the storefront config from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secret_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", c.GCPProject, c.SecretID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Storefront); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	return nil
}

// loadFromEnv reads the storefront config from individual environment variables.
func (c *Config) loadFromEnv() {
	c.Storefront = StorefrontConfig{
		APIURL:        os.Getenv("STOREFRONT_API_URL"),
		APIKey:        os.Getenv("STOREFRONT_API_KEY"),
		MinAPIVersion: os.Getenv("STOREFRONT_MIN_API_VERSION"),
		StoreName:     os.Getenv("STOREFRONT_NAME"),
	}
}

func httpFromEnv() (HTTPConfig, error) {
	cfg := HTTPConfig{Timeout: defaultTimeout, BreakerEnabled: true}

	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}

	flags := []struct {
		key string
		dst *bool
	}{
		{"TLS_FINGERPRINT", &cfg.TLSFingerprint},
		{"BREAKER_ENABLED", &cfg.BreakerEnabled},
		{"TRACING_ENABLED", &cfg.Tracing},
	}
	for _, f := range flags {
		v := os.Getenv(f.key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dst = b
	}
	return cfg, nil
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.Storefront.APIURL == "" {
		return fmt.Errorf("api_url is required")
	}
	u, err := url.Parse(c.Storefront.APIURL)
	if err != nil {
		return fmt.Errorf("invalid api_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("invalid api_url: %q must be an absolute http(s) URL", c.Storefront.APIURL)
	}
	c.Storefront.APIURL = strings.TrimSuffix(c.Storefront.APIURL, "/")

	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}
	return nil
}

// defaultStateDB places the state file under the user's config directory.
func defaultStateDB() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "storefront.db"
	}
	return filepath.Join(dir, "storefront", "state.db")
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
