// Package config loads bridge configuration from a YAML file with
// ${VAR} environment expansion, or directly from the environment using
// the deployment variable names the service has always used.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete bridge configuration.
type Config struct {
	// BaseURL is the upstream P6 REST API root.
	BaseURL string `yaml:"base_url"`

	// Accept is the content type requested from the upstream.
	Accept string `yaml:"accept"`

	// Version is the optional upstream protocol version header value.
	Version string `yaml:"version"`

	// RequestTimeout bounds each upstream request.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// VerifyTLS enables upstream certificate verification.
	VerifyTLS bool `yaml:"verify_tls"`

	// AllowedHost overrides the allowlisted upstream host; empty derives
	// it from BaseURL.
	AllowedHost string `yaml:"allowed_host"`

	// AutoSession configures session auto-selection.
	AutoSession AutoSessionConfig `yaml:"auto_session"`

	// SessionFile is the session snapshot path for the file store.
	SessionFile string `yaml:"session_file"`

	// DatabaseURL selects the Postgres session store when non-empty.
	DatabaseURL string `yaml:"database_url"`

	// LogLevel is one of DEBUG, INFO, WARNING, ERROR.
	LogLevel string `yaml:"log_level"`

	// APIKey configures the inbound API-key gate.
	APIKey APIKeyConfig `yaml:"api_key"`

	// CORSOrigins is the CORS origin allowlist; ["*"] means any origin
	// without credentials.
	CORSOrigins []string `yaml:"cors_origins"`

	// Address is the HTTP listen address.
	Address string `yaml:"address"`
}

// AutoSessionConfig configures the session auto-selection policy.
type AutoSessionConfig struct {
	Enabled bool `yaml:"enabled"`
	Strict  bool `yaml:"strict"`
}

// APIKeyConfig configures the inbound API-key gate. Both empty disables
// the gate.
type APIKeyConfig struct {
	Header string `yaml:"header"`
	Key    string `yaml:"key"`
	Hash   string `yaml:"hash"`
}

// defaultBaseURL matches the hosted deployment the service fronts.
const defaultBaseURL = "https://ca1.p6.oraclecloud.com/metrolinx/p6ws/restapi"

// Load reads configuration from a YAML file. ${VAR} patterns expand to
// environment values before parsing.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path comes from CLI args, controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(expandEnvVars(string(data)))

	cfg := &Config{AutoSession: AutoSessionConfig{Enabled: true, Strict: true}}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// FromEnv builds configuration purely from environment variables.
func FromEnv() *Config {
	cfg := &Config{
		BaseURL:        os.Getenv("P6_BASE_URL"),
		Accept:         os.Getenv("P6_ACCEPT"),
		Version:        os.Getenv("P6_VERSION"),
		RequestTimeout: envDuration("REQUEST_TIMEOUT", 0),
		VerifyTLS:      envBool("P6_VERIFY_SSL", false),
		AllowedHost:    os.Getenv("ALLOWED_HOST"),
		AutoSession: AutoSessionConfig{
			Enabled: envBool("AUTO_SESSION_ENABLED", true),
			Strict:  envBool("AUTO_SESSION_STRICT_MODE", true),
		},
		SessionFile: os.Getenv("SESSION_STORE_FILE"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		APIKey: APIKeyConfig{
			Header: os.Getenv("MCP_API_KEY_HEADER"),
			Key:    os.Getenv("MCP_API_KEY"),
			Hash:   os.Getenv("MCP_API_KEY_HASH"),
		},
		Address: os.Getenv("ADDRESS"),
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills unset fields.
func applyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Accept == "" {
		cfg.Accept = "application/json"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.AllowedHost == "" {
		cfg.AllowedHost = hostOf(cfg.BaseURL)
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = "session_store.json"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.APIKey.Header == "" {
		cfg.APIKey.Header = "x-api-key"
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
}

// SlogLevel maps the configured level name to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// hostOf extracts the network host from a URL string.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// expandEnvVars expands ${VAR} patterns.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// envBool parses truthy environment values ("true", "1", "yes", "y",
// "on", case-insensitive).
func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "true", "1", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// envDuration parses a duration either as seconds ("30") or as a Go
// duration string ("30s").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}
