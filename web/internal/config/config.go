package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/devilmonastery/authgate/internal/identity"
	"github.com/devilmonastery/authgate/internal/storage"
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
func expandEnvVars(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// WebServerConfig represents the web server configuration
type WebServerConfig struct {
	Server    HTTPServer      `yaml:"server"`
	Provider  ProviderConfig  `yaml:"provider"`
	Storage   storage.Config  `yaml:"storage"`
	Session   SessionConfig   `yaml:"session"`
	Templates TemplatesConfig `yaml:"templates"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HTTPServer holds HTTP server configuration
type HTTPServer struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port for the listener
func (s HTTPServer) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ProviderConfig holds identity provider settings
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"`
}

// SessionConfig holds session settings
type SessionConfig struct {
	Secret      string `yaml:"secret"`       // base64 key for the flash cookie
	MinLifetime string `yaml:"min_lifetime"` // restore threshold, e.g. "60s"
	Context     string `yaml:"context"`      // names the durable record, like a CLI context
}

// TemplatesConfig holds template loading configuration
type TemplatesConfig struct {
	Path string `yaml:"path"` // empty means the built-in templates
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // Log level: debug, info, warn, error
	Format string `yaml:"format"` // Log format: json, text
}

// DefaultConfigPaths defines the default locations to search for web configuration files
var DefaultConfigPaths = []string{
	"./config.yaml",
	"./config.yml",
	"./configs/web.yaml",
	"./configs/web.yml",
	"/etc/authgate/web.yaml",
}

// Default returns the configuration used when no file is found
func Default() *WebServerConfig {
	return &WebServerConfig{
		Server: HTTPServer{
			Host: "localhost",
			Port: 8080,
		},
		Provider: ProviderConfig{
			BaseURL: identity.DefaultBaseURL,
		},
		Storage: storage.Config{
			Backend: storage.BackendFile,
		},
		Session: SessionConfig{
			Context: "web",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads the web server configuration from the specified file or default locations
func Load(configPath string) (*WebServerConfig, error) {
	config := Default()

	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" && fileExists(configPath) {
		fmt.Printf("[CONFIG] Loading web config from: %s\n", configPath)
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		data = expandEnvVars(data)

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		fmt.Printf("[CONFIG] No web config file found, using defaults\n")
	}

	// Environment variables take precedence
	if apiKey := os.Getenv("AUTHGATE_API_KEY"); apiKey != "" {
		config.Provider.APIKey = apiKey
	}
	if providerURL := os.Getenv("AUTHGATE_PROVIDER_URL"); providerURL != "" {
		config.Provider.BaseURL = providerURL
		fmt.Printf("[CONFIG] Using provider URL from environment: %s\n", providerURL)
	}

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// IdentityConfig converts the provider section into client settings
func (c *WebServerConfig) IdentityConfig() identity.Config {
	cfg := identity.Config{
		BaseURL: c.Provider.BaseURL,
		APIKey:  c.Provider.APIKey,
	}
	// validate has already checked the format
	cfg.Timeout, _ = parseOptionalDuration(c.Provider.Timeout)
	return cfg
}

// MinLifetime returns the configured restore threshold. Callers check Session.MinLifetime != "" first.
func (c *WebServerConfig) MinLifetime() time.Duration {
	d, _ := parseOptionalDuration(c.Session.MinLifetime)
	return d
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// findConfigFile searches for a configuration file in default locations
func findConfigFile() string {
	for _, path := range DefaultConfigPaths {
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// validate performs basic validation on the web configuration
func validate(config *WebServerConfig) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if config.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key cannot be empty (or set AUTHGATE_API_KEY)")
	}

	if _, err := parseOptionalDuration(config.Provider.Timeout); err != nil {
		return fmt.Errorf("provider.timeout: %w", err)
	}

	d, err := parseOptionalDuration(config.Session.MinLifetime)
	if err != nil {
		return fmt.Errorf("session.min_lifetime: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("session.min_lifetime must not be negative")
	}

	switch config.Storage.Backend {
	case "", storage.BackendFile, storage.BackendMemory, storage.BackendSQLite, storage.BackendRedis:
	default:
		return fmt.Errorf("storage.backend %q is not supported", config.Storage.Backend)
	}
	if config.Storage.Backend == storage.BackendRedis && config.Storage.RedisAddr == "" {
		return fmt.Errorf("storage.redis_addr is required for the redis backend")
	}

	return nil
}
