package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devilmonastery/authgate/internal/identity"
	"github.com/devilmonastery/authgate/internal/session"
	"github.com/devilmonastery/authgate/internal/storage"
)

// emulatorBaseURL is the local auth emulator's Identity Toolkit root
const emulatorBaseURL = "http://127.0.0.1:9099/identitytoolkit.googleapis.com/v1"

// Context represents a named configuration context (like kubectl contexts)
type Context struct {
	Provider struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key,omitempty"`
		Timeout string `yaml:"timeout,omitempty"`
	} `yaml:"provider"`
	Storage storage.Config `yaml:"storage"`
	Session struct {
		MinLifetime string `yaml:"min_lifetime,omitempty"`
	} `yaml:"session"`
}

// Config represents the CLI configuration with multiple contexts
type Config struct {
	CurrentContext string              `yaml:"current-context"`
	Contexts       map[string]*Context `yaml:"contexts"`
}

// DefaultConfig returns the default configuration with "dev" and "prod" contexts
func DefaultConfig() *Config {
	devContext := &Context{}
	devContext.Provider.BaseURL = emulatorBaseURL
	devContext.Provider.APIKey = "fake-api-key"
	devContext.Storage.Backend = storage.BackendFile

	prodContext := &Context{}
	prodContext.Provider.BaseURL = identity.DefaultBaseURL
	prodContext.Provider.Timeout = identity.DefaultTimeout.String()
	prodContext.Storage.Backend = storage.BackendFile
	prodContext.Session.MinLifetime = session.DefaultMinLifetime.String()

	return &Config{
		CurrentContext: "dev",
		Contexts: map[string]*Context{
			"dev":  devContext,
			"prod": prodContext,
		},
	}
}

// GetCurrentContext returns the current active context
func (c *Config) GetCurrentContext() (*Context, error) {
	if c.CurrentContext == "" {
		return nil, fmt.Errorf("no current context set")
	}

	ctx, ok := c.Contexts[c.CurrentContext]
	if !ok {
		return nil, fmt.Errorf("current context %q not found", c.CurrentContext)
	}

	return ctx, nil
}

// SetCurrentContext sets the current active context
func (c *Config) SetCurrentContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q does not exist", name)
	}
	c.CurrentContext = name
	return nil
}

// AddContext adds or updates a context
func (c *Config) AddContext(name string, ctx *Context) {
	if c.Contexts == nil {
		c.Contexts = make(map[string]*Context)
	}
	c.Contexts[name] = ctx
}

// DeleteContext removes a context
func (c *Config) DeleteContext(name string) error {
	if name == c.CurrentContext {
		return fmt.Errorf("cannot delete current context %q", name)
	}
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q does not exist", name)
	}
	delete(c.Contexts, name)
	return nil
}

// IdentityConfig converts the provider section into client settings
func (ctx *Context) IdentityConfig() (identity.Config, error) {
	cfg := identity.Config{
		BaseURL: ctx.Provider.BaseURL,
		APIKey:  ctx.Provider.APIKey,
	}
	if ctx.Provider.Timeout != "" {
		d, err := time.ParseDuration(ctx.Provider.Timeout)
		if err != nil {
			return identity.Config{}, fmt.Errorf("invalid provider timeout %q: %w", ctx.Provider.Timeout, err)
		}
		cfg.Timeout = d
	}
	return cfg, nil
}

// MinLifetime returns the restore threshold for this context
func (ctx *Context) MinLifetime() (time.Duration, error) {
	if ctx.Session.MinLifetime == "" {
		return session.DefaultMinLifetime, nil
	}
	d, err := time.ParseDuration(ctx.Session.MinLifetime)
	if err != nil {
		return 0, fmt.Errorf("invalid session min_lifetime %q: %w", ctx.Session.MinLifetime, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("session min_lifetime must not be negative")
	}
	return d, nil
}

// StorageBackend returns the configured backend name, defaulting to file
func (ctx *Context) StorageBackend() string {
	if ctx.Storage.Backend == "" {
		return storage.BackendFile
	}
	return ctx.Storage.Backend
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".authgate"), nil
}

// LoadConfig loads configuration from ~/.authgate file
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	// If config file doesn't exist, create it with defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		defaultConfig := DefaultConfig()
		if err := SaveConfig(defaultConfig); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return defaultConfig, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Ensure we have a valid current context
	if config.CurrentContext == "" && len(config.Contexts) > 0 {
		for name := range config.Contexts {
			config.CurrentContext = name
			break
		}
	}

	return &config, nil
}

// SaveConfig saves configuration to ~/.authgate file.
// The file can hold API keys and a Redis password, so it is private to the user.
func SaveConfig(config *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
