package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envOverrides are settings taken from the environment (or a .env file in the
// working directory). Non-empty values win over ~/.authgate.
type envOverrides struct {
	Context       string `env:"AUTHGATE_CONTEXT"`
	APIKey        string `env:"AUTHGATE_API_KEY"`
	ProviderURL   string `env:"AUTHGATE_PROVIDER_URL"`
	Timeout       string `env:"AUTHGATE_PROVIDER_TIMEOUT"`
	Storage       string `env:"AUTHGATE_STORAGE"`
	StoragePath   string `env:"AUTHGATE_STORAGE_PATH"`
	RedisAddr     string `env:"AUTHGATE_REDIS_ADDR"`
	RedisPassword string `env:"AUTHGATE_REDIS_PASSWORD"`
}

// loadEnvOverrides reads .env (if present) and parses the AUTHGATE_* variables
func loadEnvOverrides() (envOverrides, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", slog.String("error", err.Error()))
	}

	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return envOverrides{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return o, nil
}

// resolve picks the active context and applies overrides to a copy of it.
// The loaded config is left untouched so overrides are never saved to disk.
func (o envOverrides) resolve(cfg *Config) (string, *Context, error) {
	name := cfg.CurrentContext
	if o.Context != "" {
		name = o.Context
	}

	base, ok := cfg.Contexts[name]
	if !ok {
		if name == "" {
			return "", nil, fmt.Errorf("no current context set")
		}
		return "", nil, fmt.Errorf("context %q not found", name)
	}

	ctx := *base
	if o.APIKey != "" {
		ctx.Provider.APIKey = o.APIKey
	}
	if o.ProviderURL != "" {
		ctx.Provider.BaseURL = o.ProviderURL
	}
	if o.Timeout != "" {
		ctx.Provider.Timeout = o.Timeout
	}
	if o.Storage != "" {
		ctx.Storage.Backend = o.Storage
	}
	if o.StoragePath != "" {
		ctx.Storage.Path = o.StoragePath
	}
	if o.RedisAddr != "" {
		ctx.Storage.RedisAddr = o.RedisAddr
	}
	if o.RedisPassword != "" {
		ctx.Storage.RedisPassword = o.RedisPassword
	}

	return name, &ctx, nil
}
