package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/devilmonastery/authgate/internal/identity"
	"github.com/devilmonastery/authgate/internal/pkg/logger"
	"github.com/devilmonastery/authgate/internal/session"
	"github.com/devilmonastery/authgate/internal/storage"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const cliContextKey contextKey = "cliContext"

// CliContext holds shared CLI context
type CliContext struct {
	Config      *Config
	ContextName string
	Context     *Context
	Store       *session.Store
	Identity    *identity.Client
	Logger      *slog.Logger

	closeStorage func() error
}

// Global logging flags
var (
	logLevel      string
	logFile       string
	logToStderr   bool
	alsoLogStderr bool
	logFormat     string
)

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	var ctx CliContext

	rootCmd := &cobra.Command{
		Use:           "authgate",
		Short:         "Email/password sign-in with a persisted, self-expiring session",
		Long:          `A command line client that signs in against an Identity Toolkit style provider and keeps the resulting session until it expires.`,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors (main.go handles it)
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(); err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}

			ctx.Logger = logger.WithCommand(slog.Default().With("component", "cli"), cmd.Name())
			ctx.Logger.Debug("CLI started")

			// Config commands manage ~/.authgate themselves and never touch the session
			if isConfigCommand(cmd) {
				cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey, &ctx))
				return nil
			}

			if err := ctx.open(cmd.Context()); err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey, &ctx))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.close()
		},
	}

	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newConfigCommand())

	// Add logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"Log file path (if specified, logs to file instead of stderr)")
	rootCmd.PersistentFlags().BoolVar(&logToStderr, "logtostderr", false,
		"Log to stderr (default behavior unless --log-file specified)")
	rootCmd.PersistentFlags().BoolVar(&alsoLogStderr, "alsologtostderr", false,
		"Log to both file and stderr")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"Log format (text, json)")

	return rootCmd
}

// open loads configuration, opens the storage backend and restores the session
func (c *CliContext) open(ctx context.Context) error {
	config, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	overrides, err := loadEnvOverrides()
	if err != nil {
		return err
	}

	name, active, err := overrides.resolve(config)
	if err != nil {
		return fmt.Errorf("failed to resolve context: %w", err)
	}

	c.Config = config
	c.ContextName = name
	c.Context = active
	c.Logger = logger.WithContextName(c.Logger, name)
	base := logger.WithContextName(slog.Default(), name)

	minLifetime, err := active.MinLifetime()
	if err != nil {
		return err
	}

	kv, closeKV, err := storage.Open(active.Storage, name)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", active.StorageBackend(), err)
	}
	c.closeStorage = closeKV

	c.Store = session.NewStore(kv,
		session.WithMinLifetime(minLifetime),
		session.WithLogger(base))
	state := c.Store.Restore(ctx)
	c.Logger.Debug("session restored", slog.String("state", state.String()))

	// A missing API key only matters to commands that talk to the provider
	idCfg, err := active.IdentityConfig()
	if err != nil {
		return err
	}
	if idCfg.APIKey != "" {
		c.Identity, err = identity.New(idCfg, identity.WithLogger(base))
		if err != nil {
			return fmt.Errorf("failed to create identity client: %w", err)
		}
	}

	return nil
}

func (c *CliContext) close() error {
	if c.Store != nil {
		c.Store.Close()
	}
	if c.closeStorage != nil {
		return c.closeStorage()
	}
	return nil
}

// identityClient returns the provider client or explains how to configure one
func (c *CliContext) identityClient() (*identity.Client, error) {
	if c.Identity == nil {
		return nil, fmt.Errorf("no API key configured for context %q\nSet provider.api_key with 'authgate config set-context' or export AUTHGATE_API_KEY", c.ContextName)
	}
	return c.Identity, nil
}

func isConfigCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "config" {
			return true
		}
	}
	return false
}

// setupLogging configures the global logger based on CLI flags
func setupLogging() error {
	// Default to stderr logging unless file is specified
	if logFile == "" {
		logToStderr = true
	}

	cfg := logger.Config{
		Level:         logger.ParseLevel(logLevel),
		LogFile:       logFile,
		LogToStderr:   logToStderr,
		AlsoLogStderr: alsoLogStderr,
		Format:        logFormat,
	}

	globalLogger, err := logger.SetupLogger(cfg)
	if err != nil {
		return err
	}

	slog.SetDefault(globalLogger)
	return nil
}

// getCliContext extracts the CLI context from the command context
func getCliContext(cmd *cobra.Command) *CliContext {
	return cmd.Context().Value(cliContextKey).(*CliContext)
}
