package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/devilmonastery/authgate/internal/storage"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration and contexts",
		Long:  `Manage CLI configuration including provider and storage contexts, similar to kubectl contexts.`,
	}

	cmd.AddCommand(newCurrentContextCommand())
	cmd.AddCommand(newUseContextCommand())
	cmd.AddCommand(newListContextsCommand())
	cmd.AddCommand(newSetContextCommand())
	cmd.AddCommand(newDeleteContextCommand())
	cmd.AddCommand(newConfigViewCommand())

	return cmd
}

// current-context command
func newCurrentContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current-context",
		Short: "Display the current context",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			fmt.Println(config.CurrentContext)
			return nil
		},
	}
}

// use-context command
func newUseContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use-context CONTEXT_NAME",
		Short: "Switch to a different context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contextName := args[0]

			config, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if err := config.SetCurrentContext(contextName); err != nil {
				return err
			}

			if err := SaveConfig(config); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Printf("Switched to context %q\n", contextName)
			return nil
		},
	}
}

// list-contexts command
func newListContextsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list-contexts",
		Aliases: []string{"get-contexts"},
		Short:   "List all available contexts",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if len(config.Contexts) == 0 {
				fmt.Println("No contexts configured")
				return nil
			}

			names := make([]string, 0, len(config.Contexts))
			for name := range config.Contexts {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "CURRENT\tNAME\tPROVIDER\tSTORAGE")

			for _, name := range names {
				ctx := config.Contexts[name]
				current := " "
				if name == config.CurrentContext {
					current = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					current,
					name,
					ctx.Provider.BaseURL,
					ctx.StorageBackend(),
				)
			}
			w.Flush()

			return nil
		},
	}
}

// contextFlags are the settable fields of a context
type contextFlags struct {
	baseURL       string
	apiKey        string
	timeout       string
	backend       string
	path          string
	redisAddr     string
	redisPassword string
	redisDB       int
	keyPrefix     string
	minLifetime   string
}

// apply copies the flags the user actually set onto ctx
func (f *contextFlags) apply(cmd *cobra.Command, ctx *Context) error {
	changed := cmd.Flags().Changed

	if changed("provider-url") {
		ctx.Provider.BaseURL = f.baseURL
	}
	if changed("api-key") {
		ctx.Provider.APIKey = f.apiKey
	}
	if changed("timeout") {
		if _, err := time.ParseDuration(f.timeout); err != nil {
			return fmt.Errorf("invalid --timeout: %w", err)
		}
		ctx.Provider.Timeout = f.timeout
	}
	if changed("storage") {
		switch f.backend {
		case storage.BackendFile, storage.BackendMemory, storage.BackendRedis, storage.BackendSQLite:
		default:
			return fmt.Errorf("unknown storage backend %q", f.backend)
		}
		ctx.Storage.Backend = f.backend
	}
	if changed("storage-path") {
		ctx.Storage.Path = f.path
	}
	if changed("redis-addr") {
		ctx.Storage.RedisAddr = f.redisAddr
	}
	if changed("redis-password") {
		ctx.Storage.RedisPassword = f.redisPassword
	}
	if changed("redis-db") {
		ctx.Storage.RedisDB = f.redisDB
	}
	if changed("key-prefix") {
		ctx.Storage.KeyPrefix = f.keyPrefix
	}
	if changed("min-lifetime") {
		if _, err := time.ParseDuration(f.minLifetime); err != nil {
			return fmt.Errorf("invalid --min-lifetime: %w", err)
		}
		ctx.Session.MinLifetime = f.minLifetime
	}
	return nil
}

// set-context command
func newSetContextCommand() *cobra.Command {
	var flags contextFlags

	cmd := &cobra.Command{
		Use:     "set-context CONTEXT_NAME",
		Aliases: []string{"add-context"},
		Short:   "Add a context or update fields of an existing one",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contextName := args[0]

			config, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, exists := config.Contexts[contextName]
			if !exists {
				ctx = &Context{}
				ctx.Storage.Backend = storage.BackendFile
			}

			if err := flags.apply(cmd, ctx); err != nil {
				return err
			}
			config.AddContext(contextName, ctx)

			// If this is the first context, make it current
			if len(config.Contexts) == 1 {
				config.CurrentContext = contextName
			}

			if err := SaveConfig(config); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			if exists {
				fmt.Printf("Context %q updated\n", contextName)
			} else {
				fmt.Printf("Context %q added\n", contextName)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.baseURL, "provider-url", "", "Identity provider base URL")
	cmd.Flags().StringVar(&flags.apiKey, "api-key", "", "Identity provider API key")
	cmd.Flags().StringVar(&flags.timeout, "timeout", "", "Provider request timeout (e.g. 15s)")
	cmd.Flags().StringVar(&flags.backend, "storage", "", "Session storage backend (file, memory, redis, sqlite)")
	cmd.Flags().StringVar(&flags.path, "storage-path", "", "File or SQLite database path")
	cmd.Flags().StringVar(&flags.redisAddr, "redis-addr", "", "Redis address (host:port)")
	cmd.Flags().StringVar(&flags.redisPassword, "redis-password", "", "Redis password")
	cmd.Flags().IntVar(&flags.redisDB, "redis-db", 0, "Redis database number")
	cmd.Flags().StringVar(&flags.keyPrefix, "key-prefix", "", "Redis key prefix")
	cmd.Flags().StringVar(&flags.minLifetime, "min-lifetime", "", "Least remaining lifetime for a stored session to be resumed (e.g. 60s)")

	return cmd
}

// delete-context command
func newDeleteContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-context CONTEXT_NAME",
		Short: "Delete a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contextName := args[0]

			config, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if err := config.DeleteContext(contextName); err != nil {
				return err
			}

			if err := SaveConfig(config); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Printf("Context %q deleted\n", contextName)
			return nil
		},
	}
}

// view command - shows the current context with secrets masked
func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "view",
		Aliases: []string{"show"},
		Short:   "Show current context configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, err := config.GetCurrentContext()
			if err != nil {
				return fmt.Errorf("failed to get current context: %w", err)
			}

			masked := *ctx
			masked.Provider.APIKey = maskSecret(masked.Provider.APIKey)
			masked.Storage.RedisPassword = maskSecret(masked.Storage.RedisPassword)

			data, err := yaml.Marshal(&masked)
			if err != nil {
				return fmt.Errorf("failed to marshal context: %w", err)
			}

			configPath, _ := GetConfigPath()
			fmt.Printf("# Config file: %s\n", configPath)
			fmt.Printf("# Current context: %s\n", config.CurrentContext)
			fmt.Print(string(data))

			return nil
		},
	}
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "****"
	default:
		return s[:4] + "****"
	}
}
