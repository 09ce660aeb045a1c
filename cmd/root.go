package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// NewRootCommand builds the webpilot command tree wired to the real browser,
// provider, and memory store.
func NewRootCommand() *cobra.Command {
	return newRootCmd(buildComponents)
}

// Execute runs the command tree under ctx. Errors are logged here; the caller
// only decides the exit code.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

func newRootCmd(factory componentFactory) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:     "webpilot",
		Short:   "WebPilot drives a real browser with a language model to complete web tasks.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				observability.InitializeLogger(config.NewDefaultConfig().Logger)
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.NewDefaultConfig().Logger)
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting WebPilot", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(newRunCmd(factory))
	rootCmd.AddCommand(newReplayCmd(factory))
	rootCmd.AddCommand(newSessionsCmd(factory))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// initializeConfig layers the config file, WEBPILOT_* environment variables,
// and the executing command's bound flags onto v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(config.ExpandPath(cfgFile))
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("WEBPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Commands map their flags to config keys through annotations so an
	// explicitly set flag wins over file and environment.
	for flagName, key := range cmd.Annotations {
		f := cmd.Flags().Lookup(flagName)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", flagName, err)
		}
	}
	return nil
}

// getConfigFromContext returns the configuration stored by the root command.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}
