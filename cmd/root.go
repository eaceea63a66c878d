package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/dockling/internal/config"
	"github.com/JakeFAU/dockling/internal/server"
)

// appKeyType is the key for storing the loaded Config in the context.
type appKeyType string

const configKey appKeyType = "config"

// skipConfig marks commands that must run without a loadable Config.
const skipConfig = "skip-config"

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = server.Build

type rootOptions struct {
	configFile string
	envFile    string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "dockling",
		Short: "Batch document to Markdown converter backed by docling-serve.",
		Long: `dockling converts folders of PDF, Office, HTML and other documents to
Markdown. Each run reports its progress as a stream of events that is rendered
in the terminal, exported as Prometheus metrics and recorded in the run history.`,
		SilenceUsage: true,

		// Loads the Config once for every subcommand that needs it.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := cmd.Annotations[skipConfig]; ok {
				return nil
			}
			cfg, err := config.Load(opts.configFile, opts.envFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with settings")

	cmd.AddCommand(newConvertCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd(opts))
	return cmd
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		os.Exit(1)
	}
}
