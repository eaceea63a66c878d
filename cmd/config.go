package cmd

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/dockling/internal/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize settings",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd(root))
	cmd.AddCommand(newConfigInitCmd(root))
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			printSettings(cmd, cfg.Masked())
			return nil
		},
	}
}

func printSettings(cmd *cobra.Command, cfg config.Config) {
	values := config.EnvValues(cfg)
	values["DOCKLING_ENGINE_KIND"] = cfg.Engine.Kind
	values["DOCKLING_ENGINE_URL"] = cfg.Engine.URL
	values["DOCKLING_ENGINE_API_KEY"] = cfg.Engine.APIKey
	values["DOCKLING_CONVERSION_MAX_FILES"] = fmt.Sprint(cfg.Conversion.MaxFiles)
	values["DOCKLING_ENGINE_RETRIES"] = fmt.Sprint(cfg.Engine.Retries)
	values["DOCKLING_SERVER_PORT"] = fmt.Sprint(cfg.Server.Port)
	values["DOCKLING_SERVER_API_KEY"] = cfg.Server.APIKey
	values["DOCKLING_HISTORY_DSN"] = cfg.History.DSN
	values["DOCKLING_PROGRESS_PUBSUB_TOPIC"] = cfg.Progress.PubSubTopic

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := cmd.OutOrStdout()
	for _, key := range keys {
		fmt.Fprintf(out, "%s=%s\n", key, values[key])
	}
}

func newConfigValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Check the settings and report every problem",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.Load(root.configFile, root.envFile); err != nil {
				red := color.New(color.FgRed)
				_, _ = red.Fprintln(cmd.ErrOrStderr(), "✗ Configuration is invalid")
				return err
			}
			green := color.New(color.FgGreen)
			_, _ = green.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
			return nil
		},
	}
}

func newConfigInitCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:         "init",
		Short:       "Write a dotenv file with the default settings",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			created, err := config.InitEnv(cmd.Context(), root.envFile)
			if err != nil {
				return fmt.Errorf("init env file: %w", err)
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s with default settings\n", root.envFile)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, left unchanged\n", root.envFile)
			return nil
		},
	}
}
