package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/recall/internal/config"
	"github.com/user/recall/internal/janitor"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configValidateCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change recall settings",
}

// checkSchedule rejects janitor schedules the daemon could not start with.
func checkSchedule(cfg *config.Config) error {
	return janitor.ValidateSchedule(cfg.Janitor.Schedule)
}

var configListCmd = &cobra.Command{
	Use:   "list [section]",
	Short: "List settings, optionally only one section (memory, storage, llm, janitor)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := config.ListValues(loadConfig(), true)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}
		prefix := ""
		if len(args) == 1 {
			prefix = strings.TrimSuffix(args[0], ".") + "."
		}
		found := false
		for _, k := range config.SortedKeys(values) {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			found = true
			fmt.Fprintf(os.Stdout, "%s = %v\n", k, values[k])
		}
		if !found {
			return fmt.Errorf("no settings under %q", args[0])
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting (secrets are masked)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		if config.IsSecretKey(args[0]) {
			val = config.MaskSecrets(map[string]any{args[0]: val})[args[0]]
		}
		fmt.Fprintln(os.Stdout, val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting after checking the result is a usable config",
	Long: `Change one setting. The updated file must decode into recall's config,
use a known storage type and log level, carry parseable durations and a valid
janitor cron schedule; otherwise nothing is written. A running daemon picks
the change up on "recall reload".`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(cfgPath); err != nil {
			return err
		}
		if err := config.SetValue(cfgPath, args[0], args[1], checkSchedule); err != nil {
			return err
		}
		display := args[1]
		if config.IsSecretKey(args[0]) {
			display = "***"
		}
		fmt.Fprintf(os.Stdout, "Set %s = %s\n", args[0], display)
		if strings.HasPrefix(args[0], "janitor.") {
			fmt.Fprintln(os.Stdout, `Run "recall reload" to apply it to a running daemon.`)
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", cfgPath, err)
		}
		if err := checkSchedule(cfg); err != nil {
			return fmt.Errorf("invalid config %s: %w", cfgPath, err)
		}
		fmt.Fprintf(os.Stdout, "Config OK: %s (storage %s)\n", cfgPath, cfg.Storage.Type)
		return nil
	},
}
