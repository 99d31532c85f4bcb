package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var rootConfigPath string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "starkbot",
		Short:         "StarkBot agent runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&rootConfigPath, "config", "c", defaultConfigPath(), "Path to config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// defaultConfigPath returns $STARKBOT_CONFIG, then ~/.config/starkbot/config.yaml,
// then ./starkbot.yaml as the path Load tries in that order's winner.
func defaultConfigPath() string {
	if v := os.Getenv("STARKBOT_CONFIG"); v != "" {
		return v
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".config", "starkbot", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "starkbot.yaml"
}
