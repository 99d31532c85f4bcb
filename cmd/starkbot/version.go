package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/starkbot/starkbot/internal/config"
)

// buildVersion is set via -ldflags "-X main.buildVersion=...", left at its
// zero value for local/dev builds.
var buildVersion = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the starkbot version and supported config version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "starkbot %s (config schema v%d)\n", buildVersion, config.CurrentVersion)
			return nil
		},
	}
}
