package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/stateful"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of stateful",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "stateful version %s\n", strings.TrimSpace(stateful.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
