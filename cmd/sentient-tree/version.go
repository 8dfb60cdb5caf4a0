package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/SentientTree/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sentient-tree %s\n", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
