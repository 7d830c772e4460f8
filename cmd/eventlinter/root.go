package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:           "eventlinter",
	Short:         "eventlinter runs the event linter and serves its findings.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, lintCmd, apikeyCmd)
}
