package main

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fluidimg",
	Short: "Rewrite document images into responsive image markup",
	Long: "fluidimg resolves the images referenced by a markdown or mdast document, " +
		"generates responsive variants, and rewrites each reference into an element " +
		"carrying the variant metadata.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := log.InfoLevel
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			level = log.DebugLevel
		}
		cmd.SetContext(withLogger(cmd.Context(), newLogger(cmd.ErrOrStderr(), level)))
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "fluidimg.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
