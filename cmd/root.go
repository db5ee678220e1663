package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ricechain",
	Short: "Rice supply chain service",
	Long:  `Tracks paddy intake, milling, packaged rice orders, payments and deliveries`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
