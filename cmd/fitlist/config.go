package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pders01/fitlist/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configGenCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write the default configuration to ~/.config/fitlist/config.toml",
	Run: func(_ *cobra.Command, _ []string) {
		path := config.DefaultPath()
		if err := config.GenerateDefaultConfig(path); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default configuration at: %s\n", path)
	},
}

func init() {
	configCmd.AddCommand(configGenCmd)
	rootCmd.AddCommand(configCmd)
}
