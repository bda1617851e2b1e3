package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("fitlist %s\n", Version)
		fmt.Println("Fitness+ workout playlist library")
		fmt.Println("github.com/pders01/fitlist")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
