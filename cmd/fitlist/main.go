package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/pders01/fitlist/internal/tui"
)

// Version is the version of the application, set at build time
var Version = "dev"

var (
	configPath string
	dbPath     string
	logLevel   string
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "fitlist",
	Short: "Apple Fitness+ workout playlist library",
	Long: `fitlist scrapes Apple Fitness+ workout pages for their metadata and
song playlists, caches them in a local SQLite library and lets you browse,
search and refresh them from the terminal or over HTTP.

Run without a subcommand to open the terminal UI.`,
	SilenceUsage: true,
	RunE:         runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to database file (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error, off (overrides config)")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Skip startup banner")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runTUI(cmd *cobra.Command, _ []string) error {
	if !quiet {
		tui.ShowBanner(Version)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := newRuntime(ctx, runtimeOptions{
		logTarget: logToFile,
		archive:   true,
		search:    true,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.coord.Start(ctx)
	defer rt.coord.Stop()

	app := tui.NewApp(rt.store, rt.coord, rt.searcher, rt.cfg)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running terminal UI: %w", err)
	}
	return nil
}
