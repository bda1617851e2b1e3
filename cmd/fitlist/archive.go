package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pders01/fitlist/internal/archive"
	"github.com/pders01/fitlist/internal/validation"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect the raw page archive",
	Long: `The page archive keeps the HTML of every successfully parsed workout page
(database.page_archive). It feeds fitlist reparse and parser development.`,
}

var archiveExportCmd = &cobra.Command{
	Use:   "export <url> <file>",
	Short: "Write the archived HTML of a workout to a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runArchiveExport,
}

var archiveStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many pages are archived",
	Args:  cobra.NoArgs,
	RunE:  runArchiveStats,
}

func init() {
	archiveCmd.AddCommand(archiveExportCmd, archiveStatsCmd)
	rootCmd.AddCommand(archiveCmd)
}

func runArchiveExport(cmd *cobra.Command, args []string) error {
	rawURL := args[0]
	// Exports may land in the working directory besides the data dirs.
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	path, err := validation.NewFilePathValidator(cwd).EnsureParentDir(args[1])
	if err != nil {
		return fmt.Errorf("export destination: %w", err)
	}

	rt, err := newRuntime(cmd.Context(), runtimeOptions{logTarget: logToConsole, requireArchive: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	entry, err := rt.archive.GetByURL(rawURL)
	if errors.Is(err, archive.ErrNotFound) {
		return fmt.Errorf("%s has not been archived; scrape it first", rawURL)
	}
	if err != nil {
		return err
	}
	if err := rt.archive.Export(entry.Key, path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %s (%d bytes, fetched %s) to %s\n",
		entry.FinalURL, entry.Size, entry.FetchedAt.Local().Format("2006-01-02 15:04"), path)
	return nil
}

func runArchiveStats(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime(cmd.Context(), runtimeOptions{logTarget: logToConsole, requireArchive: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.archive.Count()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d pages archived in %s\n", n, rt.cfg.Database.PageArchive)
	return nil
}
