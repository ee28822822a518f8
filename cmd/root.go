// Package cmd defines the CLI commands for the directory-scraper executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-scraper/internal/app"
	"github.com/JakeFAU/directory-scraper/internal/config"
)

// Runner is the part of *app.App the commands use. Tests inject fakes
// through newApp.
type Runner interface {
	Run(ctx context.Context) (app.Report, error)
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory-scraper",
		Short: "Scrape company profiles from a paginated web directory.",
		Long: `directory-scraper walks a paginated company directory, renders every
profile page, extracts a normalized record per company, and writes the
records to a JSON file and, optionally, Google Sheets, an XLSX workbook
and Postgres.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newScrapeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
