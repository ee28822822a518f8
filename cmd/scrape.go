package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-scraper/internal/app"
	"github.com/JakeFAU/directory-scraper/internal/config"
	"github.com/JakeFAU/directory-scraper/internal/logging"
)

const closeTimeout = 15 * time.Second

// newScrapeCmd creates the 'scrape' subcommand.
func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape the directory and write the records to every configured output",
		Long: `Walks the listing starting at --url, scrapes up to --limit profiles
(all when 0) with at least --delay between profile requests, and writes the
records to --output. Unless --skip-upload is set, the records are also
appended to the Google Sheet named by --spreadsheet and --sheet.`,
		RunE: runScrapeCommand,
	}
	f := cmd.Flags()
	f.String("url", config.DefaultBaseURL, "directory listing to start from")
	f.Int("limit", 0, "maximum number of profiles to scrape (0 = all)")
	f.Duration("delay", 2*time.Second, "minimum wait between profile requests")
	f.Bool("headless", false, "run the browser without a visible window")
	f.String("render-mode", config.RenderBrowser, "renderer: browser (JavaScript), static (plain HTTP) or auto (static, browser when needed)")
	f.String("output", "startups_data.json", "JSON output path, file:// URI or gs://bucket/object")
	f.String("xlsx", "", "optional XLSX workbook path")
	f.String("spreadsheet", "", "Google Sheets spreadsheet id")
	f.String("sheet", "Startups", "sheet (tab) name")
	f.String("credentials", "credentials.json", "service account credentials JSON file")
	f.Bool("skip-upload", false, "skip the Google Sheets upload")
	f.String("server-addr", "", "serve status and metrics on this address while scraping")
	f.Bool("dev", true, "human-readable development logging")
	f.String("log-level", "info", "minimum log level")
	return cmd
}

func runScrapeCommand(cmd *cobra.Command, _ []string) error {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("read --config: %w", err)
	}
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := runner.Close(closeCtx); cerr != nil {
			logger.Warn("failed to close application services", zap.Error(cerr))
		}
	}()

	report, runErr := runner.Run(ctx)
	printReport(cmd.OutOrStdout(), cfg, report)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Fprintln(cmd.OutOrStdout(), "Scraping interrupted; partial results were saved.")
			return nil
		}
		return fmt.Errorf("run scrape: %w", runErr)
	}
	return nil
}

func printReport(w io.Writer, cfg config.Config, report app.Report) {
	res := report.Result
	fmt.Fprintf(w, "Successfully scraped %d out of %d profiles (%d failed)\n",
		res.Succeeded(), res.Succeeded()+res.Failed(), res.Failed())
	if n := res.PageFailures(); n > 0 {
		fmt.Fprintf(w, "Skipped %d index page(s)\n", n)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "  %s %s: %s\n", f.Kind, f.URL, f.Reason)
	}
	failed := make(map[string]error, len(report.SinkFailures))
	for _, f := range report.SinkFailures {
		failed[f.Sink] = f.Err
	}
	for _, s := range report.Summary.Sinks {
		if err, ok := failed[s.Name]; ok {
			fmt.Fprintf(w, "Output %s failed: %v\n", s.Name, err)
			continue
		}
		if s.Name == "json" {
			fmt.Fprintf(w, "Data saved to %s\n", cfg.Output.JSON)
			continue
		}
		fmt.Fprintf(w, "Output %s written\n", s.Name)
	}
}
