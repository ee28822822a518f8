// Package app builds the scraper's long-lived services from configuration and
// runs one scrape end to end. It acts as the dependency injection container
// for the command layer.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/directory-scraper/internal/api"
	"github.com/JakeFAU/directory-scraper/internal/config"
	"github.com/JakeFAU/directory-scraper/internal/discover"
	"github.com/JakeFAU/directory-scraper/internal/extract"
	pubsubnotify "github.com/JakeFAU/directory-scraper/internal/notify/pubsub"
	"github.com/JakeFAU/directory-scraper/internal/pipeline"
	"github.com/JakeFAU/directory-scraper/internal/profile"
	"github.com/JakeFAU/directory-scraper/internal/progress"
	"github.com/JakeFAU/directory-scraper/internal/progress/sinks"
	"github.com/JakeFAU/directory-scraper/internal/render"
	"github.com/JakeFAU/directory-scraper/internal/retry"
	"github.com/JakeFAU/directory-scraper/internal/sink"
	"github.com/JakeFAU/directory-scraper/internal/sink/jsonfile"
	pgsink "github.com/JakeFAU/directory-scraper/internal/sink/postgres"
	"github.com/JakeFAU/directory-scraper/internal/sink/sheets"
	"github.com/JakeFAU/directory-scraper/internal/sink/xlsx"
	pgstore "github.com/JakeFAU/directory-scraper/internal/storage/postgres"
)

const notifyTimeout = 30 * time.Second

// Options overrides collaborators, mainly for tests.
type Options struct {
	// Renderer replaces the renderer selected by render.mode. It is still
	// wrapped with the retry policy.
	Renderer render.Renderer
	// Registry receives the Prometheus collectors. Defaults to a fresh
	// registry.
	Registry *prometheus.Registry
	// Client options for the Google APIs.
	GCS    []option.ClientOption
	Sheets []option.ClientOption
	PubSub []option.ClientOption
	// Clock replaces the pipeline's wall clock.
	Clock pipeline.Clock
}

// Report describes a finished scrape.
type Report struct {
	Result       pipeline.Result
	SinkFailures []*sink.Error
	Summary      pubsubnotify.Summary
}

// App holds every service a scrape needs.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	renderer render.Renderer
	pipeline *pipeline.Pipeline
	hub      *progress.Hub
	tracker  *sinks.Tracker
	sinks    *sink.Dispatcher
	notifier *pubsubnotify.Notifier
	server   *api.Server
	pool     *pgxpool.Pool

	// setupFailures are optional sinks that could not be built; they are
	// reported with the run's sink failures.
	setupFailures []*sink.Error

	serverCancel context.CancelFunc
	serverDone   chan error
	closeOnce    sync.Once
	closeErr     error
}

// New builds the services described by cfg. It fails fast when a required
// service cannot be initialized; the Sheets upload is the exception and is
// reported as a sink failure instead.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
		opts.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			if closeErr := a.Close(context.Background()); closeErr != nil {
				logger.Warn("cleanup after failed init", zap.Error(closeErr))
			}
		}
	}()

	logger.Info("initializing scraper services",
		zap.String("render_mode", cfg.Render.Mode),
		zap.String("output", cfg.Output.JSON),
	)

	ids, err := profile.NewIdentifier(cfg.Scrape.ProfilePattern)
	if err != nil {
		return nil, fmt.Errorf("profile pattern: %w", err)
	}

	a.renderer = a.buildRenderer(opts)

	historySink, history, err := a.buildDatabase(ctx)
	if err != nil {
		return nil, err
	}

	hubSinks, err := a.buildProgressSinks(opts.Registry, historySink)
	if err != nil {
		return nil, err
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.Progress.MaxBatchWait,
		Logger:         logger.Named("progress"),
	}, hubSinks...)

	outputs, err := a.buildSinks(ctx, opts)
	if err != nil {
		if closeErr := sink.NewDispatcher(outputs).Close(); closeErr != nil {
			logger.Warn("close partially built sinks", zap.Error(closeErr))
		}
		return nil, err
	}
	a.sinks = sink.NewDispatcher(outputs,
		sink.WithTimeout(cfg.Output.SinkTimeout),
		sink.WithLogger(logger.Named("sink")),
	)

	if cfg.NotifyEnabled() {
		a.notifier, err = pubsubnotify.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic, logger.Named("notify"), opts.PubSub...)
		if err != nil {
			return nil, fmt.Errorf("init notifier: %w", err)
		}
	}

	if cfg.Server.Addr != "" {
		a.server, err = api.NewServer(api.Config{
			Tracker:    a.tracker,
			History:    history,
			Registerer: opts.Registry,
			Gatherer:   opts.Registry,
			APIKey:     cfg.Server.APIKey,
			Logger:     logger.Named("api"),
		})
		if err != nil {
			return nil, fmt.Errorf("init status server: %w", err)
		}
	}

	discoverCfg := discover.DefaultConfig()
	if cfg.Discover.LinkSelector != "" {
		discoverCfg.LinkSelector = cfg.Discover.LinkSelector
	}
	discoverCfg.PageParam = cfg.Discover.PageParam
	discoverCfg.MaxPages = cfg.Discover.MaxPages
	discoverCfg.MaxConsecutivePageFailures = cfg.Discover.MaxConsecutivePageFailures

	pipeOpts := []pipeline.Option{
		pipeline.WithEmitter(a.hub),
		pipeline.WithLogger(logger.Named("pipeline")),
	}
	if opts.Clock != nil {
		pipeOpts = append(pipeOpts, pipeline.WithClock(opts.Clock))
	}
	a.pipeline = pipeline.New(
		discover.New(a.renderer, ids, discoverCfg, logger.Named("discover")),
		a.renderer,
		extract.New(ids, extract.DefaultRules()),
		pipeOpts...,
	)

	logger.Info("scraper services initialized", zap.Strings("sinks", a.sinks.Names()))
	return a, nil
}

func (a *App) buildRenderer(opts Options) render.Renderer {
	base := opts.Renderer
	if base == nil {
		logger := a.logger.Named("render")
		static := func() render.Renderer {
			return render.NewStatic(render.StaticConfig{
				UserAgent:     a.cfg.Render.UserAgent,
				Timeout:       a.cfg.Render.Timeout,
				RespectRobots: a.cfg.Render.RespectRobots,
			}, logger)
		}
		browser := func() render.Renderer {
			return render.NewChromedp(render.ChromedpConfig{
				Headless:     a.cfg.Render.Headless,
				UserAgent:    a.cfg.Render.UserAgent,
				Timeout:      a.cfg.Render.Timeout,
				WaitSelector: a.cfg.Render.WaitSelector,
				SettleDelay:  a.cfg.Render.SettleDelay,
				HostQPS:      a.cfg.Render.HostQPS,
				ExecPath:     a.cfg.Render.ExecPath,
			}, logger)
		}
		switch a.cfg.Render.Mode {
		case config.RenderStatic:
			base = static()
		case config.RenderAuto:
			base = render.NewAuto(static(), browser(), nil, logger)
		default:
			base = browser()
		}
	}
	return render.NewRetrying(base, retry.Config{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		BaseDelay:   a.cfg.Retry.BaseDelay,
		MaxDelay:    a.cfg.Retry.MaxDelay,
	}, a.logger.Named("render"), nil)
}

// buildDatabase connects the shared pool when a DSN is configured and
// returns the run history store twice: as a progress sink and as the API's
// read side.
func (a *App) buildDatabase(ctx context.Context) (progress.Sink, api.RunHistory, error) {
	if a.cfg.DB.DSN == "" {
		return nil, nil, nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		MaxConns: a.cfg.DB.MaxConns,
		MinConns: a.cfg.DB.MinConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init database: %w", err)
	}
	a.pool = pool
	runs, err := pgstore.NewRunStore(pool, a.cfg.DB.RunsTable, false)
	if err != nil {
		return nil, nil, fmt.Errorf("init run store: %w", err)
	}
	if err := runs.EnsureSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("init run store: %w", err)
	}
	return runs, runs, nil
}

func (a *App) buildProgressSinks(reg prometheus.Registerer, history progress.Sink) ([]progress.Sink, error) {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	a.tracker = sinks.NewTracker(0)
	out := []progress.Sink{
		sinks.NewLogSink(a.logger.Named("progress")),
		promSink,
		a.tracker,
	}
	if history != nil {
		out = append(out, history)
	}
	return out, nil
}

// buildSinks returns the output sinks in dispatch order: JSON first so the
// local copy exists before any remote upload is attempted.
func (a *App) buildSinks(ctx context.Context, opts Options) ([]sink.Sink, error) {
	out := make([]sink.Sink, 0, 4)

	jsonSink, err := jsonfile.Open(ctx, a.cfg.Output.JSON, jsonfile.Options{
		Logger: a.logger.Named("sink.json"),
		GCS:    opts.GCS,
	})
	if err != nil {
		return nil, fmt.Errorf("init json output: %w", err)
	}
	out = append(out, jsonSink)

	if a.cfg.Output.XLSX != "" {
		x, err := xlsx.New(a.cfg.Output.XLSX, a.cfg.Sheets.SheetName, a.logger.Named("sink.xlsx"))
		if err != nil {
			return out, fmt.Errorf("init xlsx output: %w", err)
		}
		out = append(out, x)
	}

	switch {
	case a.cfg.UploadEnabled():
		s, err := sheets.New(ctx, sheets.Config{
			SpreadsheetID:   a.cfg.Sheets.SpreadsheetID,
			SheetName:       a.cfg.Sheets.SheetName,
			CredentialsFile: a.cfg.Sheets.CredentialsFile,
		}, a.logger.Named("sink.sheets"), opts.Sheets...)
		if err != nil {
			a.logger.Warn("sheets upload unavailable; continuing without it", zap.Error(err))
			a.setupFailures = append(a.setupFailures, &sink.Error{Sink: "sheets", Err: err})
			break
		}
		out = append(out, s)
	case !a.cfg.Sheets.SkipUpload:
		a.logger.Warn("no spreadsheet id configured; skipping sheets upload")
	}

	if a.pool != nil {
		p, err := pgsink.NewWithPool(a.pool, a.cfg.DB.ProfilesTable, pgsink.WithLogger(a.logger.Named("sink.postgres")))
		if err != nil {
			return out, fmt.Errorf("init postgres output: %w", err)
		}
		if err := p.EnsureSchema(ctx); err != nil {
			return out, fmt.Errorf("init postgres output: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Tracker exposes live run snapshots.
func (a *App) Tracker() *sinks.Tracker {
	return a.tracker
}

// Run starts the status server when configured, scrapes, hands the records to
// every sink, and publishes the run summary. The returned error is the run's
// abort cause; sink and notification failures are reported, not returned.
func (a *App) Run(ctx context.Context) (Report, error) {
	a.startServer(ctx)

	res, runErr := a.pipeline.Run(ctx, a.cfg.Scrape.BaseURL, a.cfg.Scrape.Limit, a.cfg.Scrape.Delay)
	report := Report{Result: res}

	// Sinks still run after cancellation so completed work is kept.
	outCtx := context.WithoutCancel(ctx)
	var names []string
	var failures []*sink.Error
	if runErr != nil && len(res.Records) == 0 {
		a.logger.Warn("run aborted before any profile was scraped; outputs left untouched")
	} else {
		names = a.sinks.Names()
		failures = a.sinks.Dispatch(outCtx, res.Records)
		for _, f := range a.setupFailures {
			names = append(names, f.Sink)
			failures = append(failures, f)
		}
	}
	report.SinkFailures = failures

	report.Summary = pubsubnotify.NewSummary(a.cfg.Scrape.BaseURL, res, runErr, names, failures)

	if a.notifier != nil {
		notifyCtx, cancel := context.WithTimeout(outCtx, notifyTimeout)
		if _, err := a.notifier.Publish(notifyCtx, report.Summary); err != nil {
			a.logger.Warn("run summary not published", zap.Error(err))
		}
		cancel()
	}
	return report, runErr
}

func (a *App) startServer(ctx context.Context) {
	if a.server == nil || a.serverDone != nil {
		return
	}
	serverCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.serverCancel = cancel
	a.serverDone = make(chan error, 1)
	go func() {
		err := a.server.Serve(serverCtx, a.cfg.Server.Addr)
		if err != nil {
			a.logger.Error("status server failed", zap.Error(err))
		}
		a.serverDone <- err
	}()
}

// Close stops the server, flushes progress, and releases the renderer, the
// sinks, the notifier and the database pool. Only the first call does work.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down scraper services")
		var errs []error
		if a.serverCancel != nil {
			a.serverCancel()
			if err := <-a.serverDone; err != nil {
				errs = append(errs, err)
			}
		}
		if a.renderer != nil {
			if err := a.renderer.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close renderer: %w", err))
			}
		}
		if a.hub != nil {
			if err := a.hub.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if a.sinks != nil {
			if err := a.sinks.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.notifier != nil {
			if err := a.notifier.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.pool != nil {
			a.pool.Close()
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
