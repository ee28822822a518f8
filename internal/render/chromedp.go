package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChromedpConfig controls the browser adapter.
type ChromedpConfig struct {
	Headless     bool
	UserAgent    string
	Timeout      time.Duration
	WaitSelector string
	SettleDelay  time.Duration
	HostQPS      float64
	ExecPath     string
}

// Chromedp renders pages in a single Chrome session driven by chromedp. The
// browser launches lazily on the first Render; a launch failure surfaces as
// *AdapterInitError on that and every later call.
type Chromedp struct {
	cfg    ChromedpConfig
	logger *zap.Logger

	mu              sync.Mutex
	started         bool
	startErr        error
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	hostLimiters sync.Map
}

// NewChromedp builds the adapter without launching the browser.
func NewChromedp(cfg ChromedpConfig, logger *zap.Logger) *Chromedp {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	return &Chromedp{cfg: cfg, logger: logger}
}

// Start launches the browser if it is not running yet.
func (r *Chromedp) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startLocked(ctx)
}

func (r *Chromedp) startLocked(ctx context.Context) error {
	if r.started {
		return r.startErr
	}
	r.started = true

	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", r.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if r.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.cfg.UserAgent))
	}
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}

	// The session outlives any single request context.
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		r.startErr = &AdapterInitError{Err: fmt.Errorf("launch browser: %w", err)}
		return r.startErr
	}

	r.allocatorCancel = allocatorCancel
	r.browserCtx = browserCtx
	r.browserCancel = browserCancel
	r.logger.Info("browser session started", zap.Bool("headless", r.cfg.Headless))
	return nil
}

// Close tears down the browser session. It is safe to call more than once and
// on an adapter that never started.
func (r *Chromedp) Close(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browserCancel != nil {
		r.browserCancel()
		r.browserCancel = nil
	}
	if r.allocatorCancel != nil {
		r.allocatorCancel()
		r.allocatorCancel = nil
	}
	if r.browserCtx != nil {
		r.logger.Info("browser session closed")
		r.browserCtx = nil
	}
	r.started = true
	if r.startErr == nil {
		r.startErr = &AdapterInitError{Err: errors.New("browser session closed")}
	}
	return nil
}

// Render navigates a fresh tab to rawURL and returns the DOM once the wait
// selector is ready.
func (r *Chromedp) Render(ctx context.Context, rawURL string) (*Document, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, &NavigationError{URL: rawURL, Attempts: 1, Err: err}
	}

	r.mu.Lock()
	if err := r.startLocked(ctx); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	browserCtx := r.browserCtx
	r.mu.Unlock()

	if err := r.waitHostBudget(ctx, rawURL); err != nil {
		return nil, &NavigationError{URL: rawURL, Attempts: 1, Err: err}
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.cfg.Timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := &responseMeta{}
	recordResponse(tabCtx, meta)

	start := time.Now()
	html, location, err := r.run(taskCtx, rawURL)
	if err != nil {
		if browserCtx.Err() != nil {
			return nil, &AdapterInitError{Err: fmt.Errorf("browser session lost: %w", err)}
		}
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("render timed out after %s: %w", r.cfg.Timeout, context.DeadlineExceeded)
		}
		return nil, &NavigationError{URL: rawURL, Attempts: 1, Err: err}
	}
	status := meta.statusCode()
	if status >= 400 {
		return nil, &NavigationError{URL: rawURL, Attempts: 1, Err: fmt.Errorf("status %d", status)}
	}

	finalURL := location
	if finalURL == "" {
		finalURL = meta.finalURL(rawURL)
	}
	return &Document{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: status,
		HTML:       []byte(html),
		Duration:   time.Since(start),
		UsedJS:     true,
	}, nil
}

func (r *Chromedp) run(ctx context.Context, rawURL string) (string, string, error) {
	var html, location string
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady(r.cfg.WaitSelector, chromedp.ByQuery),
	}
	if r.cfg.UserAgent != "" {
		tasks = append(chromedp.Tasks{emulation.SetUserAgentOverride(r.cfg.UserAgent)}, tasks...)
	}
	if r.cfg.SettleDelay > 0 {
		tasks = append(tasks, chromedp.Sleep(r.cfg.SettleDelay))
	}
	tasks = append(tasks,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, location, nil
}

func (r *Chromedp) waitHostBudget(ctx context.Context, rawURL string) error {
	if r.cfg.HostQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := r.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(r.cfg.HostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

type responseMeta struct {
	once   sync.Once
	mu     sync.Mutex
	status int
	url    string
}

func (m *responseMeta) statusCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *responseMeta) finalURL(raw string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.url == "" {
		return raw
	}
	return m.url
}

func recordResponse(tabCtx context.Context, meta *responseMeta) {
	chromedp.ListenTarget(tabCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.once.Do(func() {
			meta.mu.Lock()
			defer meta.mu.Unlock()
			meta.status = int(resp.Response.Status)
			meta.url = resp.Response.URL
		})
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" && parsed.Scheme != "file" {
		return fmt.Errorf("invalid url %q: unsupported scheme", rawURL)
	}
	if parsed.Scheme != "file" && parsed.Host == "" {
		return fmt.Errorf("invalid url %q: missing host", rawURL)
	}
	return nil
}
