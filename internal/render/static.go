package render

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// StaticConfig controls the colly-backed adapter.
type StaticConfig struct {
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
	Headers       http.Header
}

// Static renders pages with a plain HTTP GET through colly. It does not run
// JavaScript, so it only suits directories that serve their markup directly.
type Static struct {
	cfg           StaticConfig
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewStatic builds a Static renderer.
func NewStatic(cfg StaticConfig, logger *zap.Logger) *Static {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	// Retries revisit the same URL.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(newHTTPTransport())
	return &Static{cfg: cfg, logger: logger, baseCollector: c}
}

// Render fetches rawURL and returns its body as the document.
func (s *Static) Render(ctx context.Context, rawURL string) (*Document, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, &NavigationError{URL: rawURL, Attempts: 1, Err: err}
	}
	var (
		doc      *Document
		fetchErr error
	)
	collector := s.baseCollector.Clone()
	s.configureHooks(collector, time.Now(), &doc, &fetchErr)

	if err := runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return nil, &NavigationError{URL: rawURL, Attempts: 1, Err: err}
	}
	if doc == nil {
		return nil, &NavigationError{URL: rawURL, Attempts: 1, Err: fmt.Errorf("no response")}
	}
	doc.URL = rawURL
	s.logger.Debug("static render complete",
		zap.String("url", rawURL),
		zap.Int("status", doc.StatusCode),
		zap.Duration("duration", doc.Duration),
	)
	return doc, nil
}

// Close is a no-op; the HTTP transport has no session to release.
func (s *Static) Close(context.Context) error { return nil }

func (s *Static) configureHooks(hooks collectorHooks, start time.Time, doc **Document, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range s.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*doc = &Document{
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			HTML:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
