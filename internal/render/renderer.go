// Package render turns URLs into fully rendered HTML documents. It hides the
// browser (or plain HTTP) machinery behind the Renderer interface so the
// discovery and extraction stages stay pure.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Renderer returns the document for a URL after any client-side scripts ran.
// Implementations own a single session and are not required to support
// concurrent calls.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (*Document, error)
	Close(ctx context.Context) error
}

// Document is a rendered page snapshot.
type Document struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       []byte
	Duration   time.Duration
	UsedJS     bool
}

// BaseURL is the address relative links resolve against.
func (d *Document) BaseURL() string {
	if d.FinalURL != "" {
		return d.FinalURL
	}
	return d.URL
}

// Query parses the HTML into a goquery document.
func (d *Document) Query() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(d.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse html for %s: %w", d.URL, err)
	}
	return doc, nil
}

// NavigationError reports a page that could not be rendered: timeouts,
// network failures, bad status codes, or invalid URLs.
type NavigationError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NavigationError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("navigate %s (after %d attempts): %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// Timeout reports whether the render ran out of time.
func (e *NavigationError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// AdapterInitError reports a renderer that cannot serve any request, such as
// a browser that failed to launch. Callers treat it as fatal.
type AdapterInitError struct {
	Err error
}

func (e *AdapterInitError) Error() string {
	return fmt.Sprintf("renderer unavailable: %v", e.Err)
}

func (e *AdapterInitError) Unwrap() error { return e.Err }

// IsFatal reports whether err means the renderer itself is unusable.
func IsFatal(err error) bool {
	var initErr *AdapterInitError
	return errors.As(err, &initErr)
}
