package render

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// ShellDetector decides whether a statically fetched page is a script shell
// whose content only appears after JavaScript runs.
type ShellDetector interface {
	NeedsBrowser(doc *Document) bool
}

// Heuristic flags empty bodies, known single-page-app mount points, and short
// pages dominated by inline scripts.
type Heuristic struct {
	// ShortBody is the size below which script density is checked.
	ShortBody int
	// ScriptPercent is the share of a short body covered by script elements
	// that marks it as a shell.
	ScriptPercent int
}

// NewHeuristic returns a Heuristic; zero values fall back to 2KiB and 25%.
func NewHeuristic(shortBody, scriptPercent int) *Heuristic {
	if shortBody <= 0 {
		shortBody = 2048
	}
	if scriptPercent <= 0 {
		scriptPercent = 25
	}
	return &Heuristic{ShortBody: shortBody, ScriptPercent: scriptPercent}
}

var shellMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// NeedsBrowser implements ShellDetector. Non-200 documents are never
// promoted.
func (h *Heuristic) NeedsBrowser(doc *Document) bool {
	if doc == nil || doc.StatusCode != http.StatusOK {
		return false
	}
	body := bytes.TrimSpace(doc.HTML)
	if len(body) == 0 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return len(body) < h.ShortBody && scriptCoverage(body)*100/len(body) >= h.ScriptPercent
}

// scriptCoverage counts the bytes inside <script> elements. An unclosed tag
// covers the rest of the body.
func scriptCoverage(body []byte) int {
	lower := bytes.ToLower(body)
	open, closing := []byte("<script"), []byte("</script>")
	covered, pos := 0, 0
	for pos < len(lower) {
		i := bytes.Index(lower[pos:], open)
		if i < 0 {
			break
		}
		start := pos + i
		end := len(lower)
		if j := bytes.Index(lower[start:], closing); j >= 0 {
			end = start + j + len(closing)
		}
		covered += end - start
		pos = end
	}
	return covered
}

// Auto fetches each page statically and re-renders it in the browser only
// when the detector flags the static copy as a shell. Once a page needs the
// browser, the rest of the run goes straight to it.
type Auto struct {
	static   Renderer
	browser  Renderer
	detector ShellDetector
	logger   *zap.Logger
	sticky   bool
}

// NewAuto builds an Auto renderer. A nil detector uses NewHeuristic(0, 0).
func NewAuto(static, browser Renderer, detector ShellDetector, logger *zap.Logger) *Auto {
	if detector == nil {
		detector = NewHeuristic(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auto{static: static, browser: browser, detector: detector, logger: logger}
}

// Render implements Renderer.
func (a *Auto) Render(ctx context.Context, rawURL string) (*Document, error) {
	if a.sticky {
		return a.browser.Render(ctx, rawURL)
	}
	doc, err := a.static.Render(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !a.detector.NeedsBrowser(doc) {
		return doc, nil
	}
	a.logger.Info("page needs javascript; switching to browser", zap.String("url", rawURL))
	a.sticky = true
	return a.browser.Render(ctx, rawURL)
}

// Close releases both underlying renderers.
func (a *Auto) Close(ctx context.Context) error {
	return errors.Join(a.static.Close(ctx), a.browser.Close(ctx))
}
