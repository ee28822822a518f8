// Package discover walks a paginated directory index and yields the profile
// links it lists, in page order and then in-page order.
package discover

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-scraper/internal/profile"
	"github.com/JakeFAU/directory-scraper/internal/render"
)

const (
	defaultMaxPages                   = 1000
	defaultMaxConsecutivePageFailures = 3
)

// quoted strings in raw page source; candidates are filtered by the profile
// pattern afterwards.
var quotedValue = regexp.MustCompile(`["']([^"'\s<>]+)["']`)

// Config tunes link discovery and pagination.
type Config struct {
	// LinkSelector is the primary selector for profile anchors.
	LinkSelector string
	// FallbackSelectors are tried in order when LinkSelector finds nothing.
	FallbackSelectors []string
	// NextSelectors locate the page's own next link.
	NextSelectors []string
	// PageParam enables numbered pagination (?page=n) when no next link is
	// present. A failed page is skipped only while the walk is following the
	// numbered scheme.
	PageParam                  string
	MaxPages                   int
	MaxConsecutivePageFailures int
	// DisableSourceScan turns off the raw-source scan used as a last resort.
	DisableSourceScan bool
}

// DefaultConfig matches the Startup SG directory markup.
func DefaultConfig() Config {
	return Config{
		LinkSelector: `a[href*="/profiles/"]`,
		FallbackSelectors: []string{
			`[data-href*="/profiles/"]`,
			`.v-card a[href]`,
			`.profile-card a[href]`,
			`a[href]`,
		},
		NextSelectors: []string{
			`a[rel="next"]`,
			`.pagination a.next`,
			`.v-pagination__navigation--next`,
			`a[aria-label="Next page"]`,
		},
		PageParam:                  "page",
		MaxPages:                   defaultMaxPages,
		MaxConsecutivePageFailures: defaultMaxConsecutivePageFailures,
	}
}

// Link is one discovered profile.
type Link struct {
	URL       string
	ProfileID string
	Page      int
}

// PageError reports an index page that could not be rendered or parsed. It is
// yielded alongside an empty Link and does not end discovery by itself.
type PageError struct {
	URL  string
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("index page %d (%s): %v", e.Page, e.URL, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// Pacer admits requests at a minimum interval. Done marks the admitted
// request finished.
type Pacer interface {
	Wait(ctx context.Context) error
	Done()
}

// Paginator discovers profile links through a Renderer.
type Paginator struct {
	renderer render.Renderer
	ids      *profile.Identifier
	cfg      Config
	logger   *zap.Logger
}

// New builds a Paginator. Zero-valued bounds fall back to the defaults.
func New(renderer render.Renderer, ids *profile.Identifier, cfg Config, logger *zap.Logger) *Paginator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ids == nil {
		ids = profile.MustIdentifier("")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.MaxConsecutivePageFailures <= 0 {
		cfg.MaxConsecutivePageFailures = defaultMaxConsecutivePageFailures
	}
	return &Paginator{renderer: renderer, ids: ids, cfg: cfg, logger: logger}
}

// Discover returns a lazy sequence of profile links starting at baseURL. A
// limit <= 0 means no limit. The sequence can be ranged over once; later
// ranges yield nothing.
//
// Non-nil errors are either *PageError (discovery continues when it can) or a
// fatal renderer error, which is the last value yielded.
func (p *Paginator) Discover(ctx context.Context, baseURL string, limit int) iter.Seq2[Link, error] {
	return p.DiscoverPaced(ctx, baseURL, limit, nil)
}

// DiscoverPaced is Discover with every index-page render admitted through
// pacer, so listing and profile requests share one rate limit. A nil pacer
// admits renders immediately.
func (p *Paginator) DiscoverPaced(ctx context.Context, baseURL string, limit int, pacer Pacer) iter.Seq2[Link, error] {
	var consumed atomic.Bool
	return func(yield func(Link, error) bool) {
		if consumed.Swap(true) {
			return
		}
		w := &walk{
			p:       p,
			pacer:   pacer,
			baseURL: baseURL,
			limit:   limit,
			seen:    make(map[string]struct{}),
			visited: make(map[string]struct{}),
		}
		w.run(ctx, yield)
	}
}

type walk struct {
	p       *Paginator
	pacer   Pacer
	baseURL string
	limit   int
	yielded int
	seen    map[string]struct{}
	visited map[string]struct{}

	// numbered is set once the walk moved forward through the numbered
	// scheme; only then can a failed page be skipped by guessing page n+1.
	numbered bool
}

func (w *walk) run(ctx context.Context, yield func(Link, error) bool) {
	logger := w.p.logger
	pageURL := w.baseURL
	failures := 0

	for page := 1; page <= w.p.cfg.MaxPages; page++ {
		if ctx.Err() != nil {
			return
		}
		w.visited[pageKey(pageURL)] = struct{}{}

		links, next, err := w.fetch(ctx, pageURL)
		if err != nil {
			if render.IsFatal(err) {
				yield(Link{}, err)
				return
			}
			if ctx.Err() != nil {
				return
			}
			if !yield(Link{}, &PageError{URL: pageURL, Page: page, Err: err}) {
				return
			}
			failures++
			if !w.numbered || failures >= w.p.cfg.MaxConsecutivePageFailures {
				logger.Warn("pagination stopped after page failures",
					zap.Int("page", page),
					zap.Int("consecutive_failures", failures),
					zap.Bool("numbered", w.numbered),
				)
				return
			}
			pageURL = w.p.numberedURL(w.baseURL, page+1)
			continue
		}
		failures = 0

		fresh := 0
		for _, link := range links {
			id := w.p.ids.ID(link)
			if _, dup := w.seen[id]; dup {
				continue
			}
			w.seen[id] = struct{}{}
			fresh++
			if !yield(Link{URL: link, ProfileID: id, Page: page}, nil) {
				return
			}
			w.yielded++
			if w.limit > 0 && w.yielded >= w.limit {
				logger.Debug("discovery limit reached", zap.Int("limit", w.limit))
				return
			}
		}
		logger.Debug("index page processed",
			zap.Int("page", page),
			zap.Int("links", len(links)),
			zap.Int("new", fresh),
			zap.Int("total", w.yielded),
		)
		if fresh == 0 {
			return
		}

		numbered := w.p.numberedURL(w.baseURL, page+1)
		if next == "" {
			next = numbered
		}
		if next == "" {
			return
		}
		w.numbered = numbered != "" && pageKey(next) == pageKey(numbered)
		if _, again := w.visited[pageKey(next)]; again {
			logger.Debug("next page already visited", zap.String("url", next))
			return
		}
		pageURL = next
	}
	logger.Warn("pagination stopped at max pages", zap.Int("max_pages", w.p.cfg.MaxPages))
}

func (w *walk) fetch(ctx context.Context, pageURL string) ([]string, string, error) {
	if w.pacer == nil {
		return w.p.fetchPage(ctx, pageURL)
	}
	if err := w.pacer.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("wait for index page: %w", err)
	}
	defer w.pacer.Done()
	return w.p.fetchPage(ctx, pageURL)
}

// fetchPage renders one index page and returns its profile links in document
// order plus the resolved next-page URL, if the page has one.
func (p *Paginator) fetchPage(ctx context.Context, pageURL string) ([]string, string, error) {
	doc, err := p.renderer.Render(ctx, pageURL)
	if err != nil {
		return nil, "", err
	}
	q, err := doc.Query()
	if err != nil {
		return nil, "", err
	}
	base, err := url.Parse(doc.BaseURL())
	if err != nil {
		return nil, "", fmt.Errorf("parse page url: %w", err)
	}
	return p.ProfileLinks(q, doc.HTML, base), p.nextLink(q, base), nil
}

// ProfileLinks extracts absolute profile URLs from a parsed index page. The
// primary selector wins when it yields anything, then each fallback, then a
// scan of the raw source.
func (p *Paginator) ProfileLinks(q *goquery.Document, raw []byte, base *url.URL) []string {
	selectors := append([]string{p.cfg.LinkSelector}, p.cfg.FallbackSelectors...)
	for _, sel := range selectors {
		if strings.TrimSpace(sel) == "" {
			continue
		}
		var links []string
		q.Find(sel).Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok {
				href, ok = s.Attr("data-href")
			}
			if !ok {
				return
			}
			if abs := p.accept(base, href); abs != "" {
				links = append(links, abs)
			}
		})
		if len(links) > 0 {
			return links
		}
	}
	if p.cfg.DisableSourceScan {
		return nil
	}
	var links []string
	for _, m := range quotedValue.FindAllSubmatch(raw, -1) {
		if abs := p.accept(base, string(m[1])); abs != "" {
			links = append(links, abs)
		}
	}
	return links
}

func (p *Paginator) accept(base *url.URL, href string) string {
	abs := resolve(base, href)
	if abs == "" || !p.ids.Matches(abs) {
		return ""
	}
	return abs
}

func (p *Paginator) nextLink(q *goquery.Document, base *url.URL) string {
	for _, sel := range p.cfg.NextSelectors {
		var next string
		q.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if disabled(s) {
				return true
			}
			href, ok := s.Attr("href")
			if !ok {
				return true
			}
			next = resolve(base, href)
			return next == ""
		})
		if next != "" {
			return next
		}
	}
	return ""
}

// numberedURL sets the page parameter on baseURL. It returns "" when numbered
// pagination is off.
func (p *Paginator) numberedURL(baseURL string, page int) string {
	if p.cfg.PageParam == "" {
		return ""
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set(p.cfg.PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

func disabled(s *goquery.Selection) bool {
	if _, ok := s.Attr("disabled"); ok {
		return true
	}
	if v, _ := s.Attr("aria-disabled"); v == "true" {
		return true
	}
	class, _ := s.Attr("class")
	return strings.Contains(strings.ToLower(class), "disabled")
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" && abs.Scheme != "file" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

func pageKey(raw string) string {
	if n, err := profile.NormalizeURL(raw); err == nil {
		return n
	}
	return raw
}
