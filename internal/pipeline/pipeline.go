// Package pipeline drives a scrape run: it walks the discovered profile links
// in order, paces and renders each profile, extracts a record, and accumulates
// records and failures into a Result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-scraper/internal/clock/system"
	"github.com/JakeFAU/directory-scraper/internal/discover"
	iduuid "github.com/JakeFAU/directory-scraper/internal/id/uuid"
	"github.com/JakeFAU/directory-scraper/internal/profile"
	"github.com/JakeFAU/directory-scraper/internal/progress"
	"github.com/JakeFAU/directory-scraper/internal/render"
)

// Discoverer yields the profile links of a directory listing.
type Discoverer interface {
	Discover(ctx context.Context, baseURL string, limit int) iter.Seq2[discover.Link, error]
}

// PacedDiscoverer is a Discoverer whose index-page renders can go through the
// run's pacing gate.
type PacedDiscoverer interface {
	DiscoverPaced(ctx context.Context, baseURL string, limit int, pacer discover.Pacer) iter.Seq2[discover.Link, error]
}

// Extractor turns a rendered profile into a record.
type Extractor interface {
	Extract(doc *render.Document) (profile.Record, error)
}

// IDGenerator issues run identifiers.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Pipeline is the sequential scrape orchestrator. A Pipeline may run more than
// once, but not concurrently with itself.
type Pipeline struct {
	discoverer Discoverer
	renderer   render.Renderer
	extractor  Extractor
	emitter    progress.Emitter
	clock      Clock
	ids        IDGenerator
	logger     *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithEmitter routes progress events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.emitter = e
		}
	}
}

// WithClock replaces the wall clock used for pacing and timestamps.
func WithClock(c Clock) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithIDGenerator replaces the run id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Pipeline) {
		if g != nil {
			p.ids = g
		}
	}
}

// New wires a Pipeline. The renderer should already carry its retry policy.
func New(d Discoverer, r render.Renderer, e Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		discoverer: d,
		renderer:   r,
		extractor:  e,
		emitter:    progress.Discard,
		clock:      system.New(),
		ids:        iduuid.New(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type run struct {
	*Pipeline
	result Result
	gate   *Gate
	seen   map[string]string
}

// Run scrapes up to limit profiles (limit <= 0 means all) starting at
// baseURL, waiting at least delay between consecutive renders. Index pages
// share the gate when the discoverer implements PacedDiscoverer.
//
// The returned Result is always usable. The error is non-nil when the run was
// aborted by an unrecoverable renderer failure or by ctx; in both cases the
// Result holds everything completed before the abort.
func (p *Pipeline) Run(ctx context.Context, baseURL string, limit int, delay time.Duration) (Result, error) {
	runID, err := p.ids.NewRawID()
	if err != nil {
		return Result{}, fmt.Errorf("start run: %w", err)
	}
	r := &run{
		Pipeline: p,
		result: Result{
			RunID:     runID,
			Records:   []profile.Record{},
			Failures:  []Failure{},
			StartedAt: p.clock.Now(),
		},
		gate: NewGate(delay, p.clock),
		seen: make(map[string]string),
	}
	logger := p.logger.With(zap.String("run_id", runID.String()))
	logger.Info("scrape started",
		zap.String("base_url", baseURL),
		zap.Int("limit", limit),
		zap.Duration("delay", delay),
	)
	r.emit(progress.Event{Stage: progress.StageRunStart, URL: baseURL})

	runErr := r.loop(ctx, logger, baseURL, limit)
	r.result.FinishedAt = p.clock.Now()

	fields := []zap.Field{
		zap.Int("succeeded", r.result.Succeeded()),
		zap.Int("failed", r.result.Failed()),
		zap.Int("discovered", r.result.Discovered),
		zap.Int("page_failures", r.result.PageFailures()),
		zap.Duration("elapsed", r.result.Duration()),
	}
	if runErr != nil {
		logger.Error("scrape aborted", append(fields, zap.Error(runErr))...)
		r.emit(progress.Event{Stage: progress.StageRunError, Dur: r.result.Duration(), Note: runErr.Error()})
		return r.result, runErr
	}
	logger.Info("scrape finished", fields...)
	r.emit(progress.Event{Stage: progress.StageRunDone, Dur: r.result.Duration()})
	return r.result, nil
}

func (r *run) links(ctx context.Context, baseURL string, limit int) iter.Seq2[discover.Link, error] {
	if pd, ok := r.discoverer.(PacedDiscoverer); ok {
		return pd.DiscoverPaced(ctx, baseURL, limit, r.gate)
	}
	return r.discoverer.Discover(ctx, baseURL, limit)
}

func (r *run) loop(ctx context.Context, logger *zap.Logger, baseURL string, limit int) error {
	for link, err := range r.links(ctx, baseURL, limit) {
		if err != nil {
			if render.IsFatal(err) {
				return fmt.Errorf("scrape aborted: %w", err)
			}
			var pageErr *discover.PageError
			if errors.As(err, &pageErr) {
				logger.Warn("index page skipped", zap.String("url", pageErr.URL), zap.Int("page", pageErr.Page), zap.Error(pageErr.Err))
				r.result.Failures = append(r.result.Failures, Failure{URL: pageErr.URL, Kind: KindPage, Reason: pageErr.Err.Error()})
				r.emit(progress.Event{Stage: progress.StagePageFailed, URL: pageErr.URL, Note: pageErr.Err.Error()})
				continue
			}
			if ctx.Err() != nil {
				return fmt.Errorf("scrape cancelled: %w", ctx.Err())
			}
			return fmt.Errorf("discover profiles: %w", err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("scrape cancelled: %w", ctx.Err())
		}
		r.result.Discovered++
		if err := r.profile(ctx, logger, link); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("scrape cancelled: %w", ctx.Err())
	}
	return nil
}

// profile handles one link. Only abort conditions are returned; per-profile
// failures are recorded on the result.
func (r *run) profile(ctx context.Context, logger *zap.Logger, link discover.Link) error {
	if err := r.gate.Wait(ctx); err != nil {
		return fmt.Errorf("scrape cancelled: %w", err)
	}
	start := r.clock.Now()
	doc, err := r.renderer.Render(ctx, link.URL)
	r.gate.Done()
	dur := r.clock.Now().Sub(start)
	if dur < 0 {
		dur = 0
	}

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("scrape cancelled: %w", ctx.Err())
		}
		if render.IsFatal(err) {
			return fmt.Errorf("scrape aborted: %w", err)
		}
		attempts := 1
		var navErr *render.NavigationError
		if errors.As(err, &navErr) && navErr.Attempts > 0 {
			attempts = navErr.Attempts
		}
		logger.Warn("profile render failed", zap.String("url", link.URL), zap.Int("attempts", attempts), zap.Error(err))
		r.fail(Failure{URL: link.URL, Kind: KindNavigation, Reason: err.Error(), Attempts: attempts}, link, dur)
		return nil
	}

	rec, err := r.extractor.Extract(doc)
	if err != nil {
		logger.Warn("profile extraction failed", zap.String("url", link.URL), zap.Error(err))
		r.fail(Failure{URL: link.URL, Kind: KindExtraction, Reason: extractionReason(err)}, link, dur)
		return nil
	}

	if first, ok := r.seen[rec.ProfileID]; ok {
		dup := &profile.DuplicateError{ProfileID: rec.ProfileID, URL: link.URL, FirstURL: first}
		logger.Warn("duplicate profile dropped", zap.String("profile_id", rec.ProfileID), zap.String("url", link.URL), zap.String("first_url", first))
		r.fail(Failure{URL: link.URL, Kind: KindDuplicate, Reason: dup.Error()}, link, dur)
		return nil
	}
	r.seen[rec.ProfileID] = link.URL
	r.result.Records = append(r.result.Records, rec)
	logger.Debug("profile extracted", zap.String("url", link.URL), zap.String("profile_id", rec.ProfileID), zap.Duration("render", dur))
	r.emit(progress.Event{
		Stage:     progress.StageProfileDone,
		URL:       link.URL,
		ProfileID: rec.ProfileID,
		Dur:       dur,
		Attempts:  1,
	})
	return nil
}

func (r *run) fail(f Failure, link discover.Link, dur time.Duration) {
	r.result.Failures = append(r.result.Failures, f)
	r.emit(progress.Event{
		Stage:     progress.StageProfileFailed,
		URL:       link.URL,
		ProfileID: link.ProfileID,
		Kind:      string(f.Kind),
		Attempts:  f.Attempts,
		Dur:       dur,
		Note:      f.Reason,
	})
}

func (r *run) emit(evt progress.Event) {
	evt.RunID = r.result.RunID
	evt.TS = r.clock.Now()
	evt.Succeeded = r.result.Succeeded()
	evt.Failed = r.result.Failed()
	r.emitter.Emit(evt)
}

func extractionReason(err error) string {
	var extractErr *profile.ExtractionError
	if errors.As(err, &extractErr) {
		return extractErr.Reason
	}
	return err.Error()
}
