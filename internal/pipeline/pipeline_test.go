package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/directory-scraper/internal/discover"
	"github.com/JakeFAU/directory-scraper/internal/extract"
	"github.com/JakeFAU/directory-scraper/internal/profile"
	"github.com/JakeFAU/directory-scraper/internal/progress"
	"github.com/JakeFAU/directory-scraper/internal/render"
	"github.com/JakeFAU/directory-scraper/internal/retry"
)

const base = "https://dir.example.com/startups"

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// site serves index pages and profiles from memory.
type site struct {
	mu      sync.Mutex
	pages   map[string]string
	errs    map[string]error
	calls   []string
	clock   *fakeClock
	latency time.Duration
	hook    func(rawURL string)
}

func newSite() *site {
	return &site{pages: map[string]string{}, errs: map[string]error{}}
}

func (s *site) Render(_ context.Context, rawURL string) (*render.Document, error) {
	s.mu.Lock()
	s.calls = append(s.calls, rawURL)
	err, failing := s.errs[rawURL]
	html, ok := s.pages[rawURL]
	hook := s.hook
	s.mu.Unlock()

	if s.clock != nil && s.latency > 0 {
		s.clock.Advance(s.latency)
	}
	if hook != nil {
		hook(rawURL)
	}
	if failing {
		return nil, err
	}
	if !ok {
		html = "<html><body></body></html>"
	}
	return &render.Document{URL: rawURL, FinalURL: rawURL, StatusCode: 200, HTML: []byte(html)}, nil
}

func (s *site) Close(context.Context) error { return nil }

func (s *site) profileCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		if strings.Contains(c, "/profiles/") {
			out = append(out, c)
		}
	}
	return out
}

func (s *site) addProfile(id int) string {
	u := profileURL(id)
	s.pages[u] = fmt.Sprintf(`<html><body><h1>Company %d</h1><p class="description">Builds things.</p></body></html>`, id)
	return u
}

func profileURL(id int) string {
	return fmt.Sprintf("https://dir.example.com/profiles/%d", id)
}

func listing(ids ...int) string {
	var b strings.Builder
	b.WriteString(`<html><body>`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<a href="/profiles/%d">Company %d</a>`, id, id)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

// linkList is a Discoverer over a fixed sequence.
type linkList []any

func (l linkList) Discover(ctx context.Context, _ string, _ int) iter.Seq2[discover.Link, error] {
	return func(yield func(discover.Link, error) bool) {
		for _, item := range l {
			var ok bool
			switch v := item.(type) {
			case string:
				ok = yield(discover.Link{URL: v, Page: 1}, nil)
			case error:
				ok = yield(discover.Link{}, v)
			}
			if !ok || ctx.Err() != nil {
				return
			}
		}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

func noSleep(context.Context, time.Duration) error { return nil }

func retrying(r render.Renderer) render.Renderer {
	return render.NewRetrying(r, retry.Config{MaxAttempts: 3}, nil, []retry.Option{retry.WithSleep(noSleep)})
}

func newPipeline(d Discoverer, r render.Renderer, opts ...Option) *Pipeline {
	return New(d, r, extract.New(nil, extract.DefaultRules()), append([]Option{WithClock(newFakeClock())}, opts...)...)
}

func TestRunRecordsTimeoutAndContinues(t *testing.T) {
	t.Parallel()

	s := newSite()
	links := linkList{}
	for id := 1; id <= 5; id++ {
		links = append(links, s.addProfile(id))
	}
	s.errs[profileURL(3)] = fmt.Errorf("render timed out after 30s: %w", context.DeadlineExceeded)

	res, err := newPipeline(links, retrying(s)).Run(context.Background(), base, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Succeeded())
	assert.Equal(t, 1, res.Failed())
	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, profileURL(3), f.URL)
	assert.Equal(t, KindNavigation, f.Kind)
	assert.Equal(t, 3, f.Attempts)
	assert.Contains(t, f.Reason, "timed out")
	assert.Len(t, s.profileCalls(), 7, "the failing profile is tried three times")

	ids := make([]string, 0, len(res.Records))
	for _, rec := range res.Records {
		ids = append(ids, rec.ProfileID)
	}
	assert.Equal(t, []string{"1", "2", "4", "5"}, ids)
	assert.Equal(t, 5, res.Discovered)
}

func TestRunHonorsLimitWithPaginator(t *testing.T) {
	t.Parallel()

	s := newSite()
	s.pages[base] = listing(1, 2, 3, 4, 5)
	for id := 1; id <= 5; id++ {
		s.addProfile(id)
	}
	pager := discover.New(s, nil, discover.DefaultConfig(), nil)

	res, err := newPipeline(pager, s).Run(context.Background(), base, 3, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Succeeded())
	assert.Equal(t, []string{profileURL(1), profileURL(2), profileURL(3)}, s.profileCalls())
}

func TestRunWalksEveryListingPage(t *testing.T) {
	t.Parallel()

	s := newSite()
	s.pages[base] = listing(1, 2, 3, 4, 5)
	s.pages[base+"?page=2"] = listing(6, 7, 8)
	s.pages[base+"?page=3"] = listing()
	for id := 1; id <= 8; id++ {
		s.addProfile(id)
	}
	pager := discover.New(s, nil, discover.DefaultConfig(), nil)

	res, err := newPipeline(pager, s).Run(context.Background(), base, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 8, res.Succeeded())
	assert.Equal(t, 0, res.Failed())
	assert.Len(t, s.profileCalls(), 8)
	assert.Equal(t, "Company 8", res.Records[7].CompanyName)
}

func TestRunRecordsSkippedIndexPage(t *testing.T) {
	t.Parallel()

	s := newSite()
	s.pages[base] = listing(1, 2)
	s.errs[base+"?page=2"] = errors.New("status 503")
	s.pages[base+"?page=3"] = listing(3)
	for id := 1; id <= 3; id++ {
		s.addProfile(id)
	}
	pager := discover.New(s, nil, discover.DefaultConfig(), nil)
	rec := &recorder{}

	res, err := newPipeline(pager, s, WithEmitter(rec)).Run(context.Background(), base, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Succeeded())
	assert.Equal(t, 0, res.Failed())
	assert.Equal(t, 1, res.PageFailures())
	assert.Equal(t, KindPage, res.Failures[0].Kind)
	assert.Contains(t, rec.stages(), progress.StagePageFailed)
}

func TestRunDropsDuplicateProfiles(t *testing.T) {
	t.Parallel()

	s := newSite()
	first := s.addProfile(7)
	again := first + "?tab=team"
	s.pages[again] = s.pages[first]
	core, logs := observer.New(zap.WarnLevel)

	res, err := newPipeline(linkList{first, again}, s, WithLogger(zap.New(core))).Run(context.Background(), base, 0, 0)
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, first, res.Records[0].URL)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, KindDuplicate, res.Failures[0].Kind)
	assert.Equal(t, again, res.Failures[0].URL)
	assert.Equal(t, 1, logs.FilterMessage("duplicate profile dropped").Len())
}

func TestRunRecordsExtractionFailure(t *testing.T) {
	t.Parallel()

	s := newSite()
	good := s.addProfile(1)
	bad := profileURL(2)
	s.pages[bad] = `<html><body><div>no headline here</div></body></html>`

	res, err := newPipeline(linkList{good, bad}, s).Run(context.Background(), base, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Succeeded())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, KindExtraction, res.Failures[0].Kind)
	assert.Equal(t, profile.ReasonMissingRequired, res.Failures[0].Reason)
}

func TestRunAbortsOnAdapterFailure(t *testing.T) {
	t.Parallel()

	s := newSite()
	links := linkList{s.addProfile(1), s.addProfile(2), s.addProfile(3), s.addProfile(4)}
	s.errs[profileURL(3)] = &render.AdapterInitError{Err: errors.New("browser session lost")}
	rec := &recorder{}

	res, err := newPipeline(links, retrying(s), WithEmitter(rec)).Run(context.Background(), base, 0, 0)
	require.Error(t, err)

	var initErr *render.AdapterInitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, 2, res.Succeeded())
	assert.Empty(t, res.Failures)
	assert.Equal(t, []string{profileURL(1), profileURL(2), profileURL(3)}, s.profileCalls(), "fatal errors are not retried")
	assert.False(t, res.FinishedAt.IsZero())

	stages := rec.stages()
	assert.Equal(t, progress.StageRunError, stages[len(stages)-1])
}

func TestRunAbortsOnFatalDiscoveryError(t *testing.T) {
	t.Parallel()

	s := newSite()
	links := linkList{s.addProfile(1), &render.AdapterInitError{Err: errors.New("launch browser")}, s.addProfile(2)}

	res, err := newPipeline(links, s).Run(context.Background(), base, 0, 0)
	require.Error(t, err)
	assert.True(t, render.IsFatal(errors.Unwrap(err)))
	assert.Equal(t, 1, res.Succeeded())
}

func TestRunStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newSite()
	links := linkList{s.addProfile(1), s.addProfile(2), s.addProfile(3), s.addProfile(4)}
	s.hook = func(rawURL string) {
		if rawURL == profileURL(2) {
			cancel()
		}
	}

	res, err := newPipeline(links, s).Run(ctx, base, 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, res.Succeeded())
	assert.Empty(t, res.Failures)
	assert.Equal(t, []string{profileURL(1), profileURL(2)}, s.profileCalls())
}

func TestRunPacesProfileRenders(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newSite()
	s.clock = clk
	s.latency = time.Second
	links := linkList{s.addProfile(1), s.addProfile(2), s.addProfile(3)}

	res, err := New(links, s, extract.New(nil, extract.DefaultRules()), WithClock(clk)).
		Run(context.Background(), base, 0, 2*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Succeeded())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clk.Sleeps())
	assert.Equal(t, 7*time.Second, res.Duration())
}

func TestRunPacesIndexPagesWithProfiles(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newSite()
	s.clock = clk
	s.latency = time.Second
	s.pages[base] = listing(1, 2)
	s.addProfile(1)
	s.addProfile(2)
	pager := discover.New(s, nil, discover.DefaultConfig(), nil)

	res, err := New(pager, s, extract.New(nil, extract.DefaultRules()), WithClock(clk)).
		Run(context.Background(), base, 0, 2*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Succeeded())
	assert.Equal(t, []string{base, profileURL(1), profileURL(2), base + "?page=2"}, s.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, clk.Sleeps())
}

func TestRunEmitsProgress(t *testing.T) {
	t.Parallel()

	s := newSite()
	links := linkList{s.addProfile(1), profileURL(9), s.addProfile(2)}
	s.errs[profileURL(9)] = errors.New("status 404")
	rec := &recorder{}

	res, err := newPipeline(links, s, WithEmitter(rec)).Run(context.Background(), base, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, []progress.Stage{
		progress.StageRunStart,
		progress.StageProfileDone,
		progress.StageProfileFailed,
		progress.StageProfileDone,
		progress.StageRunDone,
	}, rec.stages())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, evt := range rec.events {
		require.NoError(t, evt.Validate())
		assert.Equal(t, res.RunID, evt.RunID)
		assert.NotEqual(t, uuid.Nil, evt.RunID)
	}
	failed := rec.events[2]
	assert.Equal(t, "navigation", failed.Kind)
	assert.Equal(t, 1, failed.Succeeded)
	assert.Equal(t, 1, failed.Failed)
	last := rec.events[4]
	assert.Equal(t, 2, last.Succeeded)
	assert.Equal(t, 1, last.Failed)
}

func TestGateEnforcesInterval(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	g := NewGate(500*time.Millisecond, clk)
	ctx := context.Background()

	require.NoError(t, g.Wait(ctx))
	g.Done()
	clk.Advance(200 * time.Millisecond)
	require.NoError(t, g.Wait(ctx))
	g.Done()
	clk.Advance(time.Second)
	require.NoError(t, g.Wait(ctx))

	assert.Equal(t, []time.Duration{300 * time.Millisecond}, clk.Sleeps())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, g.Wait(cancelled), context.Canceled)
}

func TestResultCounts(t *testing.T) {
	t.Parallel()

	r := Result{
		Records: []profile.Record{{ProfileID: "1"}},
		Failures: []Failure{
			{Kind: KindNavigation},
			{Kind: KindPage},
			{Kind: KindDuplicate},
		},
	}
	assert.Equal(t, 1, r.Succeeded())
	assert.Equal(t, 2, r.Failed())
	assert.Equal(t, 1, r.PageFailures())
	assert.Equal(t, time.Duration(0), r.Duration())
}
