package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/directory-scraper/internal/progress"
)

// PrometheusSink exports scrape progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	profiles       *prometheus.CounterVec
	pageFailures   prometheus.Counter
	renderDuration prometheus.Histogram
	renderAttempts prometheus.Histogram

	tracker *runSet
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_runs_started_total",
			Help: "Scrape runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_runs_completed_total",
			Help: "Scrape runs completed partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_runs_active",
			Help: "Scrape runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"result"}),
		profiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_profiles_total",
			Help: "Profiles processed partitioned by outcome (success or failure kind).",
		}, []string{"outcome"}),
		pageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_index_page_failures_total",
			Help: "Index pages skipped because they failed to render.",
		}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_profile_render_seconds",
			Help:    "Render latency of successfully extracted profiles.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		renderAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_profile_render_attempts",
			Help:    "Render attempts spent per profile.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		tracker: newRunSet(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.profiles,
		s.pageFailures,
		s.renderDuration,
		s.renderAttempts,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
	case progress.StageRunDone:
		s.finishRun(evt, "success")
	case progress.StageRunError:
		s.finishRun(evt, "error")
	case progress.StageProfileDone:
		s.profiles.WithLabelValues("success").Inc()
		if evt.Dur > 0 {
			s.renderDuration.Observe(evt.Dur.Seconds())
		}
		s.observeAttempts(evt)
	case progress.StageProfileFailed:
		s.profiles.WithLabelValues(evt.Kind).Inc()
		s.observeAttempts(evt)
	case progress.StagePageFailed:
		s.pageFailures.Inc()
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsActive.Dec()
	}
}

func (s *PrometheusSink) observeAttempts(evt progress.Event) {
	if evt.Attempts > 0 {
		s.renderAttempts.Observe(float64(evt.Attempts))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runSet struct {
	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

func newRunSet() *runSet {
	return &runSet{running: make(map[uuid.UUID]struct{})}
}

func (t *runSet) start(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runSet) complete(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
