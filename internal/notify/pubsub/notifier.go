// Package pubsub publishes a run summary to a Google Cloud Pub/Sub topic once
// the sinks have run, so downstream jobs can react to fresh exports.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/directory-scraper/internal/pipeline"
	"github.com/JakeFAU/directory-scraper/internal/sink"
)

// Outcome values carried in the summary and the message attributes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomePartial   = "partial"
	OutcomeAborted   = "aborted"
)

// SinkStatus reports one sink's delivery.
type SinkStatus struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// Summary is the message payload.
type Summary struct {
	RunID        uuid.UUID    `json:"run_id"`
	BaseURL      string       `json:"base_url"`
	Outcome      string       `json:"outcome"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	Discovered   int          `json:"discovered"`
	Succeeded    int          `json:"succeeded"`
	Failed       int          `json:"failed"`
	PageFailures int          `json:"page_failures"`
	Error        string       `json:"error,omitempty"`
	Sinks        []SinkStatus `json:"sinks"`
}

// NewSummary condenses a run. sinks lists every configured sink in order;
// failures are matched to them by name.
func NewSummary(baseURL string, res pipeline.Result, runErr error, sinks []string, failures []*sink.Error) Summary {
	failed := make(map[string]string, len(failures))
	for _, f := range failures {
		failed[f.Sink] = f.Err.Error()
	}
	s := Summary{
		RunID:        res.RunID,
		BaseURL:      baseURL,
		Outcome:      OutcomeSucceeded,
		StartedAt:    res.StartedAt,
		FinishedAt:   res.FinishedAt,
		Discovered:   res.Discovered,
		Succeeded:    res.Succeeded(),
		Failed:       res.Failed(),
		PageFailures: res.PageFailures(),
		Sinks:        make([]SinkStatus, 0, len(sinks)),
	}
	for _, name := range sinks {
		s.Sinks = append(s.Sinks, SinkStatus{Name: name, Error: failed[name]})
	}
	switch {
	case runErr != nil:
		s.Outcome = OutcomeAborted
		s.Error = runErr.Error()
	case s.Failed > 0 || s.PageFailures > 0 || len(failures) > 0:
		s.Outcome = OutcomePartial
	}
	return s
}

// Notifier publishes summaries to one topic.
type Notifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	owned  bool
	logger *zap.Logger
}

// New connects with Application Default Credentials (or opts) and checks the
// topic exists.
func New(ctx context.Context, projectID, topicID string, logger *zap.Logger, opts ...option.ClientOption) (*Notifier, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.New("pubsub project id and topic id are required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	n, err := NewWithClient(ctx, client, topicID, logger)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil && logger != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, err
	}
	n.owned = true
	return n, nil
}

// NewWithClient uses an existing client and checks the topic exists.
func NewWithClient(ctx context.Context, client *pubsub.Client, topicID string, logger *zap.Logger) (*Notifier, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %q does not exist", topicID)
	}
	return &Notifier{client: client, topic: topic, logger: logger}, nil
}

// Publish sends the summary and waits for the server id.
func (n *Notifier) Publish(ctx context.Context, s Summary) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id":    s.RunID.String(),
			"outcome":   s.Outcome,
			"succeeded": strconv.Itoa(s.Succeeded),
		},
	}
	id, err := n.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish run summary: %w", err)
	}
	n.logger.Info("run summary published", zap.String("message_id", id), zap.String("outcome", s.Outcome))
	return id, nil
}

// Close flushes pending messages and releases the client when New created it.
func (n *Notifier) Close() error {
	n.topic.Stop()
	if !n.owned {
		return nil
	}
	if err := n.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
