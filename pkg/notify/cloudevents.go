/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package notify publishes the outcome of status update runs.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/chainguard-dev/github-update-status/pkg/githubstatus"
	"github.com/chainguard-dev/github-update-status/pkg/httpmetrics"
)

// EventType is the type of the event sent for every status update.
const EventType = "dev.chainguard.github.commit_status"

const (
	retryDelay = 10 * time.Millisecond
	maxRetry   = 3
)

// Notifier is told about every finished run.
type Notifier interface {
	Notify(ctx context.Context, target string, out *githubstatus.Outcome) error
}

// CloudEvents sends one event per status update to a CloudEvents sink.
type CloudEvents struct {
	client cloudevents.Client
	source string
	clock  clockwork.Clock
}

var _ Notifier = (*CloudEvents)(nil)

// Option configures CloudEvents.
type Option func(*CloudEvents)

// WithClock sets the clock used for the "when" of each event.
func WithClock(c clockwork.Clock) Option {
	return func(ce *CloudEvents) { ce.clock = c }
}

// NewCloudEvents returns a notifier sending to sink. Events carry source as
// their source attribute.
func NewCloudEvents(sink, source string, opts ...Option) (*CloudEvents, error) {
	// Without a client of our own, NewClientHTTP uses http.DefaultClient and
	// may replace its Transport.
	metricsClient := http.Client{
		Transport: httpmetrics.WrapTransport(http.DefaultTransport),
	}
	c, err := cloudevents.NewClientHTTP(
		cehttp.WithClient(metricsClient),
		cehttp.WithTarget(sink),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cloudevents client: %w", err)
	}
	ce := &CloudEvents{
		client: c,
		source: source,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(ce)
	}
	return ce, nil
}

type statusEvent struct {
	When        time.Time `json:"when"`
	Target      string    `json:"target,omitempty"`
	Owner       string    `json:"owner"`
	Repo        string    `json:"repo"`
	CommitSHA   string    `json:"commit_sha"`
	Index       int       `json:"index"`
	State       string    `json:"state,omitempty"`
	Context     string    `json:"context,omitempty"`
	TargetURL   string    `json:"target_url,omitempty"`
	Description string    `json:"description,omitempty"`
	Result      string    `json:"result"`
	Error       string    `json:"error,omitempty"`
	ElapsedMS   int64     `json:"elapsed_ms"`
}

// Notify implements Notifier. Runs that stopped on a configuration error sent
// nothing, so nothing is published for them.
func (ce *CloudEvents) Notify(ctx context.Context, target string, out *githubstatus.Outcome) error {
	if out.Err != nil {
		return nil
	}
	log := clog.FromContext(ctx)
	rctx := cloudevents.ContextWithRetriesExponentialBackoff(context.WithoutCancel(ctx), retryDelay, maxRetry)

	var failed int
	for _, r := range out.Results {
		event := cloudevents.NewEvent()
		event.SetID(uuid.NewString())
		event.SetType(EventType)
		event.SetSource(ce.source)
		event.SetSubject(fmt.Sprintf("%s/%s@%s", out.Owner, out.Repo, out.CommitSHA))

		data := statusEvent{
			When:      ce.clock.Now(),
			Target:    target,
			Owner:     out.Owner,
			Repo:      out.Repo,
			CommitSHA: out.CommitSHA,
			Index:     r.Index,
			State:     r.State,
			Context:   r.Context,
			Result:    result(r),
			ElapsedMS: r.Elapsed.Milliseconds(),
		}
		if r.Status != nil {
			data.TargetURL = r.Status.GetTargetURL()
			data.Description = r.Status.GetDescription()
		}
		if r.Err != nil {
			data.Error = r.Err.Error()
		}
		// CloudEvents extension names are limited to [a-z0-9].
		event.SetExtension("result", data.Result)
		if data.State != "" {
			event.SetExtension("state", data.State)
		}

		if err := event.SetData(cloudevents.ApplicationJSON, data); err != nil {
			return fmt.Errorf("setting event data: %w", err)
		}
		if ceresult := ce.client.Send(rctx, event); cloudevents.IsUndelivered(ceresult) || cloudevents.IsNACK(ceresult) {
			log.Errorf("Failed to deliver event for update %d: %v", r.Index, ceresult)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d events were not delivered", failed, len(out.Results))
	}
	return nil
}

func result(r githubstatus.Result) string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Err != nil:
		return "failed"
	default:
		return "sent"
	}
}
