/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubstatus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-envconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/chainguard-dev/github-update-status/pkg/gitcommit"
	"github.com/chainguard-dev/github-update-status/pkg/resolve"
)

// TokenEnv is read when a target has no token.
const TokenEnv = "GITHUB_TOKEN"

// Dispatcher sends the updates of a Target. It holds no per-run state, so one
// Dispatcher can serve any number of runs.
type Dispatcher struct {
	env       envconfig.Lookuper
	commits   gitcommit.Resolver
	newClient ClientFactory
	clock     clockwork.Clock
	limit     int
	timeout   time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLookuper sets where TokenEnv and {env: NAME} values are looked up.
// Defaults to the process environment.
func WithLookuper(l envconfig.Lookuper) Option {
	return func(d *Dispatcher) { d.env = l }
}

// WithCommitResolver sets how the commit is found when a target has none.
// Defaults to running `git rev-parse HEAD` in the current directory.
func WithCommitResolver(r gitcommit.Resolver) Option {
	return func(d *Dispatcher) { d.commits = r }
}

// WithClientFactory sets how the StatusClient is built. Defaults to
// GitHubClientFactory().
func WithClientFactory(f ClientFactory) Option {
	return func(d *Dispatcher) { d.newClient = f }
}

// WithClock sets the clock used to time requests.
func WithClock(c clockwork.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithMaxConcurrency bounds the number of requests in flight. Zero or less
// means no bound.
func WithMaxConcurrency(n int) Option {
	return func(d *Dispatcher) { d.limit = n }
}

// WithCallTimeout bounds each request. Zero means requests may take as long as
// the caller's context allows.
func WithCallTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// New returns a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		env:       envconfig.OsLookuper(),
		commits:   &gitcommit.Exec{},
		newClient: GitHubClientFactory(),
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run validates the target, resolves the token and commit, and sends every
// update, returning once all of them have finished.
func (d *Dispatcher) Run(ctx context.Context, target *Target) *Outcome {
	out := &Outcome{}
	log := clog.FromContext(ctx)
	ctx = resolve.WithLookuper(ctx, d.env)

	owner, repo, err := d.identity(ctx, &target.Options)
	if err != nil {
		return d.conclude(ctx, out, err)
	}
	out.Owner, out.Repo = owner, repo
	log = log.With("owner", owner, "repo", repo)
	ctx = clog.WithLogger(ctx, log)

	token, err := d.credential(ctx, &target.Options)
	if err != nil {
		return d.conclude(ctx, out, err)
	}

	sha, err := d.commit(ctx, &target.Options)
	if err != nil {
		return d.conclude(ctx, out, err)
	}
	out.CommitSHA = sha
	log = log.With("sha", sha)
	ctx = clog.WithLogger(ctx, log)

	client, err := d.newClient(ctx, token)
	if err != nil {
		return d.conclude(ctx, out, &ConfigurationError{Key: "token", Reason: "could not be used to build a client", Err: err})
	}

	updates := target.Normalize()
	if len(updates) == 0 {
		log.Warn("No status updates configured")
	}
	out.Results = make([]Result, len(updates))

	var g errgroup.Group
	if d.limit > 0 {
		g.SetLimit(d.limit)
	}
	for i, u := range updates {
		res := &out.Results[i]
		res.Index = i

		// Producers run here, one update at a time, never concurrently.
		status, err := d.prepare(ctx, i, u, res)
		if err != nil {
			res.Skipped = true
			res.Err = err
			mUpdates.With(labels(res.State, "skipped")).Inc()
			continue
		}
		res.Status = status

		g.Go(func() error {
			d.send(ctx, client, owner, repo, sha, res)
			return nil
		})
	}
	// Every goroutine writes only its own Result, so this is the only
	// synchronization the results need.
	_ = g.Wait()

	return d.conclude(ctx, out, nil)
}

func (d *Dispatcher) conclude(ctx context.Context, out *Outcome, err error) *Outcome {
	log := clog.FromContext(ctx)
	switch {
	case err != nil:
		out.Err = err
		log.Errorf("%v", err)
		mRuns.With(map[string]string{"result": "misconfigured"}).Inc()
	case out.OK():
		log.Infof("All %d status updates succeeded", len(out.Results))
		mRuns.With(map[string]string{"result": "ok"}).Inc()
	default:
		log.Errorf("%d of %d status updates failed", len(out.Failed()), len(out.Results))
		mRuns.With(map[string]string{"result": "failed"}).Inc()
	}
	return out
}

func (d *Dispatcher) identity(ctx context.Context, o *Options) (string, string, error) {
	owner, err := o.Owner.Resolve(ctx)
	if err != nil {
		return "", "", &ConfigurationError{Key: "owner", Reason: "could not be resolved", Err: err}
	}
	if owner == "" {
		return "", "", &ConfigurationError{
			Key:    "owner",
			Reason: "missing in options (usually the owner or organization, e.g. https://github.com/<owner>/<repo>)",
		}
	}

	repo, err := o.Repo.Resolve(ctx)
	if err != nil {
		return "", "", &ConfigurationError{Key: "repo", Reason: "could not be resolved", Err: err}
	}
	if repo == "" {
		return "", "", &ConfigurationError{
			Key:    "repo",
			Reason: "missing in options (the name of the repository, e.g. https://github.com/<owner>/<repo>)",
		}
	}
	return owner, repo, nil
}

// credential uses the configured token when it yields a value. An empty
// literal counts as absent and falls back to the environment; a producer
// never does.
func (d *Dispatcher) credential(ctx context.Context, o *Options) (string, error) {
	log := clog.FromContext(ctx)

	if o.Token.IsSet() {
		token, err := o.Token.Resolve(ctx)
		if err != nil {
			return "", &ConfigurationError{Key: "token", Reason: "could not be resolved", Err: err}
		}
		if token != "" {
			return token, nil
		}
		if o.Token.IsProducer() {
			return "", &ConfigurationError{Key: "token", Reason: "resolved to an empty value"}
		}
	}

	log.Infof("GitHub %q not in options, checking env for %s", "token", TokenEnv)
	token, ok := d.env.Lookup(TokenEnv)
	if !ok || token == "" {
		log.Errorf("Couldn't find %s in the environment either", TokenEnv)
		return "", &ConfigurationError{Key: "token", Reason: "not in options and " + TokenEnv + " is not set"}
	}
	return token, nil
}

func (d *Dispatcher) commit(ctx context.Context, o *Options) (string, error) {
	if o.CommitSHA.IsSet() {
		sha, err := o.CommitSHA.Resolve(ctx)
		if err != nil {
			return "", &ConfigurationError{Key: "commitSha", Reason: "could not be resolved", Err: err}
		}
		sha = strings.TrimSpace(sha)
		if sha == "" {
			return "", &ConfigurationError{Key: "commitSha", Reason: "resolved to an empty value"}
		}
		return sha, nil
	}

	clog.FromContext(ctx).Infof("Pulling commit SHA using %q", describe(d.commits))
	sha, err := d.commits.Resolve(ctx)
	if err != nil {
		return "", &ConfigurationError{Key: "commitSha", Reason: "not in options and could not be read from the working tree", Err: err}
	}
	return sha, nil
}

func describe(r gitcommit.Resolver) string {
	if s, ok := r.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", r)
}

// prepare resolves and validates one update and builds its payload.
func (d *Dispatcher) prepare(ctx context.Context, i int, u Update, res *Result) (*github.RepoStatus, error) {
	log := clog.FromContext(ctx).With("update", i)

	if !u.State.IsSet() {
		log.With("descriptor", u).Error("Missing state for status update")
		return nil, &DescriptorValidationError{Index: i, Field: "state", Reason: "is missing"}
	}
	state, err := u.State.Resolve(ctx)
	if err != nil {
		log.Errorf("State of status update did not resolve to a string: %v", err)
		return nil, &DescriptorValidationError{Index: i, Field: "state", Reason: "is not a string", Err: err}
	}
	if state == "" {
		log.With("descriptor", u).Error("Missing state for status update")
		return nil, &DescriptorValidationError{Index: i, Field: "state", Reason: "is empty"}
	}
	res.State = state

	status := &github.RepoStatus{State: github.Ptr(state)}
	status.Context = d.optional(ctx, i, "context", u.Context)
	status.TargetURL = d.optional(ctx, i, "targetUrl", u.TargetURL)
	status.Description = d.optional(ctx, i, "description", u.Description)
	res.Context = status.GetContext()
	return status, nil
}

// optional resolves a field that is only sent when it yields a string.
func (d *Dispatcher) optional(ctx context.Context, i int, field string, v resolve.Value) *string {
	if !v.IsSet() {
		return nil
	}
	s, err := v.Resolve(ctx)
	if err != nil {
		clog.FromContext(ctx).With("update", i).Warnf("Leaving %s out of status update: %v", field, err)
		return nil
	}
	return github.Ptr(s)
}

func (d *Dispatcher) send(ctx context.Context, client StatusClient, owner, repo, sha string, res *Result) {
	name := res.Context
	if name == "" {
		name = "default"
	}
	log := clog.FromContext(ctx).With("update", res.Index, "context", name)

	ctx, span := otel.Tracer("githubstatus").Start(ctx, "github-update-status",
		trace.WithAttributes(
			attribute.String("github.repository", owner+"/"+repo),
			attribute.String("github.sha", sha),
			attribute.String("github.status.context", name),
			attribute.String("github.status.state", res.State),
		))
	defer span.End()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := d.clock.Now()
	_, err := client.CreateStatus(ctx, owner, repo, sha, res.Status)
	res.Elapsed = d.clock.Since(start)

	if err != nil {
		rerr := newRemoteCallError(res.Index, name, res.State, err)
		res.Err = rerr
		span.RecordError(err)
		span.SetStatus(codes.Error, rerr.Error())
		log.With("status_code", rerr.StatusCode, "message", rerr.Message).
			Errorf("Error while updating status of %s to %s: %v", name, res.State, err)
		mUpdates.With(labels(res.State, "failed")).Inc()
		return
	}

	log.Infof("%s updated to %s.", name, res.State)
	mUpdates.With(labels(res.State, "sent")).Inc()
}

func labels(state, result string) map[string]string {
	if state == "" {
		state = "unknown"
	}
	return map[string]string{"state": state, "result": result}
}
