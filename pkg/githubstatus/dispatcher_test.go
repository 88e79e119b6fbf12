/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubstatus

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainguard-dev/clog/slogtest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-github/v75/github"
	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/chainguard-dev/github-update-status/pkg/gitcommit"
	"github.com/chainguard-dev/github-update-status/pkg/resolve"
)

type call struct {
	Owner, Repo, SHA string
	Body             string
}

// fakeClient records every status it is asked to create.
type fakeClient struct {
	mu    sync.Mutex
	calls []call

	// fail maps a status context to the error returned for it.
	fail map[string]error
	// hook runs inside CreateStatus before the call is recorded.
	hook func(ctx context.Context, status *github.RepoStatus) error
}

func (f *fakeClient) CreateStatus(ctx context.Context, owner, repo, sha string, status *github.RepoStatus) (*github.RepoStatus, error) {
	if f.hook != nil {
		if err := f.hook(ctx, status); err != nil {
			return nil, err
		}
	}
	body, err := json.Marshal(status)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, call{Owner: owner, Repo: repo, SHA: sha, Body: string(body)})
	f.mu.Unlock()

	if err := f.fail[status.GetContext()]; err != nil {
		return nil, err
	}
	return status, nil
}

// sortedCalls returns the calls ordered by body, since completion order is
// not deterministic.
func (f *fakeClient) sortedCalls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]call(nil), f.calls...)
	sort.Slice(out, func(i, j int) bool { return out[i].Body < out[j].Body })
	return out
}

type harness struct {
	client    *fakeClient
	tokens    []string
	factories atomic.Int32
	commits   atomic.Int32
}

func newHarness() *harness {
	return &harness{client: &fakeClient{}}
}

func (h *harness) dispatcher(env map[string]string, opts ...Option) *Dispatcher {
	base := []Option{
		WithLookuper(envconfig.MapLookuper(env)),
		WithCommitResolver(gitcommit.ResolverFunc(func(context.Context) (string, error) {
			h.commits.Add(1)
			return "headsha", nil
		})),
		WithClientFactory(func(_ context.Context, token string) (StatusClient, error) {
			h.factories.Add(1)
			h.tokens = append(h.tokens, token)
			return h.client, nil
		}),
	}
	return New(append(base, opts...)...)
}

func identity() Options {
	return Options{
		Owner: resolve.Literal("octocat"),
		Repo:  resolve.Literal("hello-world"),
		Token: resolve.Literal("tok"),
	}
}

func TestRun_ConfigurationErrors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		options Options
		env     map[string]string
		wantKey string
	}{{
		name:    "missing owner",
		options: Options{Repo: resolve.Literal("hello-world"), Token: resolve.Literal("tok")},
		wantKey: "owner",
	}, {
		name:    "empty owner",
		options: Options{Owner: resolve.Literal(""), Repo: resolve.Literal("hello-world"), Token: resolve.Literal("tok")},
		wantKey: "owner",
	}, {
		name: "owner producer fails",
		options: Options{
			Owner: resolve.Func(func(context.Context) (string, error) { return "", boom }),
			Repo:  resolve.Literal("hello-world"),
			Token: resolve.Literal("tok"),
		},
		wantKey: "owner",
	}, {
		name:    "missing repo",
		options: Options{Owner: resolve.Literal("octocat"), Token: resolve.Literal("tok")},
		wantKey: "repo",
	}, {
		name:    "non-string repo",
		options: Options{Owner: resolve.Literal("octocat"), Repo: resolve.Invalid("42"), Token: resolve.Literal("tok")},
		wantKey: "repo",
	}, {
		name:    "no token anywhere",
		options: Options{Owner: resolve.Literal("octocat"), Repo: resolve.Literal("hello-world")},
		wantKey: "token",
	}, {
		name:    "empty GITHUB_TOKEN",
		options: Options{Owner: resolve.Literal("octocat"), Repo: resolve.Literal("hello-world")},
		env:     map[string]string{TokenEnv: ""},
		wantKey: "token",
	}, {
		name: "empty literal token and no env",
		options: Options{
			Owner: resolve.Literal("octocat"),
			Repo:  resolve.Literal("hello-world"),
			Token: resolve.Literal(""),
		},
		wantKey: "token",
	}, {
		name: "token producer yields nothing, env is not consulted",
		options: Options{
			Owner: resolve.Literal("octocat"),
			Repo:  resolve.Literal("hello-world"),
			Token: resolve.Func(func(context.Context) (string, error) { return "", nil }),
		},
		env:     map[string]string{TokenEnv: "from-env"},
		wantKey: "token",
	}, {
		name: "commit producer fails",
		options: Options{
			Owner:     resolve.Literal("octocat"),
			Repo:      resolve.Literal("hello-world"),
			Token:     resolve.Literal("tok"),
			CommitSHA: resolve.Func(func(context.Context) (string, error) { return "", boom }),
		},
		wantKey: "commitSha",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := slogtest.Context(t)
			h := newHarness()

			out := h.dispatcher(tt.env).Run(ctx, &Target{
				Options: tt.options,
				Update:  Update{State: resolve.Literal(StateSuccess)},
			})

			if out.OK() {
				t.Fatal("OK() = true, want false")
			}
			var cerr *ConfigurationError
			if !errors.As(out.Err, &cerr) {
				t.Fatalf("Err = %v, want *ConfigurationError", out.Err)
			}
			if cerr.Key != tt.wantKey {
				t.Errorf("Key = %q, want %q", cerr.Key, tt.wantKey)
			}
			if got := h.factories.Load(); got != 0 {
				t.Errorf("client factory called %d times, want 0", got)
			}
			if got := len(h.client.calls); got != 0 {
				t.Errorf("made %d calls, want 0", got)
			}
			if len(out.Results) != 0 {
				t.Errorf("Results = %v, want none", out.Results)
			}
		})
	}
}

func TestRun_CommitResolverFailure(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness()
	d := h.dispatcher(nil, WithCommitResolver(gitcommit.ResolverFunc(func(context.Context) (string, error) {
		return "", errors.New("fatal: not a git repository")
	})))

	out := d.Run(ctx, &Target{Options: identity(), Update: Update{State: resolve.Literal(StateSuccess)}})

	var cerr *ConfigurationError
	if !errors.As(out.Err, &cerr) || cerr.Key != "commitSha" {
		t.Fatalf("Err = %v, want commitSha *ConfigurationError", out.Err)
	}
	if len(h.client.calls) != 0 {
		t.Errorf("made %d calls, want 0", len(h.client.calls))
	}
}

func TestRun_Credential(t *testing.T) {
	var tokenCalls int
	tests := []struct {
		name      string
		token     resolve.Value
		env       map[string]string
		want      string
		wantCalls int
	}{{
		name:  "literal",
		token: resolve.Literal("literal-token"),
		env:   map[string]string{TokenEnv: "from-env"},
		want:  "literal-token",
	}, {
		name: "producer",
		token: resolve.Func(func(context.Context) (string, error) {
			tokenCalls++
			return "produced-token", nil
		}),
		env:       map[string]string{TokenEnv: "from-env"},
		want:      "produced-token",
		wantCalls: 1,
	}, {
		name: "environment",
		env:  map[string]string{TokenEnv: "from-env"},
		want: "from-env",
	}, {
		name:  "empty literal falls back to environment",
		token: resolve.Literal(""),
		env:   map[string]string{TokenEnv: "from-env"},
		want:  "from-env",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := slogtest.Context(t)
			tokenCalls = 0
			h := newHarness()

			opts := identity()
			opts.Token = tt.token
			out := h.dispatcher(tt.env).Run(ctx, &Target{
				Options: opts,
				Updates: []Update{
					{State: resolve.Literal(StatePending), Context: resolve.Literal("build")},
					{State: resolve.Literal(StatePending), Context: resolve.Literal("test")},
				},
			})

			if !out.OK() {
				t.Fatalf("OK() = false: %v %v", out.Err, out.Failed())
			}
			if diff := cmp.Diff([]string{tt.want}, h.tokens); diff != "" {
				t.Errorf("tokens mismatch (-want +got):\n%s", diff)
			}
			if tokenCalls != tt.wantCalls {
				t.Errorf("token producer called %d times, want %d", tokenCalls, tt.wantCalls)
			}
		})
	}
}

func TestRun_EnvValuesUseLookuper(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness()

	var target Target
	if err := yaml.Unmarshal([]byte(`
options:
  owner: octocat
  repo: hello-world
  token:
    env: CI_STATUS_TOKEN
state:
  env: CI_STATE
`), &target); err != nil {
		t.Fatalf("Unmarshal() = %v", err)
	}

	out := h.dispatcher(map[string]string{
		"CI_STATUS_TOKEN": "from-lookuper",
		"CI_STATE":        StateFailure,
	}).Run(ctx, &target)

	if !out.OK() {
		t.Fatalf("OK() = false: %v %v", out.Err, out.Failed())
	}
	if diff := cmp.Diff([]string{"from-lookuper"}, h.tokens); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
	want := []call{{Owner: "octocat", Repo: "hello-world", SHA: "headsha", Body: `{"state":"failure"}`}}
	if diff := cmp.Diff(want, h.client.sortedCalls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_Commit(t *testing.T) {
	var shaCalls int
	tests := []struct {
		name            string
		sha             resolve.Value
		want            string
		wantShaCalls    int
		wantResolverRun int32
	}{{
		name: "literal",
		sha:  resolve.Literal("0123abcd"),
		want: "0123abcd",
	}, {
		name: "producer, once for the whole batch",
		sha: resolve.Func(func(context.Context) (string, error) {
			shaCalls++
			return "feedface\n", nil
		}),
		want:         "feedface",
		wantShaCalls: 1,
	}, {
		name:            "working tree",
		want:            "headsha",
		wantResolverRun: 1,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := slogtest.Context(t)
			shaCalls = 0
			h := newHarness()

			opts := identity()
			opts.CommitSHA = tt.sha
			out := h.dispatcher(nil).Run(ctx, &Target{
				Options: opts,
				Updates: []Update{
					{State: resolve.Literal(StateSuccess), Context: resolve.Literal("a")},
					{State: resolve.Literal(StateSuccess), Context: resolve.Literal("b")},
					{State: resolve.Literal(StateSuccess), Context: resolve.Literal("c")},
				},
			})

			if !out.OK() {
				t.Fatalf("OK() = false: %v %v", out.Err, out.Failed())
			}
			if out.CommitSHA != tt.want {
				t.Errorf("CommitSHA = %q, want %q", out.CommitSHA, tt.want)
			}
			for _, c := range h.client.sortedCalls() {
				if c.SHA != tt.want {
					t.Errorf("call used sha %q, want %q", c.SHA, tt.want)
				}
			}
			if shaCalls != tt.wantShaCalls {
				t.Errorf("sha producer called %d times, want %d", shaCalls, tt.wantShaCalls)
			}
			if got := h.commits.Load(); got != tt.wantResolverRun {
				t.Errorf("commit resolver ran %d times, want %d", got, tt.wantResolverRun)
			}
		})
	}
}

func TestRun_InlineUpdate(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness()

	out := h.dispatcher(nil).Run(ctx, &Target{
		Options: identity(),
		Update:  Update{State: resolve.Literal(StateSuccess)},
	})

	if !out.OK() {
		t.Fatalf("OK() = false: %v %v", out.Err, out.Failed())
	}
	want := []call{{Owner: "octocat", Repo: "hello-world", SHA: "headsha", Body: `{"state":"success"}`}}
	if diff := cmp.Diff(want, h.client.sortedCalls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_Payload(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness()
	descCalls := 0

	out := h.dispatcher(nil).Run(ctx, &Target{
		Options: identity(),
		Updates: []Update{{
			State:     resolve.Literal(StateFailure),
			Context:   resolve.Literal("test"),
			TargetURL: resolve.Literal("https://ci.example.com/builds/7"),
			Description: resolve.Func(func(context.Context) (string, error) {
				descCalls++
				return "3 tests failed", nil
			}),
		}, {
			State:       resolve.Literal(StatePending),
			Context:     resolve.Literal("lint"),
			Description: resolve.Func(func(context.Context) (string, error) { return "", errors.New("no report") }),
			TargetURL:   resolve.Invalid("!!int 7"),
		}},
	})

	if !out.OK() {
		t.Fatalf("OK() = false: %v %v", out.Err, out.Failed())
	}
	want := []call{{
		Owner: "octocat", Repo: "hello-world", SHA: "headsha",
		Body: `{"state":"failure","target_url":"https://ci.example.com/builds/7","description":"3 tests failed","context":"test"}`,
	}, {
		Owner: "octocat", Repo: "hello-world", SHA: "headsha",
		Body: `{"state":"pending","context":"lint"}`,
	}}
	if diff := cmp.Diff(want, h.client.sortedCalls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if descCalls != 1 {
		t.Errorf("description producer called %d times, want 1", descCalls)
	}
}

func TestRun_InvalidState(t *testing.T) {
	tests := []struct {
		name  string
		state resolve.Value
	}{{
		name: "missing",
	}, {
		name:  "empty",
		state: resolve.Literal(""),
	}, {
		name:  "non-string literal",
		state: resolve.Invalid("!!bool true"),
	}, {
		name:  "producer fails",
		state: resolve.Func(func(context.Context) (string, error) { return "", errors.New("not a string") }),
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := slogtest.Context(t)
			h := newHarness()

			out := h.dispatcher(nil).Run(ctx, &Target{
				Options: identity(),
				Updates: []Update{
					{State: resolve.Literal(StateSuccess), Context: resolve.Literal("build")},
					{State: tt.state, Context: resolve.Literal("broken")},
					{State: resolve.Literal(StateSuccess), Context: resolve.Literal("test")},
				},
			})

			if out.OK() {
				t.Fatal("OK() = true, want false")
			}
			if out.Err != nil {
				t.Errorf("Err = %v, want nil", out.Err)
			}
			if got := len(h.client.calls); got != 2 {
				t.Errorf("made %d calls, want 2", got)
			}
			res := out.Results[1]
			if !res.Skipped {
				t.Error("Results[1].Skipped = false, want true")
			}
			var verr *DescriptorValidationError
			if !errors.As(res.Err, &verr) || verr.Field != "state" || verr.Index != 1 {
				t.Errorf("Results[1].Err = %v, want state *DescriptorValidationError for update 1", res.Err)
			}
			for _, i := range []int{0, 2} {
				if out.Results[i].Err != nil {
					t.Errorf("Results[%d].Err = %v, want nil", i, out.Results[i].Err)
				}
			}
		})
	}
}

func TestRun_RemoteFailureIsIsolated(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness()
	h.client.fail = map[string]error{"test": errors.New("connection reset by peer")}

	// Hold every call until all three are in flight, so none can finish
	// before the others have started.
	var arrived sync.WaitGroup
	arrived.Add(3)
	h.client.hook = func(context.Context, *github.RepoStatus) error {
		arrived.Done()
		arrived.Wait()
		return nil
	}

	out := h.dispatcher(nil).Run(ctx, &Target{
		Options: identity(),
		Updates: []Update{
			{State: resolve.Literal(StateSuccess), Context: resolve.Literal("build")},
			{State: resolve.Literal(StateFailure), Context: resolve.Literal("test")},
			{State: resolve.Literal(StateSuccess), Context: resolve.Literal("lint")},
		},
	})

	if out.OK() {
		t.Fatal("OK() = true, want false")
	}
	if got := len(h.client.calls); got != 3 {
		t.Errorf("made %d calls, want 3", got)
	}
	failed := out.Failed()
	if len(failed) != 1 || failed[0].Index != 1 {
		t.Fatalf("Failed() = %v, want only update 1", failed)
	}
	var rerr *RemoteCallError
	if !errors.As(failed[0].Err, &rerr) {
		t.Fatalf("Err = %v, want *RemoteCallError", failed[0].Err)
	}
	if rerr.Context != "test" || rerr.State != StateFailure {
		t.Errorf("RemoteCallError = %+v", rerr)
	}
}

func TestRun_AllSucceed(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness()

	const n = 10
	updates := make([]Update, n)
	for i := range updates {
		updates[i] = Update{
			State:   resolve.Literal(StateSuccess),
			Context: resolve.Literal(string(rune('a' + i))),
		}
	}

	out := h.dispatcher(nil).Run(ctx, &Target{Options: identity(), Updates: updates})

	if !out.OK() {
		t.Fatalf("OK() = false: %v", out.Failed())
	}
	if len(out.Results) != n {
		t.Fatalf("got %d results, want %d", len(out.Results), n)
	}
	for i, r := range out.Results {
		if r.Index != i {
			t.Errorf("Results[%d].Index = %d", i, r.Index)
		}
		if want := string(rune('a' + i)); r.Context != want {
			t.Errorf("Results[%d].Context = %q, want %q", i, r.Context, want)
		}
	}
}

func TestRun_Idempotent(t *testing.T) {
	target := &Target{
		Options: identity(),
		Updates: []Update{
			{State: resolve.Literal(StatePending), Context: resolve.Literal("build")},
			{State: resolve.Literal(StateSuccess), Context: resolve.Literal("test"), Description: resolve.Literal("ok")},
		},
	}

	var runs [][]call
	for range 2 {
		h := newHarness()
		if out := h.dispatcher(nil).Run(slogtest.Context(t), target); !out.OK() {
			t.Fatalf("OK() = false: %v %v", out.Err, out.Failed())
		}
		runs = append(runs, h.client.sortedCalls())
	}
	if diff := cmp.Diff(runs[0], runs[1]); diff != "" {
		t.Errorf("second run differs (-first +second):\n%s", diff)
	}
}

func TestRun_EmptyUpdates(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness()

	out := h.dispatcher(nil).Run(ctx, &Target{
		Options: identity(),
		// Present but empty: the inline fields are not used.
		Update:  Update{State: resolve.Literal(StateSuccess)},
		Updates: []Update{},
	})

	if !out.OK() {
		t.Fatalf("OK() = false: %v", out.Err)
	}
	if len(h.client.calls) != 0 {
		t.Errorf("made %d calls, want 0", len(h.client.calls))
	}
}

func TestRun_MaxConcurrency(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness()

	var inFlight, peak atomic.Int32
	h.client.hook = func(context.Context, *github.RepoStatus) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	updates := make([]Update, 6)
	for i := range updates {
		updates[i] = Update{State: resolve.Literal(StateSuccess), Context: resolve.Literal(string(rune('a' + i)))}
	}
	out := h.dispatcher(nil, WithMaxConcurrency(2)).Run(ctx, &Target{Options: identity(), Updates: updates})

	if !out.OK() {
		t.Fatalf("OK() = false: %v", out.Failed())
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", got)
	}
	if got := len(h.client.calls); got != 6 {
		t.Errorf("made %d calls, want 6", got)
	}
}

func TestRun_CallTimeout(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness()
	h.client.hook = func(ctx context.Context, _ *github.RepoStatus) error {
		<-ctx.Done()
		return ctx.Err()
	}

	out := h.dispatcher(nil, WithCallTimeout(10*time.Millisecond)).Run(ctx, &Target{
		Options: identity(),
		Update:  Update{State: resolve.Literal(StateSuccess), Context: resolve.Literal("slow")},
	})

	if out.OK() {
		t.Fatal("OK() = true, want false")
	}
	if err := out.Results[0].Err; !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestRun_Elapsed(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness()
	clock := clockwork.NewFakeClock()
	h.client.hook = func(context.Context, *github.RepoStatus) error {
		clock.Advance(1500 * time.Millisecond)
		return nil
	}

	out := h.dispatcher(nil, WithClock(clock)).Run(ctx, &Target{
		Options: identity(),
		Update:  Update{State: resolve.Literal(StateSuccess)},
	})

	if !out.OK() {
		t.Fatalf("OK() = false: %v", out.Failed())
	}
	if got, want := out.Results[0].Elapsed, 1500*time.Millisecond; got != want {
		t.Errorf("Elapsed = %v, want %v", got, want)
	}
}

func TestRun_DryRun(t *testing.T) {
	ctx := slogtest.Context(t)

	d := New(
		WithLookuper(envconfig.MapLookuper(map[string]string{TokenEnv: "tok"})),
		WithCommitResolver(gitcommit.ResolverFunc(func(context.Context) (string, error) { return "headsha", nil })),
		WithClientFactory(DryRunClientFactory()),
	)
	out := d.Run(ctx, &Target{
		Options: Options{Owner: resolve.Literal("octocat"), Repo: resolve.Literal("hello-world")},
		Update:  Update{State: resolve.Literal(StatePending), Context: resolve.Literal("build")},
	})

	if !out.OK() {
		t.Fatalf("OK() = false: %v %v", out.Err, out.Failed())
	}
	if got := out.Results[0].Status.GetState(); got != StatePending {
		t.Errorf("State = %q, want %q", got, StatePending)
	}
}
