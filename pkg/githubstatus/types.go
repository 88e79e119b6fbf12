/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubstatus

import (
	"log/slog"
	"time"

	"github.com/google/go-github/v75/github"
	"gopkg.in/yaml.v3"

	"github.com/chainguard-dev/github-update-status/pkg/resolve"
)

// Commit status states GitHub accepts. State values are passed through
// unchecked, so these are for callers' convenience only.
const (
	StatePending = "pending"
	StateError   = "error"
	StateFailure = "failure"
	StateSuccess = "success"
)

// Options identifies the repository and commit, and carries the credential.
type Options struct {
	// Owner is the user or organization, as in https://github.com/<owner>/<repo>.
	Owner resolve.Value
	// Repo is the repository name.
	Repo resolve.Value
	// Token authorizes the call. When unset, GITHUB_TOKEN is used.
	Token resolve.Value
	// CommitSHA is the commit to annotate. When unset, the working tree's
	// HEAD is used.
	CommitSHA resolve.Value
}

// UnmarshalYAML implements yaml.Unmarshaler. "user" is accepted in place of
// "owner".
func (o *Options) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Owner     resolve.Value `yaml:"owner"`
		User      resolve.Value `yaml:"user"`
		Repo      resolve.Value `yaml:"repo"`
		Token     resolve.Value `yaml:"token"`
		CommitSHA resolve.Value `yaml:"commitSha"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	o.Owner = raw.Owner
	if !o.Owner.IsSet() {
		o.Owner = raw.User
	}
	o.Repo = raw.Repo
	o.Token = raw.Token
	o.CommitSHA = raw.CommitSHA
	return nil
}

// LogValue implements slog.LogValuer. The token is never rendered.
func (o Options) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("owner", o.Owner),
		slog.Any("repo", o.Repo),
		slog.Any("token", resolve.Redacted(o.Token)),
		slog.Any("commitSha", o.CommitSHA),
	)
}

// Update describes a single commit status.
type Update struct {
	// State is required: pending, error, failure or success.
	State resolve.Value `yaml:"state"`
	// Context labels the status, e.g. "build" or "test". GitHub uses
	// "default" when it is omitted.
	Context resolve.Value `yaml:"context"`
	// TargetURL links back to the build or report.
	TargetURL resolve.Value `yaml:"targetUrl"`
	// Description is a short human readable summary.
	Description resolve.Value `yaml:"description"`
}

// LogValue implements slog.LogValuer, listing only the fields that are set.
func (u Update) LogValue() slog.Value {
	var attrs []slog.Attr
	for _, f := range []struct {
		key string
		v   resolve.Value
	}{
		{"state", u.State},
		{"context", u.Context},
		{"targetUrl", u.TargetURL},
		{"description", u.Description},
	} {
		if f.v.IsSet() {
			attrs = append(attrs, slog.Any(f.key, f.v))
		}
	}
	return slog.GroupValue(attrs...)
}

// Target is the configuration of one run.
type Target struct {
	Options Options

	// Update is used when Updates is nil.
	Update

	// Updates, when non-nil, lists the statuses to send, in order.
	Updates []Update
}

// UnmarshalYAML implements yaml.Unmarshaler. The inline state, context,
// targetUrl and description keys describe a single update; an "updates"
// sequence replaces them. An "updates" key that is not a sequence is ignored.
func (t *Target) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Options Options   `yaml:"options"`
		Update  `yaml:",inline"`
		Updates yaml.Node `yaml:"updates"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	t.Options = raw.Options
	t.Update = raw.Update
	t.Updates = nil
	if raw.Updates.Kind == yaml.SequenceNode {
		t.Updates = make([]Update, 0, len(raw.Updates.Content))
		if err := raw.Updates.Decode(&t.Updates); err != nil {
			return err
		}
	}
	return nil
}

// LogValue implements slog.LogValuer.
func (t Target) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("options", t.Options),
		slog.Int("updates", len(t.Normalize())),
	)
}

// Normalize returns the updates to send: Updates when it is non-nil,
// otherwise the inline Update on its own.
func (t *Target) Normalize() []Update {
	if t.Updates != nil {
		return t.Updates
	}
	return []Update{t.Update}
}

// Result is what happened to one update.
type Result struct {
	// Index is the position of the update in the normalized list.
	Index int
	// State and Context are the resolved values, when they resolved.
	State   string
	Context string
	// Status is the payload that was sent, nil when the update was skipped.
	Status *github.RepoStatus
	// Skipped is set when the update failed validation and was not sent.
	Skipped bool
	// Err is a *DescriptorValidationError or *RemoteCallError.
	Err error
	// Elapsed is how long the remote call took.
	Elapsed time.Duration
}

// Outcome summarizes a run.
type Outcome struct {
	Owner     string
	Repo      string
	CommitSHA string

	// Err is a *ConfigurationError when the run stopped before sending
	// anything.
	Err error

	// Results holds one entry per update, in submission order.
	Results []Result
}

// OK reports whether the run was configured correctly and every update was
// sent successfully.
func (o *Outcome) OK() bool {
	if o.Err != nil {
		return false
	}
	for _, r := range o.Results {
		if r.Err != nil {
			return false
		}
	}
	return true
}

// Failed returns the results that did not succeed.
func (o *Outcome) Failed() []Result {
	var failed []Result
	for _, r := range o.Results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
