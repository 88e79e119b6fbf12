/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"

	"github.com/chainguard-dev/github-update-status/pkg/httpmetrics"
)

// StatusClient creates commit statuses.
type StatusClient interface {
	CreateStatus(ctx context.Context, owner, repo, sha string, status *github.RepoStatus) (*github.RepoStatus, error)
}

// ClientFactory builds a StatusClient once the token is known.
type ClientFactory func(ctx context.Context, token string) (StatusClient, error)

type clientOptions struct {
	baseURL   string
	transport http.RoundTripper
}

// ClientOption configures NewGitHubClient.
type ClientOption func(*clientOptions)

// WithBaseURL points the client at a GitHub Enterprise Server, e.g.
// https://github.example.com/api/v3. Empty means api.github.com.
func WithBaseURL(u string) ClientOption {
	return func(o *clientOptions) { o.baseURL = u }
}

// WithTransport sets the transport underneath authentication and metrics.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(o *clientOptions) { o.transport = rt }
}

// GitHubClient is a StatusClient backed by the GitHub REST API.
type GitHubClient struct {
	client *github.Client
}

var _ StatusClient = (*GitHubClient)(nil)

// NewGitHubClient returns a client authenticating with token.
func NewGitHubClient(ctx context.Context, token string, opts ...ClientOption) (*GitHubClient, error) {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.transport != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: o.transport})
	}
	oauthClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))

	// Wrap the transport with metrics instrumentation for GitHub API monitoring
	httpClient := &http.Client{
		Transport: httpmetrics.WrapTransport(oauthClient.Transport),
	}

	client := github.NewClient(httpClient)
	if o.baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(o.baseURL, o.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing GitHub API URL %q: %w", o.baseURL, err)
		}
	}

	return &GitHubClient{client: client}, nil
}

// GitHubClientFactory returns a ClientFactory that calls NewGitHubClient.
func GitHubClientFactory(opts ...ClientOption) ClientFactory {
	return func(ctx context.Context, token string) (StatusClient, error) {
		return NewGitHubClient(ctx, token, opts...)
	}
}

// CreateStatus implements StatusClient.
// https://docs.github.com/en/rest/commits/statuses#create-a-commit-status
func (c *GitHubClient) CreateStatus(ctx context.Context, owner, repo, sha string, status *github.RepoStatus) (*github.RepoStatus, error) {
	created, _, err := c.client.Repositories.CreateStatus(ctx, owner, repo, sha, status)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DryRunClientFactory returns a ClientFactory whose clients log each status
// instead of sending it.
func DryRunClientFactory() ClientFactory {
	return func(context.Context, string) (StatusClient, error) {
		return dryRunClient{}, nil
	}
}

type dryRunClient struct{}

func (dryRunClient) CreateStatus(ctx context.Context, owner, repo, sha string, status *github.RepoStatus) (*github.RepoStatus, error) {
	body, err := json.Marshal(status)
	if err != nil {
		return nil, err
	}
	clog.FromContext(ctx).Infof("Dry run: POST repos/%s/%s/statuses/%s %s", owner, repo, sha, body)
	return status, nil
}
