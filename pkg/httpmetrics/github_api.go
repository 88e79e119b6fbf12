/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package httpmetrics

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type pathPattern struct {
	pattern *regexp.Regexp
	bucket  string
}

// GitHub API endpoint patterns for the requests a status update can make.
// Based on GitHub REST API documentation: https://docs.github.com/en/rest
var githubAPIPatterns = []pathPattern{{
	// https://docs.github.com/en/rest/repos/repos#get-a-repository
	pattern: regexp.MustCompile(`^/repos/[^/]+/[^/]+$`),
	bucket:  "/repos/{org}/{repo}",
}, {
	// https://docs.github.com/en/rest/commits/commits#get-a-commit
	pattern: regexp.MustCompile(`^/repos/[^/]+/[^/]+/commits/[^/]+$`),
	bucket:  "/repos/{org}/{repo}/commits/{sha}",
}, {
	// https://docs.github.com/en/rest/commits/statuses#get-the-combined-status-for-a-specific-reference
	pattern: regexp.MustCompile(`^/repos/[^/]+/[^/]+/commits/[^/]+/status$`),
	bucket:  "/repos/{org}/{repo}/commits/{sha}/status",
}, {
	// https://docs.github.com/en/rest/commits/statuses#list-commit-statuses-for-a-reference
	pattern: regexp.MustCompile(`^/repos/[^/]+/[^/]+/commits/[^/]+/statuses$`),
	bucket:  "/repos/{org}/{repo}/commits/{sha}/statuses",
}, {
	// https://docs.github.com/en/rest/commits/statuses#create-a-commit-status
	pattern: regexp.MustCompile(`^/repos/[^/]+/[^/]+/statuses/[^/]+$`),
	bucket:  "/repos/{org}/{repo}/statuses/{sha}",
}, {
	// https://docs.github.com/en/rest/checks/runs#list-check-runs-for-a-git-reference
	pattern: regexp.MustCompile(`^/repos/[^/]+/[^/]+/commits/[^/]+/check-runs$`),
	bucket:  "/repos/{org}/{repo}/commits/{ref}/check-runs",
}, {
	// https://docs.github.com/en/rest/users/users#get-the-authenticated-user
	pattern: regexp.MustCompile(`^/user$`),
	bucket:  "/user",
}, {
	// https://docs.github.com/en/rest/rate-limit/rate-limit#get-rate-limit-status-for-the-authenticated-user
	pattern: regexp.MustCompile(`^/rate_limit$`),
	bucket:  "/rate_limit",
}}

// enterprisePrefix is where GitHub Enterprise Server mounts the REST API.
const enterprisePrefix = "/api/v3"

func bucketizePath(path string) string {
	for _, p := range githubAPIPatterns {
		if p.pattern.MatchString(path) {
			return p.bucket
		}
	}
	return ""
}

type pathKey struct{}

func withPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, pathKey{}, path)
}

func getPath(ctx context.Context) string {
	if p, ok := ctx.Value(pathKey{}).(string); ok {
		return p
	}
	return ""
}

func githubAPIPath(r *http.Request) (string, bool) {
	if r.URL.Host == "api.github.com" {
		return r.URL.Path, true
	}
	if p, ok := strings.CutPrefix(r.URL.Path, enterprisePrefix); ok {
		return p, true
	}
	return "", false
}

// instrumentGitHubAPI attaches the bucketed GitHub route to the request
// context so the metrics below it can label by path.
func instrumentGitHubAPI(next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		if p, ok := githubAPIPath(r); ok {
			if bucket := bucketizePath(p); bucket != "" {
				r = r.WithContext(withPath(r.Context(), bucket))
			}
		}
		return next.RoundTrip(r)
	}
}
