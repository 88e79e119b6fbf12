/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubstatus

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseRepository extracts the owner and repository name from a repository
// URL.
//
// Expected formats:
//   - https://github.com/org/repo
//   - https://github.com/org/repo.git
//   - git@github.com:org/repo.git
//   - ssh://git@github.example.com/org/repo.git
//
// The host is not checked, so GitHub Enterprise URLs work too.
func ParseRepository(uri string) (owner, repo string, err error) {
	path := ""
	if host, rest, ok := strings.Cut(uri, ":"); ok && !strings.Contains(uri, "://") && strings.Contains(host, "@") {
		// scp-like syntax: user@host:org/repo.git
		path = rest
	} else {
		parsed, err := url.Parse(uri)
		if err != nil {
			return "", "", fmt.Errorf("failed to parse URL: %w", err)
		}
		if parsed.Host == "" {
			return "", "", fmt.Errorf("invalid repository URL: %s", uri)
		}
		path = parsed.Path
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid path format: %s", path)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
