/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package githubstatus posts commit statuses to GitHub.
//
// A Target names a repository, an optional token and commit, and one or more
// status updates. Every field may be a literal or a producer (see
// package resolve) that is evaluated when the Dispatcher gets to it:
//
//	d := githubstatus.New(githubstatus.WithMaxConcurrency(4))
//	out := d.Run(ctx, &githubstatus.Target{
//		Options: githubstatus.Options{
//			Owner: resolve.Literal("chainguard-dev"),
//			Repo:  resolve.Literal("github-update-status"),
//		},
//		Updates: []githubstatus.Update{{
//			State:   resolve.Literal("success"),
//			Context: resolve.Literal("build"),
//		}, {
//			State:       resolve.Func(testState),
//			Context:     resolve.Literal("test"),
//			Description: resolve.Func(testSummary),
//		}},
//	})
//	if !out.OK() {
//		// at least one update was rejected or failed
//	}
//
// Run checks the owner and repository, then resolves the token (falling back to
// GITHUB_TOKEN), then the commit (falling back to `git rev-parse HEAD`), and
// only then sends the updates. A problem in any of those steps ends the run
// before any request is made. Each update after that succeeds or fails on its
// own, and the Outcome reports them all.
package githubstatus
