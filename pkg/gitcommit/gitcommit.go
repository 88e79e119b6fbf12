/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gitcommit finds the commit a working tree has checked out.
package gitcommit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Resolver returns the commit SHA of the current working tree.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(ctx context.Context) (string, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context) (string, error) { return f(ctx) }

// Resolver kinds accepted by New.
const (
	KindExec  = "exec"
	KindGoGit = "go-git"
)

// New returns the resolver of the given kind rooted at dir.
func New(kind, dir string) (Resolver, error) {
	switch kind {
	case "", KindExec:
		return &Exec{Dir: dir}, nil
	case KindGoGit:
		return &GoGit{Dir: dir}, nil
	default:
		return nil, fmt.Errorf("unknown commit resolver %q (want %q or %q)", kind, KindExec, KindGoGit)
	}
}

// Exec runs `git rev-parse HEAD`. The call blocks until git exits.
type Exec struct {
	// Dir is the working tree; empty means the current directory.
	Dir string
	// Git is the git binary, "git" when empty.
	Git string
}

// Resolve implements Resolver.
func (e *Exec) Resolve(ctx context.Context) (string, error) {
	bin := e.Git
	if bin == "" {
		bin = "git"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "rev-parse", "HEAD")
	cmd.Dir = e.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git rev-parse HEAD: %w: %s", err, msg)
		}
		return "", fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	// git terminates its output with a newline.
	sha := strings.TrimSpace(stdout.String())
	if sha == "" {
		return "", errors.New("git rev-parse HEAD: empty output")
	}
	return sha, nil
}

func (e *Exec) String() string { return "git rev-parse HEAD" }

// GoGit reads HEAD in-process, for environments without a git binary.
type GoGit struct {
	// Dir is any path inside the working tree; empty means ".".
	Dir string
}

// Resolve implements Resolver.
func (g *GoGit) Resolve(context.Context) (string, error) {
	dir := g.Dir
	if dir == "" {
		dir = "."
	}
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("opening repository at %s: %w", dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

func (g *GoGit) String() string { return "go-git HEAD" }
