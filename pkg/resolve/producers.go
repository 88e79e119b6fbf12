/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package resolve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Command returns a Value produced by running argv in dir and taking its
// trimmed standard output. An empty dir means the current working directory.
func Command(dir string, argv ...string) Value {
	if len(argv) == 0 {
		return Invalid("empty command")
	}
	v := Func(func(ctx context.Context) (string, error) {
		return run(ctx, dir, argv[0], argv[1:]...)
	})
	v.source = fmt.Sprintf("command %q", strings.Join(argv, " "))
	return v
}

// Shell returns a Value produced by running script with sh -c.
func Shell(dir, script string) Value {
	v := Func(func(ctx context.Context) (string, error) {
		return run(ctx, dir, "sh", "-c", script)
	})
	v.source = fmt.Sprintf("shell %q", script)
	return v
}

// Env returns a Value produced by looking up name in l. A nil Lookuper uses
// the one attached to the context by WithLookuper, or else the process
// environment.
func Env(l envconfig.Lookuper, name string) Value {
	v := Func(func(ctx context.Context) (string, error) {
		lookuper := l
		if lookuper == nil {
			lookuper = LookuperFrom(ctx)
		}
		s, ok := lookuper.Lookup(name)
		if !ok {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
		return s, nil
	})
	v.source = "env " + name
	return v
}

type lookuperKey struct{}

// WithLookuper attaches the environment that {env: NAME} values resolve
// against.
func WithLookuper(ctx context.Context, l envconfig.Lookuper) context.Context {
	return context.WithValue(ctx, lookuperKey{}, l)
}

// LookuperFrom returns the Lookuper attached by WithLookuper, or the process
// environment.
func LookuperFrom(ctx context.Context) envconfig.Lookuper {
	if l, ok := ctx.Value(lookuperKey{}).(envconfig.Lookuper); ok && l != nil {
		return l
	}
	return envconfig.OsLookuper()
}

func run(ctx context.Context, dir, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return "", fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
