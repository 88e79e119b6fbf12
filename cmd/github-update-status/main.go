/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"

	"github.com/chainguard-dev/github-update-status/pkg/httpmetrics"
)

type config struct {
	// Default path of the targets file, overridden by --config.
	ConfigFile string `env:"GITHUB_STATUS_CONFIG,default=.github-status.yaml"`

	// GitHub Enterprise Server API root, e.g. https://github.example.com/api/v3.
	APIURL string `env:"GITHUB_API_URL"`

	MaxConcurrency int           `env:"GITHUB_STATUS_MAX_CONCURRENCY,default=0"`
	CallTimeout    time.Duration `env:"GITHUB_STATUS_CALL_TIMEOUT,default=0s"`

	// How the commit is found when a target has no commitSha: exec or go-git.
	CommitResolver string `env:"GITHUB_STATUS_COMMIT_RESOLVER,default=exec"`

	// Optional sinks.
	PushgatewayURL string `env:"PUSHGATEWAY_URL"`
	EventsSink     string `env:"GITHUB_STATUS_EVENTS_SINK"`
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to process environment: %v\n", err)
		return 2
	}
	ctx = clog.WithLogger(ctx, newLogger(os.Stderr, cfg.LogLevel))

	if cfg.OTLPEndpoint != "" {
		defer httpmetrics.SetupTracer(ctx)()
	}

	if err := newRootCmd(&cfg, envconfig.OsLookuper()).ExecuteContext(ctx); err != nil {
		clog.FromContext(ctx).Errorf("%v", err)
		return 1
	}
	return 0
}

func newLogger(w io.Writer, level string) *clog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelInfo
	}
	return clog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}
