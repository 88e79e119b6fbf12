/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubstatus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "github_status_updates_total",
			Help: "Commit status updates by state and result (sent, failed or skipped)",
		},
		[]string{"state", "result"},
	)
	mRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "github_status_runs_total",
			Help: "Dispatcher runs by aggregate result",
		},
		[]string{"result"},
	)
)
