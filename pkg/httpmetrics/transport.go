/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package httpmetrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var (
	mReqCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_client_request_count",
			Help: "The total number of HTTP requests",
		},
		[]string{"code", "method", "host", "path"},
	)
	mReqInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_client_request_in_flight",
			Help: "The number of outgoing HTTP requests currently inflight",
		},
		[]string{"method", "host", "path"},
	)
	mReqDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_client_request_duration_seconds",
			Help:    "The duration of HTTP requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"code", "method", "host", "path"},
	)
	seenHostMap = sync.Map{}
)

var (
	bucketsMu      sync.RWMutex
	buckets        = map[string]string{"api.github.com": "api.github.com"}
	bucketSuffixes = map[string]string{}
)

// SetBuckets replaces the exact host to label mapping.
func SetBuckets(b map[string]string) {
	bucketsMu.Lock()
	defer bucketsMu.Unlock()
	buckets = b
}

// SetBucketSuffixes replaces the host suffix to label mapping.
func SetBucketSuffixes(bs map[string]string) {
	bucketsMu.Lock()
	defer bucketsMu.Unlock()
	bucketSuffixes = bs
}

// Transport is an http.RoundTripper that records metrics for each request.
var Transport = WrapTransport(http.DefaultTransport)

type MetricsTransport struct {
	http.RoundTripper

	inner http.RoundTripper
}

type transportOptions struct {
	skipBucketize bool
}

// TransportOption configures WrapTransport.
type TransportOption func(*transportOptions)

// WithSkipBucketize labels every host as "unbucketized" instead of mapping it
// through SetBuckets.
func WithSkipBucketize(skip bool) TransportOption {
	return func(o *transportOptions) { o.skipBucketize = skip }
}

// WrapTransport wraps an http.RoundTripper with instrumentation.
func WrapTransport(t http.RoundTripper, opts ...TransportOption) http.RoundTripper {
	o := transportOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return &MetricsTransport{
		RoundTripper: instrumentGitHubAPI(
			instrumentRoundTripperCounter(o,
				instrumentRoundTripperInFlight(o,
					instrumentRoundTripperDuration(o,
						instrumentGitHubRateLimits(
							otelhttp.NewTransport(t)))))),
		inner: t,
	}
}

// ExtractInnerTransport returns the transport that WrapTransport wrapped, or
// rt itself.
func ExtractInnerTransport(rt http.RoundTripper) http.RoundTripper {
	if mt, ok := rt.(*MetricsTransport); ok {
		return mt.inner
	}
	return rt
}

func mapErrorToLabel(err error) string {
	switch {
	case strings.Contains(err.Error(), "no route to host"):
		return "no-route-to_host"
	case strings.Contains(err.Error(), "i/o timeout"):
		return "io-timeout"
	case strings.Contains(err.Error(), "context deadline exceeded"):
		return "deadline-exceeded"
	case strings.Contains(err.Error(), "TLS handshake timeout"):
		return "tls-handshake-timeout"
	case strings.Contains(err.Error(), "TLS handshake error"):
		return "tls-handshake-error"
	case strings.Contains(err.Error(), "unexpected EOF"):
		return "unexpected-eof"
	default:
		return "unknown-error"
	}
}

// These instrument methods based on promhttp, with bucketized host and path labels added:
// https://pkg.go.dev/github.com/prometheus/client_golang/prometheus/promhttp

func instrumentRoundTripperCounter(o transportOptions, next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		tracer := otel.Tracer("httpmetrics")
		host := o.bucketize(r.Context(), r.URL.Host)
		ctx, span := tracer.Start(r.Context(), fmt.Sprintf("http-%s-%s", r.Method, host))
		// Ensure that outgoing requests are nested under this span.
		r = r.WithContext(ctx)
		defer span.End()

		resp, err := next.RoundTrip(r)
		var code string
		if err == nil {
			code = strconv.Itoa(resp.StatusCode)
		} else {
			code = mapErrorToLabel(err)
		}
		mReqCount.With(prometheus.Labels{
			"code":   code,
			"method": r.Method,
			"host":   host,
			"path":   getPath(r.Context()),
		}).Inc()
		return resp, err
	}
}

func instrumentRoundTripperInFlight(o transportOptions, next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		g := mReqInFlight.With(prometheus.Labels{
			"method": r.Method,
			"host":   o.bucketize(r.Context(), r.URL.Host),
			"path":   getPath(r.Context()),
		})
		g.Inc()
		defer g.Dec()
		return next.RoundTrip(r)
	}
}

func instrumentRoundTripperDuration(o transportOptions, next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(r)
		if err == nil {
			mReqDuration.With(prometheus.Labels{
				"code":   strconv.Itoa(resp.StatusCode),
				"method": r.Method,
				"host":   o.bucketize(r.Context(), r.URL.Host),
				"path":   getPath(r.Context()),
			}).Observe(time.Since(start).Seconds())
		}
		return resp, err
	}
}

func (o transportOptions) bucketize(ctx context.Context, host string) string {
	if o.skipBucketize {
		return "unbucketized"
	}

	bucketsMu.RLock()
	defer bucketsMu.RUnlock()

	// Check the exact matches first.
	if b, ok := buckets[host]; ok {
		return b
	}
	// Then check the suffixes.
	for k, v := range bucketSuffixes {
		if strings.HasSuffix(host, "."+k) {
			return v
		}
	}

	v, _ := seenHostMap.LoadOrStore(host, &atomic.Int64{})
	vInt := v.(*atomic.Int64)

	if seen := vInt.Add(1); (seen-1)%10 == 0 {
		clog.WarnContext(ctx, `bucketing host as "other", use httpmetrics.SetBucket{Suffixe}s`, "host", host, "seen", seen)
	}
	return "other"
}

var (
	mGitHubRateLimitRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit_remaining",
			Help: "The number of requests remaining in the current rate limit window",
		},
		[]string{"resource"},
	)
	mGitHubRateLimit = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit",
			Help: "The number of requests allowed during the rate limit window",
		},
		[]string{"resource"},
	)
	mGitHubRateLimitReset = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit_reset",
			Help: "The timestamp at which the current rate limit window resets",
		},
		[]string{"resource"},
	)
	mGitHubRateLimitUsed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit_used",
			Help: "The fraction of the rate limit window used",
		},
		[]string{"resource"},
	)
)

// instrumentGitHubRateLimits records the rate limit headers GitHub returns.
// It only observes them; nothing here waits for a window to reset.
// See https://docs.github.com/en/rest/using-the-rest-api/rate-limits-for-the-rest-api?apiVersion=2022-11-28
func instrumentGitHubRateLimits(next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		resp, err := next.RoundTrip(r)
		if err != nil {
			return resp, err
		}
		if resp.Header.Get("X-RateLimit-Limit") == "" {
			return resp, err
		}

		resource := resp.Header.Get("X-RateLimit-Resource")
		if resource == "" {
			resource = "unknown"
		}

		val := func(key string) float64 {
			i, err := strconv.Atoi(resp.Header.Get(key))
			if err != nil {
				return 0
			}
			return float64(i)
		}
		remaining := val("X-RateLimit-Remaining")
		mGitHubRateLimitRemaining.With(prometheus.Labels{"resource": resource}).Set(remaining)

		limit := val("X-RateLimit-Limit")
		mGitHubRateLimit.With(prometheus.Labels{"resource": resource}).Set(limit)

		reset := val("X-RateLimit-Reset")
		mGitHubRateLimitReset.With(prometheus.Labels{"resource": resource}).Set(reset)

		if limit > 0 {
			mGitHubRateLimitUsed.With(prometheus.Labels{"resource": resource}).Set((limit - remaining) / limit)
		}
		return resp, err
	}
}
