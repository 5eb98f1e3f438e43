// SPDX-License-Identifier: MIT

package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storycast_http_requests_total",
		Help: "HTTP requests by route, method and status class.",
	}, []string{"route", "method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storycast_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2.0, 12),
	}, []string{"route"})

	authFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storycast_auth_failures_total",
		Help: "Requests rejected by bearer authentication.",
	})
)
