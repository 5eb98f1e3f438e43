// SPDX-License-Identifier: MIT

package audio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storycast_generations_started_total",
		Help: "Background audio generation runs spawned.",
	})

	generationsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storycast_generations_completed_total",
		Help: "Finished generation runs by outcome.",
	}, []string{"outcome"})

	pcmBytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storycast_pcm_bytes_received_total",
		Help: "PCM bytes received from the TTS engine across all runs.",
	})

	generationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storycast_generation_duration_seconds",
		Help:    "Wall clock duration of generation runs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)
