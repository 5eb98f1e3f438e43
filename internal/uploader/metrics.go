// SPDX-License-Identifier: MIT

package uploader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	segmentsUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storycast_segments_uploaded_total",
		Help: "HLS segments successfully uploaded to the object store.",
	})

	segmentUploadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storycast_segment_upload_failures_total",
		Help: "Failed segment upload attempts (retried with backoff).",
	})

	playlistUploads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storycast_playlist_uploads_total",
		Help: "HLS playlist uploads during and after generation.",
	})

	reconcileReuploads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storycast_reconcile_reuploads_total",
		Help: "Segments re-uploaded by the post-generation reconciliation pass.",
	})
)
