// Package metrics exposes Prometheus counters for the attachment
// subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsValidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachments_validated_total",
			Help: "Staged uploads run through the validation pipeline",
		},
		[]string{"result"}, // ok / content / quota / infrastructure
	)

	BytesStaged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attachments_staged_bytes_total",
			Help: "Raw upload bytes written to staging",
		},
	)

	DirectoryRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attachments_directory_rotations_total",
			Help: "Upload directory rotations triggered by space pressure",
		},
	)

	Promotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachments_promoted_total",
			Help: "Staged uploads promoted to persisted attachments",
		},
		[]string{"kind"},
	)

	ThumbnailsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attachments_thumbnails_generated_total",
			Help: "Thumbnails generated for oversized images",
		},
	)

	Removals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachments_removed_total",
			Help: "Attachment rows removed by bulk deletion",
		},
		[]string{"kind"},
	)
)
