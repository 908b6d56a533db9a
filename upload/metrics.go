package upload

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeInvalid = "invalid"
)

var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceenroll_uploads_total",
		Help: "Enrollment batches attempted, by outcome",
	}, []string{"outcome"})

	partsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceenroll_upload_parts_total",
		Help: "Individual artifact sends, by field and outcome",
	}, []string{"field", "outcome"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "faceenroll_upload_duration_seconds",
		Help:    "Wall time of a whole enrollment batch",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), //nolint:mnd
	})
)
