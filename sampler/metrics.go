package sampler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	reasonError = "error"
	reasonPanic = "panic"
)

var (
	samplesAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faceenroll_sampler_frames_analyzed_total",
		Help: "Frames the detector analyzed without failing",
	})

	detectorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceenroll_sampler_detector_failures_total",
		Help: "Detector failures swallowed at the sampler boundary, by reason",
	}, []string{"reason"})
)
