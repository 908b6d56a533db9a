package enrollment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// samplesTotal counts samples by what happened to them: evaluated by the
	// validator, ignored because the session was busy or not capturing, or
	// dropped because the buffer was full.
	samplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceenroll_samples_total",
		Help: "Orientation samples offered to enrollment sessions, by outcome",
	}, []string{"outcome"})

	capturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceenroll_captures_total",
		Help: "Snapshot captures by step and outcome",
	}, []string{"step", "outcome"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceenroll_phase_transitions_total",
		Help: "Session phase changes",
	}, []string{"from", "to"})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceenroll_outcomes_total",
		Help: "Finished enrollment attempts by outcome",
	}, []string{"outcome"})

	lateResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faceenroll_late_results_total",
		Help: "Capture or upload results that arrived after their session stopped",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "faceenroll_sessions_active",
		Help: "Sessions whose run loop is currently running",
	})
)

const (
	sampleEvaluated = "evaluated"
	sampleIgnored   = "ignored"
	sampleDropped   = "dropped"

	captureSuccess = "success"
	captureFailure = "failure"
)
