// Package sampler is the boundary between the face detector and the
// enrollment session. Nothing the detector does, error or panic, escapes
// it: a failed analysis is simply a tick with no sample.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/attendify/faceenroll/logger"
	"github.com/attendify/faceenroll/pose"
	"go.uber.org/atomic"
)

// DefaultFailureLogLimit is how many consecutive detector failures are
// logged before the rest of the streak is muted.
const DefaultFailureLogLimit = 5

// Frame is one camera frame handed to the detector.
type Frame struct {
	Seq  uint64
	At   time.Time
	Data []byte
}

// Detector estimates head orientation in a frame. It returns nil when no
// face is found. It may fail or even panic; Sampler absorbs both.
type Detector interface {
	Detect(ctx context.Context, frame Frame) (*pose.Sample, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, frame Frame) (*pose.Sample, error)

// Detect calls f(ctx, frame).
func (f DetectorFunc) Detect(ctx context.Context, frame Frame) (*pose.Sample, error) {
	return f(ctx, frame)
}

// Sink receives one sample per analyzed frame. It must not block; the
// return value reports whether the sample was accepted.
type Sink func(sample *pose.Sample) bool

// Sampler runs the detector for each frame and forwards the result.
type Sampler struct {
	detector Detector
	sink     Sink
	logger   *slog.Logger
	logLimit int64
	streak   *atomic.Int64
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger sets the logger used for swallowed detector failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) {
		s.logger = l
	}
}

// WithFailureLogLimit logs at most n detector failures in a row. Logging
// resumes after the next successful detection. Zero or less logs every
// failure.
func WithFailureLogLimit(n int) Option {
	return func(s *Sampler) {
		s.logLimit = int64(n)
	}
}

// New returns a Sampler feeding sink.
func New(detector Detector, sink Sink, opts ...Option) *Sampler {
	s := &Sampler{
		detector: detector,
		sink:     sink,
		logLimit: DefaultFailureLogLimit,
		streak:   atomic.NewInt64(0),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Analyze runs the detector on frame and hands the result to the sink.
// Detector errors and panics become a nil sample.
func (s *Sampler) Analyze(ctx context.Context, frame Frame) bool {
	return s.sink(s.detect(ctx, frame))
}

func (s *Sampler) detect(ctx context.Context, frame Frame) (sample *pose.Sample) {
	defer func() {
		if r := recover(); r != nil {
			detectorFailures.WithLabelValues(reasonPanic).Inc()

			logger.From(s.logger, s.failureContext(ctx)).Debug("detector panicked, treating frame as empty",
				"frame", frame.Seq,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))

			sample = nil
		}
	}()

	sample, err := s.detector.Detect(ctx, frame)
	if err != nil {
		detectorFailures.WithLabelValues(reasonError).Inc()

		logger.From(s.logger, s.failureContext(ctx)).Debug("detector failed, treating frame as empty",
			"frame", frame.Seq, "error", err)

		return nil
	}

	samplesAnalyzed.Inc()
	s.streak.Store(0)

	return sample
}

// failureContext counts a failure and mutes logging once the current
// streak passes the limit.
func (s *Sampler) failureContext(ctx context.Context) context.Context {
	streak := s.streak.Inc()
	if s.logLimit > 0 && streak > s.logLimit {
		return logger.WithMuted(ctx, true)
	}

	return ctx
}

// Pump analyzes frames until the channel closes or ctx is done.
func (s *Sampler) Pump(ctx context.Context, frames <-chan Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}

			s.Analyze(ctx, frame)
		}
	}
}
