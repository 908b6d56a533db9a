// Package upload submits a completed set of enrollment snapshots as a single
// all-or-nothing batch.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/attendify/faceenroll/logger"
	"github.com/attendify/faceenroll/pose"
	"github.com/attendify/faceenroll/snapshot"
	"github.com/attendify/faceenroll/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrIncompleteBatch means the batch is missing a step or has extras.
	ErrIncompleteBatch = errors.New("incomplete enrollment batch")

	// ErrDuplicateLabel means two artifacts claim the same step.
	ErrDuplicateLabel = errors.New("duplicate artifact label")
)

// Part is one labeled artifact of a batch.
type Part struct {
	Step     pose.Step
	Field    string
	FileName string
	Artifact snapshot.ArtifactRef
}

// Prepare checks that refs hold exactly one valid artifact per step and
// returns them as labeled parts in step order.
func Prepare(refs []snapshot.ArtifactRef) ([]Part, error) {
	byStep := make(map[pose.Step]snapshot.ArtifactRef, pose.Count())

	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIncompleteBatch, err)
		}

		if _, dup := byStep[ref.Step]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLabel, ref.Step)
		}

		byStep[ref.Step] = ref
	}

	parts := make([]Part, 0, pose.Count())

	for _, step := range pose.Steps() {
		ref, ok := byStep[step]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrIncompleteBatch, step)
		}

		parts = append(parts, Part{
			Step:     step,
			Field:    step.Field(),
			FileName: step.Field() + ".jpg",
			Artifact: ref,
		})
	}

	return parts, nil
}

// Endpoint delivers a single part of an attempt.
type Endpoint interface {
	Send(ctx context.Context, attemptID uuid.UUID, part Part) error
}

// EndpointFunc adapts a function to the Endpoint interface.
type EndpointFunc func(ctx context.Context, attemptID uuid.UUID, part Part) error

// Send calls f(ctx, attemptID, part).
func (f EndpointFunc) Send(ctx context.Context, attemptID uuid.UUID, part Part) error {
	return f(ctx, attemptID, part)
}

// Batcher uploads all three parts of an attempt concurrently. The batch
// succeeds only if every part succeeds.
type Batcher struct {
	endpoint Endpoint
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithTimeout bounds a whole batch. Zero means no bound beyond the caller's
// context.
func WithTimeout(timeout time.Duration) Option {
	return func(b *Batcher) {
		b.timeout = timeout
	}
}

// WithLogger sets the logger for batch results.
func WithLogger(l *slog.Logger) Option {
	return func(b *Batcher) {
		b.logger = l
	}
}

// NewBatcher returns a Batcher sending through endpoint.
func NewBatcher(endpoint Endpoint, opts ...Option) *Batcher {
	b := &Batcher{endpoint: endpoint}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Upload sends refs as one attempt. The first failing part cancels the
// others; every failure is reported in the returned error. Upload never
// retries.
func (b *Batcher) Upload(ctx context.Context, attemptID uuid.UUID, refs []snapshot.ArtifactRef) error {
	parts, err := Prepare(refs)
	if err != nil {
		batchesTotal.WithLabelValues(outcomeInvalid).Inc()

		return err
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()

	err = telemetry.Traced(ctx, "enrollment.upload", func(ctx context.Context) error {
		sends := make([]func(context.Context) error, 0, len(parts))

		for _, part := range parts {
			sends = append(sends, func(ctx context.Context) error {
				return b.send(ctx, attemptID, part)
			})
		}

		return all(ctx, len(sends), sends...)
	}, attribute.String("attempt_id", attemptID.String()))

	batchDuration.Observe(time.Since(start).Seconds())

	log := logger.From(b.logger, ctx).With("attempt_id", attemptID.String())

	if err != nil {
		batchesTotal.WithLabelValues(outcomeFailure).Inc()
		log.Warn("enrollment batch failed", "error", err)

		return err
	}

	batchesTotal.WithLabelValues(outcomeSuccess).Inc()
	log.Info("enrollment batch uploaded", "parts", len(parts))

	return nil
}

func (b *Batcher) send(ctx context.Context, attemptID uuid.UUID, part Part) error {
	err := b.endpoint.Send(ctx, attemptID, part)
	if err != nil {
		partsTotal.WithLabelValues(part.Field, outcomeFailure).Inc()

		return fmt.Errorf("upload %s: %w", part.Field, err)
	}

	partsTotal.WithLabelValues(part.Field, outcomeSuccess).Inc()

	return nil
}
