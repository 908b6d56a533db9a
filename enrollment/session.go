package enrollment

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/attendify/faceenroll/logger"
	"github.com/attendify/faceenroll/pose"
	"github.com/attendify/faceenroll/snapshot"
	"github.com/attendify/faceenroll/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/atomic"
)

// controlBuffer bounds queued Start and Acknowledge gestures.
const controlBuffer = 8

// Uploader submits a complete batch. *upload.Batcher implements it.
type Uploader interface {
	Upload(ctx context.Context, attemptID uuid.UUID, refs []snapshot.ArtifactRef) error
}

// Session runs one enrollment. All state changes happen on the goroutine
// running Run; everything else only posts events to it.
type Session struct {
	id       uuid.UUID
	config   Config
	capturer snapshot.Capturer
	uploader Uploader
	discard  func(refs ...snapshot.ArtifactRef) error
	logger   *slog.Logger

	viewListeners    []func(View)
	outcomeListeners []func(Outcome)

	samples chan *pose.Sample
	control chan Event
	results chan Event

	abandoned   chan struct{}
	abandonOnce sync.Once
	done        chan struct{}

	running atomic.Bool
	closed  atomic.Bool
	view    atomic.Pointer[View]

	pool  pond.Pool
	state State
}

// Option configures a Session.
type Option func(*Session)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		s.config = cfg
	}
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id uuid.UUID) Option {
	return func(s *Session) {
		s.id = id
	}
}

// WithViewListener registers f to receive every new View. It runs on the
// loop goroutine and must return quickly.
func WithViewListener(f func(View)) Option {
	return func(s *Session) {
		s.viewListeners = append(s.viewListeners, f)
	}
}

// WithOutcomeListener registers f to receive attempt outcomes. It runs on
// the loop goroutine and must return quickly.
func WithOutcomeListener(f func(Outcome)) Option {
	return func(s *Session) {
		s.outcomeListeners = append(s.outcomeListeners, f)
	}
}

// WithDiscard replaces snapshot.Discard as the way dropped artifacts are
// released.
func WithDiscard(f func(refs ...snapshot.ArtifactRef) error) Option {
	return func(s *Session) {
		s.discard = f
	}
}

// NewSession returns an idle session. Call Run to start processing and
// Start to begin capturing.
func NewSession(capturer snapshot.Capturer, uploader Uploader, opts ...Option) *Session {
	s := &Session{
		config:    DefaultConfig(),
		capturer:  capturer,
		uploader:  uploader,
		discard:   snapshot.Discard,
		abandoned: make(chan struct{}),
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.id == uuid.Nil {
		s.id = s.config.SessionID
	}

	if s.id == uuid.Nil {
		s.id = uuid.New()
	}

	s.config.SampleBuffer = max(1, s.config.SampleBuffer)
	s.config.Workers = max(1, s.config.Workers)

	s.samples = make(chan *pose.Sample, s.config.SampleBuffer)
	s.control = make(chan Event, controlBuffer)
	s.results = make(chan Event)
	s.pool = pond.NewPool(s.config.Workers)
	s.state = NewState(s.id)

	view := s.state.View()
	s.view.Store(&view)

	return s
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// View returns the latest projection. Safe from any goroutine.
func (s *Session) View() View {
	return *s.view.Load()
}

// Offer hands a sample to the session without blocking. It reports false
// when the sample was dropped because the session is closed or behind.
func (s *Session) Offer(sample *pose.Sample) bool {
	if s.closed.Load() {
		return false
	}

	select {
	case s.samples <- sample:
		return true
	default:
		samplesTotal.WithLabelValues(sampleDropped).Inc()

		return false
	}
}

// Start posts the start gesture.
func (s *Session) Start() error {
	return s.post(Started{})
}

// Acknowledge posts the dismissal of a failure notice, which returns a
// failed session to idle.
func (s *Session) Acknowledge() error {
	return s.post(Acknowledged{})
}

func (s *Session) post(ev Event) error {
	if s.closed.Load() {
		return ErrClosed
	}

	select {
	case s.control <- ev:
		return nil
	case <-s.done:
		return ErrClosed
	case <-s.abandoned:
		return ErrClosed
	}
}

// Abandon stops the session. In-flight work is cancelled and its results
// are ignored. Safe to call more than once and before Run.
func (s *Session) Abandon() {
	s.abandonOnce.Do(func() {
		s.closed.Store(true)
		close(s.abandoned)
	})
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run processes events until the attempt succeeds, the session is
// abandoned, or ctx ends. It returns nil in the first two cases and the
// context error otherwise. Run may only be called once.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx = logger.WithSessionID(ctx, s.id.String())
	ctx, cancel := context.WithCancel(ctx)

	sessionsActive.Inc()

	defer func() {
		s.closed.Store(true)
		cancel()
		s.pool.StopAndWait()
		s.release(ctx)
		sessionsActive.Dec()
		close(s.done)
	}()

	s.log(ctx).Info("enrollment session started")

	for {
		if s.state.Phase == PhaseDone {
			s.log(ctx).Info("enrollment session finished", "attempt", s.state.Attempt)

			return nil
		}

		select {
		case <-ctx.Done():
			s.log(ctx).Info("enrollment session cancelled", "phase", s.state.Phase.String())

			return ctx.Err()
		case <-s.abandoned:
			s.log(ctx).Info("enrollment session abandoned", "phase", s.state.Phase.String())

			return nil
		case ev := <-s.control:
			s.apply(ctx, ev)
		case ev := <-s.results:
			s.apply(ctx, ev)
		case sample := <-s.samples:
			s.apply(ctx, Sampled{Sample: sample})
		}
	}
}

func (s *Session) log(ctx context.Context) *slog.Logger {
	return logger.From(s.logger, ctx)
}

func (s *Session) apply(ctx context.Context, ev Event) {
	prev := s.state

	if _, ok := ev.(Sampled); ok {
		if prev.Phase == PhaseCapturing && !prev.Busy {
			samplesTotal.WithLabelValues(sampleEvaluated).Inc()
		} else {
			samplesTotal.WithLabelValues(sampleIgnored).Inc()
		}
	}

	next, effects := Transition(prev, ev)
	s.state = next

	if next.Phase != prev.Phase {
		transitionsTotal.WithLabelValues(prev.Phase.String(), next.Phase.String()).Inc()

		s.log(ctx).Debug("enrollment phase changed",
			"from", prev.Phase.String(),
			"to", next.Phase.String(),
			"attempt", next.Attempt)
	}

	for _, effect := range effects {
		s.dispatch(ctx, effect)
	}

	s.publish()
}

func (s *Session) publish() {
	view := s.state.View()

	if current := s.view.Load(); current != nil && *current == view {
		return
	}

	s.view.Store(&view)

	for _, listener := range s.viewListeners {
		listener(view)
	}
}

func (s *Session) dispatch(ctx context.Context, effect Effect) {
	switch effect := effect.(type) {
	case CaptureRequested:
		s.submit(ctx, func() Event {
			return s.capture(ctx, effect)
		}, func(err error) Event {
			return CaptureSettled{Token: effect.Token, Err: WrapStepError(effect.Step, err)}
		})
	case UploadRequested:
		s.submit(ctx, func() Event {
			return s.upload(ctx, effect)
		}, func(err error) Event {
			return UploadSettled{Token: effect.Token, Err: err}
		})
	case Discarded:
		refs := effect.Artifacts

		if err := s.pool.Go(func() {
			if err := s.discard(refs...); err != nil {
				s.log(ctx).Warn("failed to discard snapshots", "error", err)
			}
		}); err != nil {
			s.log(ctx).Warn("failed to schedule snapshot cleanup", "error", err)
		}
	case Completed:
		outcomesTotal.WithLabelValues(effect.Outcome.Kind.String()).Inc()

		s.log(ctx).Info("enrollment attempt completed",
			"outcome", effect.Outcome.Kind.String(),
			"attempt", effect.Outcome.Attempt,
			"attempt_id", effect.Outcome.AttemptID.String(),
			"reason", effect.Outcome.Reason)

		for _, listener := range s.outcomeListeners {
			listener(effect.Outcome)
		}
	}
}

// submit runs work on the pool and feeds its result back to the loop. A
// panic in work, or a pool that refuses the task, becomes a failed result
// so the session never stays busy forever.
func (s *Session) submit(ctx context.Context, work func() Event, failed func(error) Event) {
	err := s.pool.Go(func() {
		var ev Event

		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log(ctx).Error("enrollment effect panicked",
						"panic", fmt.Sprint(r), "stack", string(debug.Stack()))

					ev = failed(fmt.Errorf("%w: %v", ErrEffectPanicked, r))
				}
			}()

			ev = work()
		}()

		s.deliver(ctx, ev)
	})
	if err != nil {
		failure := failed(err)

		go s.deliver(ctx, failure)
	}
}

func (s *Session) deliver(ctx context.Context, ev Event) {
	select {
	case s.results <- ev:
	case <-ctx.Done():
		lateResultsTotal.Inc()
		s.discardLate(ctx, ev)
	}
}

// discardLate releases the artifact of a capture that finished after the
// session stopped.
func (s *Session) discardLate(ctx context.Context, ev Event) {
	settled, ok := ev.(CaptureSettled)
	if !ok || settled.Err != nil || settled.Artifact.URI == "" {
		return
	}

	if err := s.discard(settled.Artifact); err != nil {
		s.log(ctx).Warn("failed to discard late snapshot", "error", err)
	}
}

func (s *Session) capture(ctx context.Context, req CaptureRequested) Event {
	ctx, cancel := context.WithTimeout(ctx, s.config.CaptureTimeout)
	defer cancel()

	var ref snapshot.ArtifactRef

	err := telemetry.Traced(ctx, "enrollment.capture", func(ctx context.Context) error {
		var err error

		ref, err = s.capturer.Capture(ctx, req.Step)

		return err
	}, attribute.String("step", req.Step.String()))
	if err != nil {
		capturesTotal.WithLabelValues(req.Step.String(), captureFailure).Inc()
		s.log(ctx).Warn("snapshot capture failed", "step", req.Step.String(), "error", err)

		return CaptureSettled{Token: req.Token, Err: WrapStepError(req.Step, err)}
	}

	capturesTotal.WithLabelValues(req.Step.String(), captureSuccess).Inc()
	s.log(ctx).Debug("snapshot captured", "step", req.Step.String(), "uri", ref.URI)

	return CaptureSettled{Token: req.Token, Artifact: ref}
}

func (s *Session) upload(ctx context.Context, req UploadRequested) Event {
	ctx, cancel := context.WithTimeout(ctx, s.config.UploadTimeout)
	defer cancel()

	err := s.uploader.Upload(ctx, req.AttemptID, req.Artifacts)

	return UploadSettled{Token: req.Token, Err: err}
}

// release discards artifacts still held by a session that ended without a
// successful upload.
func (s *Session) release(ctx context.Context) {
	if s.state.Phase == PhaseDone || s.state.Artifacts.Len() == 0 {
		return
	}

	if err := s.discard(s.state.Artifacts.Ordered()...); err != nil {
		s.log(ctx).Warn("failed to discard snapshots of an unfinished session", "error", err)
	}
}
