package enrollment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/attendify/faceenroll/envutil"
	"github.com/attendify/faceenroll/pose"
	"github.com/attendify/faceenroll/snapshot"
	"github.com/attendify/faceenroll/upload"
	"github.com/google/uuid"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 10 * time.Second

type uploaderFunc func(ctx context.Context, attemptID uuid.UUID, refs []snapshot.ArtifactRef) error

func (f uploaderFunc) Upload(ctx context.Context, attemptID uuid.UUID, refs []snapshot.ArtifactRef) error {
	return f(ctx, attemptID, refs)
}

// recordingCapturer hands out in-memory artifacts and remembers every call.
type recordingCapturer struct {
	mu    sync.Mutex
	calls []pose.Step
	fail  func(call int, step pose.Step) error
}

func (c *recordingCapturer) Capture(_ context.Context, step pose.Step) (snapshot.ArtifactRef, error) {
	c.mu.Lock()
	c.calls = append(c.calls, step)
	call := len(c.calls)
	c.mu.Unlock()

	if c.fail != nil {
		if err := c.fail(call, step); err != nil {
			return snapshot.ArtifactRef{}, err
		}
	}

	return snapshot.ArtifactRef{
		Step:       step,
		URI:        "mem://" + uuid.NewString(),
		CapturedAt: time.Now(),
	}, nil
}

func (c *recordingCapturer) Calls() []pose.Step {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]pose.Step(nil), c.calls...)
}

type discardLog struct {
	mu   sync.Mutex
	refs []snapshot.ArtifactRef
}

func (d *discardLog) Discard(refs ...snapshot.ArtifactRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.refs = append(d.refs, refs...)

	return nil
}

func (d *discardLog) Refs() []snapshot.ArtifactRef {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]snapshot.ArtifactRef(nil), d.refs...)
}

func run(t *testing.T, s *Session) <-chan error {
	t.Helper()

	errc := make(chan error, 1)

	go func() {
		errc <- s.Run(t.Context())
	}()

	return errc
}

// drive keeps offering samples that satisfy whatever step the session is
// currently on, until the session stops or the test ends.
func drive(t *testing.T, s *Session) {
	t.Helper()

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })

	go func() {
		ticker := time.NewTicker(200 * time.Microsecond)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-s.Done():
				return
			case <-ticker.C:
				s.Offer(holding(s.View().Step))
			}
		}
	}()
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		require.FailNow(t, "timed out waiting")

		var zero T

		return zero
	}
}

func TestSession_CompletesEnrollment(t *testing.T) {
	t.Parallel()

	capturer := &recordingCapturer{}
	outcomes := make(chan Outcome, 1)

	var (
		mu       sync.Mutex
		uploaded []snapshot.ArtifactRef
	)

	uploader := uploaderFunc(func(_ context.Context, _ uuid.UUID, refs []snapshot.ArtifactRef) error {
		mu.Lock()
		defer mu.Unlock()

		uploaded = refs

		return nil
	})

	s := NewSession(capturer, uploader,
		WithLogger(slogt.New(t)),
		WithOutcomeListener(func(o Outcome) { outcomes <- o }))

	errc := run(t, s)
	require.NoError(t, s.Start())
	drive(t, s)

	outcome := wait(t, outcomes)
	assert.Equal(t, Success, outcome.Kind)
	require.NoError(t, wait(t, errc))

	assert.Equal(t, []pose.Step{pose.Center, pose.Left, pose.Right}, capturer.Calls())

	mu.Lock()
	assert.Equal(t, outcome.Artifacts, uploaded)
	mu.Unlock()

	view := s.View()
	assert.Equal(t, PhaseDone, view.Phase)
	assert.Equal(t, GuidanceDone, view.Guidance)
	assert.False(t, s.Offer(holding(pose.Center)))
	assert.ErrorIs(t, s.Start(), ErrClosed)
}

func TestSession_RejectedUploadRollsBackAndRestarts(t *testing.T) {
	t.Parallel()

	var (
		mu           sync.Mutex
		firstAttempt uuid.UUID
		lastAttempt  uuid.UUID
	)

	endpoint := upload.EndpointFunc(func(_ context.Context, attemptID uuid.UUID, part upload.Part) error {
		mu.Lock()
		if firstAttempt == uuid.Nil {
			firstAttempt = attemptID
		}

		lastAttempt = attemptID
		first := attemptID == firstAttempt
		mu.Unlock()

		if first && part.Step == pose.Right {
			return errors.New("status 500")
		}

		return nil
	})

	discards := &discardLog{}
	outcomes := make(chan Outcome, 2)

	var s *Session

	s = NewSession(&recordingCapturer{}, upload.NewBatcher(endpoint, upload.WithLogger(slogt.New(t))),
		WithLogger(slogt.New(t)),
		WithDiscard(discards.Discard),
		WithOutcomeListener(func(o Outcome) {
			outcomes <- o

			if o.Kind == Failure {
				// The user dismisses the notice and taps Start again.
				assert.NoError(t, s.Acknowledge())
				assert.NoError(t, s.Start())
			}
		}))

	errc := run(t, s)
	require.NoError(t, s.Start())
	drive(t, s)

	failed := wait(t, outcomes)
	assert.Equal(t, Failure, failed.Kind)
	assert.Contains(t, failed.Reason, "status 500")
	assert.Equal(t, 1, failed.Attempt)

	succeeded := wait(t, outcomes)
	assert.Equal(t, Success, succeeded.Kind)
	assert.Equal(t, 2, succeeded.Attempt)
	assert.NotEqual(t, failed.AttemptID, succeeded.AttemptID)

	require.NoError(t, wait(t, errc))

	// Everything from the failed attempt was released, nothing from the second.
	discarded := discards.Refs()
	require.Len(t, discarded, 3)

	for _, ref := range succeeded.Artifacts {
		assert.NotContains(t, discarded, ref)
	}

	mu.Lock()
	assert.Equal(t, failed.AttemptID, firstAttempt)
	assert.Equal(t, succeeded.AttemptID, lastAttempt)
	mu.Unlock()
}

func TestSession_CaptureFailureRetriesSameStep(t *testing.T) {
	t.Parallel()

	capturer := &recordingCapturer{
		fail: func(call int, step pose.Step) error {
			if step == pose.Left && call == 2 {
				return errors.New("camera disconnected")
			}

			return nil
		},
	}

	notices := make(chan View, 16)
	outcomes := make(chan Outcome, 1)

	s := NewSession(capturer, uploaderFunc(func(context.Context, uuid.UUID, []snapshot.ArtifactRef) error {
		return nil
	}),
		WithLogger(slogt.New(t)),
		WithViewListener(func(v View) {
			if v.Notice != "" {
				select {
				case notices <- v:
				default:
				}
			}
		}),
		WithOutcomeListener(func(o Outcome) { outcomes <- o }))

	errc := run(t, s)
	require.NoError(t, s.Start())
	drive(t, s)

	notice := wait(t, notices)
	assert.Equal(t, NoticeCaptureFailed, notice.Notice)
	assert.Equal(t, pose.Left, notice.Step)
	assert.Equal(t, 0, notice.Progress)
	assert.Equal(t, 1, notice.Captured)

	outcome := wait(t, outcomes)
	assert.Equal(t, Success, outcome.Kind)
	require.NoError(t, wait(t, errc))

	assert.Equal(t, []pose.Step{pose.Center, pose.Left, pose.Left, pose.Right}, capturer.Calls())
}

func TestSession_CapturePanicIsAFailedCapture(t *testing.T) {
	t.Parallel()

	capturer := &recordingCapturer{
		fail: func(call int, _ pose.Step) error {
			if call == 1 {
				panic("frame buffer gone")
			}

			return nil
		},
	}

	outcomes := make(chan Outcome, 1)

	s := NewSession(capturer, uploaderFunc(func(context.Context, uuid.UUID, []snapshot.ArtifactRef) error {
		return nil
	}),
		WithLogger(slogt.New(t)),
		WithOutcomeListener(func(o Outcome) { outcomes <- o }))

	errc := run(t, s)
	require.NoError(t, s.Start())
	drive(t, s)

	assert.Equal(t, Success, wait(t, outcomes).Kind)
	require.NoError(t, wait(t, errc))
	assert.Equal(t, []pose.Step{pose.Center, pose.Center, pose.Left, pose.Right}, capturer.Calls())
}

func TestSession_BusyDropsSamplesAndAbandonIgnoresLateResult(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})

	var (
		callsMu sync.Mutex
		calls   int
	)

	late := snapshot.ArtifactRef{Step: pose.Center, URI: "mem://late", CapturedAt: time.Now()}

	capturer := snapshot.CapturerFunc(func(ctx context.Context, _ pose.Step) (snapshot.ArtifactRef, error) {
		callsMu.Lock()
		calls++
		first := calls == 1
		callsMu.Unlock()

		if first {
			close(started)
		}

		// Finishes only after the session is gone, and still reports a snapshot.
		<-ctx.Done()

		return late, nil
	})

	discards := &discardLog{}

	s := NewSession(capturer, uploaderFunc(func(context.Context, uuid.UUID, []snapshot.ArtifactRef) error {
		t.Error("nothing should be uploaded")

		return nil
	}),
		WithLogger(slogt.New(t)),
		WithDiscard(discards.Discard))

	errc := run(t, s)
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool {
		return s.View().Phase == PhaseCapturing
	}, waitTimeout, time.Millisecond)

	for range 25 {
		for !s.Offer(holding(pose.Center)) {
			time.Sleep(time.Millisecond)
		}
	}

	wait(t, started)

	for range 50 {
		s.Offer(holding(pose.Center))
		s.Offer(nil)
	}

	time.Sleep(50 * time.Millisecond)

	view := s.View()
	assert.True(t, view.Busy)
	assert.Equal(t, 100, view.Progress)
	assert.Equal(t, pose.Center, view.Step)

	s.Abandon()

	require.NoError(t, wait(t, errc))

	callsMu.Lock()
	assert.Equal(t, 1, calls)
	callsMu.Unlock()

	assert.Equal(t, []snapshot.ArtifactRef{late}, discards.Refs())
	assert.Equal(t, 0, s.View().Captured)
	assert.False(t, s.Offer(holding(pose.Center)))
}

func TestSession_AbandonReleasesHeldArtifacts(t *testing.T) {
	t.Parallel()

	discards := &discardLog{}
	views := make(chan View, 64)

	// The upload never finishes, so the session is still holding snapshots
	// whenever it is abandoned.
	s := NewSession(&recordingCapturer{}, uploaderFunc(func(ctx context.Context, _ uuid.UUID, _ []snapshot.ArtifactRef) error {
		<-ctx.Done()

		return ctx.Err()
	}),
		WithLogger(slogt.New(t)),
		WithDiscard(discards.Discard),
		WithViewListener(func(v View) {
			if v.Step == pose.Left {
				select {
				case views <- v:
				default:
				}
			}
		}))

	errc := run(t, s)
	require.NoError(t, s.Start())
	drive(t, s)

	wait(t, views)
	s.Abandon()
	require.NoError(t, wait(t, errc))

	var steps []pose.Step
	for _, ref := range discards.Refs() {
		steps = append(steps, ref.Step)
	}

	assert.Contains(t, steps, pose.Center)
}

func TestSession_OfferNeverBlocks(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SampleBuffer = 2

	s := NewSession(&recordingCapturer{}, nil, WithConfig(cfg))

	assert.True(t, s.Offer(holding(pose.Center)))
	assert.True(t, s.Offer(nil))
	assert.False(t, s.Offer(holding(pose.Center)))
}

func TestSession_RunLifecycle(t *testing.T) {
	t.Parallel()

	s := NewSession(&recordingCapturer{}, nil, WithLogger(slogt.New(t)))
	s.Abandon()
	s.Abandon()

	require.NoError(t, s.Run(t.Context()))
	require.ErrorIs(t, s.Run(t.Context()), ErrAlreadyRunning)
	require.ErrorIs(t, s.Acknowledge(), ErrClosed)

	ctx, cancel := context.WithCancel(t.Context())

	other := NewSession(&recordingCapturer{}, nil, WithLogger(slogt.New(t)))
	cancel()

	require.ErrorIs(t, other.Run(ctx), context.Canceled)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(t.Context())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	ctx := envutil.WithEnvOverride(t.Context(), "ENROLL_SAMPLE_BUFFER", "16")
	ctx = envutil.WithEnvOverride(ctx, "ENROLL_UPLOAD_TIMEOUT", "45s")
	ctx = envutil.WithEnvOverride(ctx, "ENROLL_UPLOAD_URL", "https://api.example.com/api/v1/register-face")

	cfg, err = LoadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.SampleBuffer)
	assert.Equal(t, 45*time.Second, cfg.UploadTimeout)
	assert.Equal(t, defaultCaptureTimeout, cfg.CaptureTimeout)
	require.NotNil(t, cfg.UploadURL)
	assert.Equal(t, "api.example.com", cfg.UploadURL.Host)

	for key, value := range map[string]string{
		"ENROLL_WORKERS":         "0",
		"ENROLL_CAPTURE_TIMEOUT": "soon",
		"ENROLL_UPLOAD_URL":      "/relative/path",
		"ENROLL_SESSION_ID":      "not-a-uuid",
	} {
		_, err := LoadConfig(envutil.WithEnvOverride(t.Context(), key, value))
		assert.Error(t, err, key)
	}
}

func TestNewSession_SessionIDFromConfig(t *testing.T) {
	t.Parallel()

	pinned := uuid.MustParse("6f1c2a34-8d7e-4b0a-9c55-0a1b2c3d4e5f")

	cfg, err := LoadConfig(envutil.WithEnvOverride(t.Context(), "ENROLL_SESSION_ID", pinned.String()))
	require.NoError(t, err)
	assert.Equal(t, pinned, cfg.SessionID)

	assert.Equal(t, pinned, NewSession(nil, nil, WithConfig(cfg)).ID())

	explicit := uuid.New()
	assert.Equal(t, explicit, NewSession(nil, nil, WithConfig(cfg), WithSessionID(explicit)).ID())
	assert.NotEqual(t, uuid.Nil, NewSession(nil, nil).ID())
}
