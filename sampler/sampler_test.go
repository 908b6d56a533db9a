package sampler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/attendify/faceenroll/pose"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	samples []*pose.Sample
}

func (r *recorder) sink(sample *pose.Sample) bool {
	r.samples = append(r.samples, sample)

	return true
}

func TestAnalyze_ForwardsDetection(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	detector := DetectorFunc(func(context.Context, Frame) (*pose.Sample, error) {
		return &pose.Sample{Yaw: 3, Roll: 1}, nil
	})

	s := New(detector, rec.sink, WithLogger(slogt.New(t)))

	assert.True(t, s.Analyze(t.Context(), Frame{Seq: 1}))
	require.Len(t, rec.samples, 1)
	assert.Equal(t, &pose.Sample{Yaw: 3, Roll: 1}, rec.samples[0])
}

func TestAnalyze_SwallowsErrors(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	detector := DetectorFunc(func(context.Context, Frame) (*pose.Sample, error) {
		return &pose.Sample{Yaw: 3}, errors.New("model not loaded")
	})

	s := New(detector, rec.sink, WithLogger(slogt.New(t)))

	assert.NotPanics(t, func() {
		s.Analyze(t.Context(), Frame{Seq: 7})
	})
	require.Len(t, rec.samples, 1)
	assert.Nil(t, rec.samples[0])
}

func TestAnalyze_SwallowsPanics(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	detector := DetectorFunc(func(context.Context, Frame) (*pose.Sample, error) {
		panic("landmark index out of range")
	})

	s := New(detector, rec.sink, WithLogger(slogt.New(t)))

	assert.NotPanics(t, func() {
		s.Analyze(t.Context(), Frame{Seq: 9})
	})
	require.Len(t, rec.samples, 1)
	assert.Nil(t, rec.samples[0])
}

func TestAnalyze_ReportsSinkRejection(t *testing.T) {
	t.Parallel()

	detector := DetectorFunc(func(context.Context, Frame) (*pose.Sample, error) {
		return nil, nil
	})

	s := New(detector, func(*pose.Sample) bool { return false })

	assert.False(t, s.Analyze(t.Context(), Frame{}))
}

func TestAnalyze_MutesLongFailureStreaks(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	errNoModel := errors.New("model not loaded")

	detector := DetectorFunc(func(_ context.Context, frame Frame) (*pose.Sample, error) {
		if frame.Seq == 10 {
			return &pose.Sample{}, nil
		}

		return nil, errNoModel
	})

	s := New(detector, func(*pose.Sample) bool { return true },
		WithLogger(log), WithFailureLogLimit(2))

	for seq := range uint64(10) {
		s.Analyze(t.Context(), Frame{Seq: seq})
	}

	assert.Equal(t, 2, strings.Count(buf.String(), "detector failed"))

	s.Analyze(t.Context(), Frame{Seq: 10})
	s.Analyze(t.Context(), Frame{Seq: 11})

	assert.Equal(t, 3, strings.Count(buf.String(), "detector failed"))
	assert.Contains(t, buf.String(), "frame=11")
}

func TestPump(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	detector := DetectorFunc(func(_ context.Context, frame Frame) (*pose.Sample, error) {
		return &pose.Sample{Yaw: float64(frame.Seq)}, nil
	})

	s := New(detector, rec.sink)

	frames := make(chan Frame, 3)
	for i := range 3 {
		frames <- Frame{Seq: uint64(i)}
	}

	close(frames)

	require.NoError(t, s.Pump(t.Context(), frames))
	require.Len(t, rec.samples, 3)
	assert.InDelta(t, 2.0, rec.samples[2].Yaw, 0)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	assert.ErrorIs(t, s.Pump(ctx, make(chan Frame)), context.Canceled)
}

const testScript = `
- {yaw: 0, roll: 2, repeat: 3}
- {face: false, repeat: 2}
- {yaw: 30}
`

func TestParseScript(t *testing.T) {
	t.Parallel()

	script, err := ParseScript([]byte(testScript))
	require.NoError(t, err)

	samples, err := script.Samples()
	require.NoError(t, err)
	require.Len(t, samples, 6)

	for _, s := range samples[:3] {
		assert.Equal(t, &pose.Sample{Yaw: 0, Roll: 2}, s)
	}

	assert.Nil(t, samples[3])
	assert.Nil(t, samples[4])
	assert.Equal(t, &pose.Sample{Yaw: 30}, samples[5])
}

func TestParseScript_Invalid(t *testing.T) {
	t.Parallel()

	_, err := ParseScript([]byte("- {yaw: 1, repeat: -2}"))
	require.ErrorIs(t, err, ErrInvalidScript)

	_, err = ParseScript([]byte("yaw: [not, a, list"))
	require.ErrorIs(t, err, ErrInvalidScript)
}

func TestScriptPlay(t *testing.T) {
	t.Parallel()

	script, err := ParseScript([]byte(testScript))
	require.NoError(t, err)

	calls := 0
	accepted, err := script.Play(t.Context(), 0, func(*pose.Sample) bool {
		calls++

		return calls%2 == 0
	})
	require.NoError(t, err)
	assert.Equal(t, 6, calls)
	assert.Equal(t, 3, accepted)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err = script.Play(ctx, time.Millisecond, func(*pose.Sample) bool { return true })
	assert.ErrorIs(t, err, context.Canceled)
}
