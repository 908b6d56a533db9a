package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/attendify/faceenroll/pose"
	"github.com/google/uuid"
)

// ErrEmptyFrame is returned when a grabber produces no image data.
var ErrEmptyFrame = errors.New("empty frame")

const artifactFilePerms = 0o600

// Capturer takes the high-quality snapshot for a step. Implementations may
// block on camera hardware and must honor ctx.
type Capturer interface {
	Capture(ctx context.Context, step pose.Step) (ArtifactRef, error)
}

// CapturerFunc adapts a function to the Capturer interface.
type CapturerFunc func(ctx context.Context, step pose.Step) (ArtifactRef, error)

// Capture calls f(ctx, step).
func (f CapturerFunc) Capture(ctx context.Context, step pose.Step) (ArtifactRef, error) {
	return f(ctx, step)
}

// Grabber returns one encoded (JPEG) frame from the camera.
type Grabber interface {
	Grab(ctx context.Context) ([]byte, error)
}

// GrabberFunc adapts a function to the Grabber interface.
type GrabberFunc func(ctx context.Context) ([]byte, error)

// Grab calls f(ctx).
func (f GrabberFunc) Grab(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// FileCapturer grabs a frame and writes it to Dir. The artifact URI is the
// path of the written file.
type FileCapturer struct {
	Dir     string
	Grabber Grabber
	Now     func() time.Time
}

// NewFileCapturer returns a FileCapturer writing into dir.
func NewFileCapturer(dir string, grabber Grabber) *FileCapturer {
	return &FileCapturer{
		Dir:     dir,
		Grabber: grabber,
		Now:     time.Now,
	}
}

// Capture implements Capturer.
func (c *FileCapturer) Capture(ctx context.Context, step pose.Step) (ArtifactRef, error) {
	data, err := c.Grabber.Grab(ctx)
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("grabbing %s frame: %w", step, err)
	}

	if len(data) == 0 {
		return ArtifactRef{}, fmt.Errorf("grabbing %s frame: %w", step, ErrEmptyFrame)
	}

	// The grab may have taken a while; don't write a file nobody will read.
	if err := ctx.Err(); err != nil {
		return ArtifactRef{}, err
	}

	path := filepath.Join(c.Dir, fmt.Sprintf("%s-%s.jpg", step.Field(), uuid.NewString()))

	if err := os.WriteFile(path, data, artifactFilePerms); err != nil {
		return ArtifactRef{}, fmt.Errorf("writing %s snapshot: %w", step, err)
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	return ArtifactRef{
		Step:       step,
		URI:        path,
		CapturedAt: now(),
	}, nil
}

// Discard removes the files behind refs. Missing files are not an error.
func Discard(refs ...ArtifactRef) error {
	var errs []error

	for _, ref := range refs {
		if ref.URI == "" {
			continue
		}

		if err := os.Remove(ref.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
