package enrollment

import (
	"context"
	"net/url"
	"time"

	"github.com/attendify/faceenroll/envutil"
	"github.com/google/uuid"
)

const (
	defaultSampleBuffer   = 64
	defaultWorkers        = 4
	defaultCaptureTimeout = 10 * time.Second
	defaultUploadTimeout  = 30 * time.Second
)

// Config tunes a Session.
type Config struct {
	// SampleBuffer is how many samples may wait for the loop before Offer
	// starts dropping them.
	SampleBuffer int
	// Workers bounds concurrent capture and upload effects.
	Workers        int
	CaptureTimeout time.Duration
	UploadTimeout  time.Duration
	// UploadURL is the register-face endpoint. Nil when not configured.
	UploadURL *url.URL
	// SessionID pins the session id, for correlating with a caller that
	// already allocated one. uuid.Nil means a random id.
	SessionID uuid.UUID
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		SampleBuffer:   defaultSampleBuffer,
		Workers:        defaultWorkers,
		CaptureTimeout: defaultCaptureTimeout,
		UploadTimeout:  defaultUploadTimeout,
	}
}

// LoadConfig reads ENROLL_* environment variables on top of the defaults.
func LoadConfig(ctx context.Context) (Config, error) {
	cfg := DefaultConfig()

	var err error

	cfg.SampleBuffer, err = envutil.Int(ctx, "ENROLL_SAMPLE_BUFFER",
		envutil.Default(defaultSampleBuffer), envutil.Positive[int]()).
		Value()
	if err != nil {
		return Config{}, err
	}

	cfg.Workers, err = envutil.Int(ctx, "ENROLL_WORKERS",
		envutil.Default(defaultWorkers), envutil.Positive[int]()).
		Value()
	if err != nil {
		return Config{}, err
	}

	cfg.CaptureTimeout, err = envutil.Duration(ctx, "ENROLL_CAPTURE_TIMEOUT",
		envutil.Default(defaultCaptureTimeout), envutil.Positive[time.Duration]()).
		Value()
	if err != nil {
		return Config{}, err
	}

	cfg.UploadTimeout, err = envutil.Duration(ctx, "ENROLL_UPLOAD_TIMEOUT",
		envutil.Default(defaultUploadTimeout), envutil.Positive[time.Duration]()).
		Value()
	if err != nil {
		return Config{}, err
	}

	cfg.SessionID, err = envutil.UUID(ctx, "ENROLL_SESSION_ID",
		envutil.Default(uuid.Nil)).
		Value()
	if err != nil {
		return Config{}, err
	}

	uploadURL := envutil.URL(ctx, "ENROLL_UPLOAD_URL")
	if uploadURL.HasError() {
		_, err = uploadURL.Value()

		return Config{}, err
	}

	if uploadURL.HasValue() {
		cfg.UploadURL, _ = uploadURL.Value()
	}

	return cfg, nil
}
