// Package envutil reads typed configuration from environment variables.
package envutil

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

func get(ctx context.Context, key string) Reader[string] {
	if val, ok := getEnvOverride(ctx, key); ok {
		return Reader[string]{key: key, present: true, value: val}
	}

	val, ok := os.LookupEnv(key)

	return Reader[string]{
		key:     key,
		present: ok,
		value:   val,
	}
}

func apply[T any](rdr Reader[T], opts []Option[T]) Reader[T] {
	for _, opt := range opts {
		rdr = opt(rdr)
	}

	return rdr
}

// String returns a Reader for the given environment variable key.
func String(ctx context.Context, key string, opts ...Option[string]) Reader[string] {
	return apply(get(ctx, key), opts)
}

// Bool parses the value with strconv.ParseBool, so 1, t, true, 0, f and
// false (in the usual cases) are all accepted.
func Bool(ctx context.Context, key string, opts ...Option[bool]) Reader[bool] {
	return apply(Map(get(ctx, key), strconv.ParseBool), opts)
}

// Int parses a base-10 integer. Surrounding whitespace is ignored.
func Int(ctx context.Context, key string, opts ...Option[int]) Reader[int] {
	return apply(Map(get(ctx, key), func(s string) (int, error) {
		return strconv.Atoi(strings.TrimSpace(s))
	}), opts)
}

// Float64 parses a floating point number. Surrounding whitespace is
// ignored.
func Float64(ctx context.Context, key string, opts ...Option[float64]) Reader[float64] {
	return apply(Map(get(ctx, key), func(s string) (float64, error) {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}), opts)
}

// Duration parses a Go duration string such as "1500ms" or "2m30s".
func Duration(ctx context.Context, key string, opts ...Option[time.Duration]) Reader[time.Duration] {
	return apply(Map(get(ctx, key), func(s string) (time.Duration, error) {
		return time.ParseDuration(strings.TrimSpace(s))
	}), opts)
}

// URL parses the value as an absolute URL.
func URL(ctx context.Context, key string, opts ...Option[*url.URL]) Reader[*url.URL] {
	return apply(Map(get(ctx, key), func(s string) (*url.URL, error) {
		u, err := url.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}

		if !u.IsAbs() {
			return nil, fmt.Errorf("%w: %q is not an absolute url", ErrBadEnvVar, s)
		}

		return u, nil
	}), opts)
}

// UUID parses any form uuid.Parse accepts, including the urn:uuid: prefix.
func UUID(ctx context.Context, key string, opts ...Option[uuid.UUID]) Reader[uuid.UUID] {
	return apply(Map(get(ctx, key), uuid.Parse), opts)
}

// SlogLevel accepts debug, info, warn, error (any case) or anything
// slog.Level.UnmarshalText understands, such as "info+2".
func SlogLevel(ctx context.Context, key string, opts ...Option[slog.Level]) Reader[slog.Level] {
	return apply(Map(get(ctx, key), func(s string) (slog.Level, error) {
		var level slog.Level

		err := level.UnmarshalText([]byte(strings.TrimSpace(s)))

		return level, err
	}), opts)
}
