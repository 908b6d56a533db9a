package envutil

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned by the range validators.
var ErrOutOfRange = errors.New("value out of range")

// Option modifies a Reader. Readers like String and Duration accept them so
// callers can supply defaults and validation inline.
type Option[T any] func(Reader[T]) Reader[T]

// Default provides a value for when the variable is not set.
func Default[T any](dfl T) Option[T] {
	return func(rdr Reader[T]) Reader[T] {
		return rdr.WithDefault(dfl)
	}
}

// Validate runs f on the value; an error from f becomes the Reader's error.
func Validate[T any](f func(T) error) Option[T] {
	return func(rdr Reader[T]) Reader[T] {
		return rdr.Map(func(val T) (T, error) {
			return val, f(val)
		})
	}
}

// Positive rejects zero and negative values.
func Positive[T ~int | ~int64 | ~float64]() Option[T] {
	return Validate(func(v T) error {
		if v <= 0 {
			return fmt.Errorf("%w: %v must be positive", ErrOutOfRange, v)
		}

		return nil
	})
}
