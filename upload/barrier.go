package upload

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// ErrPanicRecovered wraps a panic raised by an endpoint.
var ErrPanicRecovered = errors.New("panic recovered")

// all runs every callback with at most limit in flight and waits for all of
// them. The first failure cancels the context handed to the rest. All
// failures are joined into the result.
func all(ctx context.Context, limit int, callbacks ...func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if limit < 1 {
		limit = len(callbacks)
	}

	sem := make(chan struct{}, limit)
	errs := make([]error, len(callbacks))

	var wg sync.WaitGroup

	for i, callback := range callbacks {
		wg.Add(1)

		go func() {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			errs[i] = invoke(ctx, callback)
			if errs[i] != nil {
				cancel()
			}
		}()
	}

	wg.Wait()

	return errors.Join(errs...)
}

func invoke(ctx context.Context, callback func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("%w: %w\n%s", ErrPanicRecovered, e, debug.Stack())
			} else {
				err = fmt.Errorf("%w: %v\n%s", ErrPanicRecovered, r, debug.Stack())
			}
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	return callback(ctx)
}
