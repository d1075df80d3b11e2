package source

import (
	"context"
	"errors"
	"time"
)

// Retry calls fn up to attempts times with exponential backoff between
// initial and max. Not-found errors are returned at once.
func Retry(ctx context.Context, attempts int, initial, max time.Duration, fn func() error) error {
	if attempts <= 1 {
		return fn()
	}
	d := initial
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return errors.Join(ctx.Err(), err)
			}
			d = min(d*2, max)
		}
		if err = fn(); err == nil || IsNotFound(err) {
			return err
		}
	}
	return err
}
