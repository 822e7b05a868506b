// Package timeout runs value-producing operations under a deadline, optionally
// letting them finish in the background after the caller gave up waiting.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSynthetic marks a timeout imposed by Run. It is never a context error.
var ErrSynthetic = errors.New("synthetic timeout")

// Error is returned when the operation exceeded its deadline.
type Error struct {
	Timeout time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.Timeout)
}

func (e *Error) Is(target error) bool { return target == ErrSynthetic }

// Result is what a detached operation eventually produces.
type Result[T any] struct {
	Value T
	Err   error
}

// Run executes fn with timeout d. A d <= 0 means no timeout and fn runs inline.
// Panics in fn are returned as errors either way.
//
// When allowBackground is true fn runs on a context that ignores the caller's
// cancellation; if the caller stops waiting (timeout or cancellation) the
// channel that will carry the eventual result is passed to onBackground, which
// must not block.
// Otherwise the operation's context is cancelled when Run returns early.
//
// Cancellation of ctx is reported as ctx.Err(), never as a synthetic timeout.
func Run[T any](
	ctx context.Context,
	d time.Duration,
	allowBackground bool,
	fn func(context.Context) (T, error),
	onBackground func(<-chan Result[T]),
) (T, error) {
	if d <= 0 {
		return runInline(ctx, fn)
	}

	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	var (
		opCtx  context.Context
		cancel context.CancelFunc
	)
	if allowBackground {
		opCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
	} else {
		opCtx, cancel = context.WithCancel(ctx)
	}

	done := make(chan Result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result[T]{Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(opCtx)
		done <- Result[T]{Value: v, Err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	detach := func() {
		if !allowBackground {
			cancel()
			return
		}
		// the detached operation owns cancel from here on
		out := make(chan Result[T], 1)
		go func() {
			r := <-done
			cancel()
			out <- r
			close(out)
		}()
		if onBackground != nil {
			onBackground(out)
		}
	}

	select {
	case r := <-done:
		cancel()
		return r.Value, r.Err
	case <-timer.C:
		detach()
		return zero, &Error{Timeout: d}
	case <-ctx.Done():
		detach()
		return zero, ctx.Err()
	}
}

func runInline[T any](ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
