package deadline

import (
	"context"
	"io"
	"time"
)

// Await runs op and a timer of duration d concurrently.
// It returns op's result and true when op finishes first, or the zero value
// and false when the timer fires (or ctx is cancelled) first. In the latter
// case the context passed to op is cancelled before Await returns.
func Await[T any](ctx context.Context, d time.Duration, op func(ctx context.Context) T) (T, bool) {
	return AwaitOrRelease(ctx, d, op, nil)
}

// AwaitOrRelease is Await with a release hook. When the race is lost and op
// still completes afterwards, release is called with the late result from
// op's goroutine, e.g. to close a connection nobody will read from.
func AwaitOrRelease[T any](ctx context.Context, d time.Duration, op func(ctx context.Context) T, release func(T)) (T, bool) {
	opCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan T, 1)
	go func() {
		done <- op(opCtx)
	}()

	select {
	case v := <-done:
		return v, true
	case <-opCtx.Done():
		cancel()
		if release != nil {
			go func() {
				release(<-done)
			}()
		}
		var zero T
		return zero, false
	}
}

// CloseOnDone closes c once ctx is done. It unblocks reads and writes on
// connections that do not observe a context. The returned stop function
// detaches the watcher; it reports false if c has already been closed.
func CloseOnDone(ctx context.Context, c io.Closer) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		_ = c.Close() //nolint:errcheck // best effort unblock
	})
}
