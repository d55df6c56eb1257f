// internal/ctxutil/ctxutil.go
package ctxutil

import (
	"context"
	"time"
)

// CombineContext returns a context that carries the values and deadline of
// primary and is additionally canceled when secondary is done. The browser
// driver uses it to apply a step deadline to a tab context, whose values hold
// the CDP target.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

// valueOnlyContext keeps the values of its parent but none of its deadline or
// cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that inherits values from ctx but is not canceled
// when ctx is. Steps run on a detached context so that a cancellation only
// takes effect between steps.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
