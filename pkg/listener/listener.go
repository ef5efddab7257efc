// Package listener runs a handler over the items of a channel in a
// background goroutine. The store's flusher is built on it.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var errStopped = errors.New("listener stopped")

type Job interface {
	Start(ctx context.Context)
	Stop()
}

type Listener[T any] struct {
	handler     func(input T) error
	stopHandler func()

	in     <-chan T
	wg     sync.WaitGroup
	cancel func()
}

func New[T any](
	in <-chan T,
	handler func(T) error,
	stopHandler ...func(),
) *Listener[T] {
	if len(stopHandler) == 0 {
		stopHandler = []func(){func() {}}
	}

	return &Listener[T]{
		in:          in,
		handler:     handler,
		cancel:      func() {},
		stopHandler: stopHandler[0],
	}
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for {
			err := l.run(ctx)
			switch {
			case errors.Is(err, errStopped):
				return
			case err != nil:
				// Handler failures must not kill the loop; the handler owns
				// its own retry/abandon policy.
				slog.Error("listener handler failed", "error", err)
			}
		}
	}()
}

func (l *Listener[T]) run(ctx context.Context) error {
	select {
	case inp := <-l.in:
		return l.handler(inp)
	case <-ctx.Done():
		return errStopped
	}
}

// Stop cancels the loop, waits for the in-flight handler call to finish and
// then drains whatever is left in the channel through the handler, so queued
// work is not silently dropped on shutdown.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.wg.Wait()

	for {
		select {
		case inp := <-l.in:
			if err := l.handler(inp); err != nil {
				slog.Error("listener drain failed", "error", err)
			}
		default:
			l.stopHandler()
			return
		}
	}
}
