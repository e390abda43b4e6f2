package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	errListenerStopped = errors.New("listener stopped")
)

// Job is a background loop with an explicit lifetime.
type Job interface {
	Start(ctx context.Context)
	Stop()
}

// Listener runs handler for every value received on in, one at a time, on a
// single goroutine. Handler errors are logged and do not stop the loop.
type Listener[T any] struct {
	name        string
	handler     func(input T) error
	stopHandler func()
	log         *slog.Logger

	in       <-chan T
	wg       sync.WaitGroup
	cancel   func()
	stopOnce sync.Once
}

func New[T any](
	name string,
	in <-chan T,
	handler func(T) error,
	stopHandler ...func(),
) *Listener[T] {
	if len(stopHandler) == 0 {
		stopHandler = []func(){func() {}}
	}

	return &Listener[T]{
		name:        name,
		in:          in,
		handler:     handler,
		cancel:      func() {},
		stopHandler: stopHandler[0],
		log:         slog.Default(),
	}
}

// WithLogger replaces the logger used for handler errors.
func (l *Listener[T]) WithLogger(log *slog.Logger) *Listener[T] {
	if log != nil {
		l.log = log
	}
	return l
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		defer l.stopped()
		for {
			err := l.run(ctx)
			switch {
			case errors.Is(err, errListenerStopped):
				return
			case err != nil:
				l.log.Error("listener handler failed", "listener", l.name, "error", err)
			}
		}
	}()
}

func (l *Listener[T]) run(ctx context.Context) error {
	select {
	case inp, ok := <-l.in:
		if !ok {
			return errListenerStopped
		}
		err := l.handler(inp)
		if err != nil {
			return fmt.Errorf("failed to handle input: %w", err)
		}
	case <-ctx.Done():
		return errListenerStopped
	}

	return nil
}

// Stop cancels the loop, waits for the in-flight handler and then runs the
// stop handler. The stop handler runs exactly once, also when the loop ends
// by itself on context cancellation or a closed channel.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.wg.Wait()
	l.stopped()
}

func (l *Listener[T]) stopped() {
	l.stopOnce.Do(l.stopHandler)
}
