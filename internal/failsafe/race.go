package failsafe

import (
	"context"
	"sync"
	"time"
)

// Result is the eventual output of a raced operation.
type Result[T any] struct {
	Value T
	Err   error
}

// Outcome is what Race observed first.
type Outcome[T any] struct {
	Value T
	Err   error

	// TimedOut is true when the failsafe timer fired before op returned.
	TimedOut bool

	// Late delivers op's result if it had not returned when Race did.
	// Nil when op won the race. Buffered; op never blocks on it.
	Late <-chan Result[T]
}

// Race runs op against a failsafe timer of the given deadline.
//
// Whichever finishes first decides the outcome. If ctx is cancelled first
// the outcome carries ctx.Err(). op is not cancelled when the timer wins;
// it keeps running with ctx and its result arrives on Outcome.Late.
//
// The timer is stopped on every path except its own firing. A non-positive
// deadline means the budget is already spent: the outcome is TimedOut and op
// is never started.
func Race[T any](ctx context.Context, clock Clock, deadline time.Duration, op func(context.Context) (T, error)) Outcome[T] {
	if clock == nil {
		clock = RealClock{}
	}

	results := make(chan Result[T], 1)
	fired := make(chan struct{})
	var once sync.Once

	// Check for cancellation before scheduling anything
	if err := ctx.Err(); err != nil {
		return Outcome[T]{Err: err}
	}
	if deadline <= 0 {
		return Outcome[T]{TimedOut: true}
	}

	go func() {
		v, err := op(ctx)
		results <- Result[T]{Value: v, Err: err}
	}()

	timer := clock.AfterFunc(deadline, func() {
		once.Do(func() { close(fired) })
	})

	select {
	case r := <-results:
		timer.Stop()
		return Outcome[T]{Value: r.Value, Err: r.Err}
	case <-fired:
		// op may have finished in the same instant; prefer its result
		select {
		case r := <-results:
			return Outcome[T]{Value: r.Value, Err: r.Err}
		default:
		}
		return Outcome[T]{TimedOut: true, Late: results}
	case <-ctx.Done():
		timer.Stop()
		return Outcome[T]{Err: ctx.Err(), Late: results}
	}
}

// Tasks tracks detached work whose completion no caller awaits.
//
// A detached task may only touch state that is safe to update after its
// starter has returned (e.g. a durability flag). Wait exists for teardown
// and tests; the normal control flow never calls it.
type Tasks struct {
	wg sync.WaitGroup
}

// Go runs fn in a new goroutine.
func (t *Tasks) Go(fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

// Wait blocks until every task started with Go has returned.
func (t *Tasks) Wait() {
	t.wg.Wait()
}

// Join returns a context derived from ctx that is also cancelled when
// lifetime is done. Call the returned func to release it.
func Join(ctx, lifetime context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(lifetime, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
