package sched

import (
	"context"
	"sync"
	"time"
)

// Periodic is a supervised fixed-interval background task. Stop is
// idempotent and effective before the next tick: once Stop returns, fn will
// not run again.
type Periodic struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Every starts fn on a fixed interval using the given clock. fn is invoked
// sequentially, never concurrently with itself; a slow run absorbs the ticks
// it missed.
func Every(ctx context.Context, clock Clock, interval time.Duration, fn func(ctx context.Context)) *Periodic {
	ctx, cancel := context.WithCancel(ctx)
	p := &Periodic{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	ticker := clock.NewTicker(interval)
	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				// Re-check cancellation: a tick may already be buffered
				// when Stop is called.
				select {
				case <-ctx.Done():
					return
				default:
				}
				fn(ctx)
			}
		}
	}()
	return p
}

// Stop cancels the loop and waits for the current run (if any) to finish.
func (p *Periodic) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		<-p.done
	})
}

// Done is closed when the loop has exited.
func (p *Periodic) Done() <-chan struct{} { return p.done }
