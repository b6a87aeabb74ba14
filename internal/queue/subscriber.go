package queue

import (
	"context"
	"time"
)

// Handler processes one event.  A returned error is logged and the message
// is dropped.
type Handler func(ctx context.Context, ev Event) error

// Subscriber delivers broker events to a Handler until ctx is cancelled.
type Subscriber interface {
	Run(ctx context.Context, h Handler) error
	Close() error
}

// Nop is the subscriber used when no broker is configured.  Run blocks
// until ctx is done.
type Nop struct{}

func (Nop) Run(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return nil
}

func (Nop) Close() error { return nil }

// sleepCtx waits d or until ctx is done, reporting false in the latter case.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
