package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Attach marks a lifecycle view as open.  While at least one view is open
// and a payment is awaited, the controller polls the payment every
// PollInterval and publishes a countdown snapshot every Tick.  The returned
// func closes the view; the watch stops when the last view closes.
//
// Values of ctx (the bearer credential) are kept for the polls, its
// cancellation is not.
func (c *Controller) Attach(ctx context.Context) (detach func()) {
	c.mu.Lock()
	c.views++
	c.watchBase = context.WithoutCancel(ctx)
	if _, paying := c.state.(AwaitingPayment); paying && c.stopWatch == nil {
		c.startWatchLocked()
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.views--
			if c.views == 0 && c.stopWatch != nil {
				c.stopWatch()
				c.stopWatch = nil
			}
		})
	}
}

// Views returns the number of open views.
func (c *Controller) Views() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.views
}

func (c *Controller) startWatchLocked() {
	base := c.watchBase
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	c.stopWatch = cancel
	go c.watch(ctx)
}

func (c *Controller) watch(ctx context.Context) {
	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()
	tick := time.NewTicker(c.cfg.Tick)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			c.countdown()
		case <-poll.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *Controller) countdown() {
	c.mu.Lock()
	if _, paying := c.state.(AwaitingPayment); !paying {
		c.mu.Unlock()
		return
	}
	snap, subs := c.snapshotLocked(), c.subsLocked()
	c.mu.Unlock()
	c.publish(snap, subs)
}

// pollOnce fetches the open payment.  Failures are skipped silently; the
// next tick tries again.
func (c *Controller) pollOnce(ctx context.Context) {
	c.mu.Lock()
	s, paying := c.state.(AwaitingPayment)
	c.mu.Unlock()
	if !paying {
		return
	}
	row, err := c.svc.GetPayment(ctx, s.Payment.ID)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Debug("payment poll failed", zap.Int64("payment_id", s.Payment.ID), zap.Error(err))
		}
		return
	}
	c.ApplyPayment(ctx, row)
}
