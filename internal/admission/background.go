package admission

import (
	"context"
	"time"
)

// RunSweeper expires due sessions and fills any free capacity every interval
// until ctx is done.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) error {
	logger := c.logger.With("component", "sweeper")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			expired, err := c.SweepExpired(ctx)
			if err != nil && ctx.Err() == nil {
				logger.ErrorContext(ctx, "expiry sweep failed", "error", err, "error_kind", ErrorKind(err))
			}
			if expired > 0 {
				logger.InfoContext(ctx, "expired sessions", "count", expired)
			}
			if err := c.Rebalance(ctx); err != nil && ctx.Err() == nil {
				logger.ErrorContext(ctx, "rebalance failed", "error", err, "error_kind", ErrorKind(err))
			}
		}
	}
}

// RunHeartbeat sends KeepAlive to waiting clients every keepAlive and
// SessionState to admitted clients every notify interval until ctx is done.
func (c *Coordinator) RunHeartbeat(ctx context.Context, keepAlive time.Duration) error {
	keepAliveTicker := time.NewTicker(keepAlive)
	defer keepAliveTicker.Stop()
	notifyTicker := time.NewTicker(c.notifyInterval)
	defer notifyTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAliveTicker.C:
			c.KeepAlive()
		case <-notifyTicker.C:
			c.NotifyRemaining()
		}
	}
}
