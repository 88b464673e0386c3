package blocklist

import (
	"context"
	"time"

	"github.com/haukened/rr-blockscan/internal/blockscan/common/log"
	"github.com/haukened/rr-blockscan/internal/blockscan/domain"
)

// BlocklistRefresher is the part of Service the Updater drives.
type BlocklistRefresher interface {
	RefreshBlocklist(ctx context.Context) (domain.Snapshot, error)
}

// Updater refreshes the blocklist on a fixed interval.
type Updater struct {
	service  BlocklistRefresher
	interval time.Duration
	logger   log.Logger
}

func NewUpdater(service BlocklistRefresher, interval time.Duration, logger log.Logger) *Updater {
	return &Updater{service: service, interval: interval, logger: log.OrNoop(logger)}
}

// Run refreshes immediately and then on every tick until ctx is done. Refresh
// failures are logged and never stop the loop. A non-positive interval
// returns immediately after the first refresh.
func (u *Updater) Run(ctx context.Context) error {
	failures := u.tick(ctx, 0)
	if u.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			u.logger.Info(map[string]any{"reason": ctx.Err()}, "blocklist updater stopped")
			return ctx.Err()
		case <-ticker.C:
			failures = u.tick(ctx, failures)
		}
	}
}

// tick runs one refresh and returns the updated count of consecutive failures.
func (u *Updater) tick(ctx context.Context, failures int) int {
	snap, err := u.service.RefreshBlocklist(ctx)
	if err != nil {
		failures++
		u.logger.Error(map[string]any{
			"consecutive_failures": failures,
			"error":                err,
		}, "scheduled blocklist refresh failed")
		return failures
	}
	if failures > 0 {
		u.logger.Info(map[string]any{"failures": failures}, "blocklist refresh recovered")
	}
	u.logger.Debug(map[string]any{"revision": snap.Revision}, "scheduled blocklist refresh done")
	return 0
}
