package sync

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/piframe/piframe/pkg/errors"
)

// initialBackoff is the delay after the first failed cycle. It doubles on
// each consecutive failure, capped at the configured sync interval.
const initialBackoff = 30 * time.Second

// Daemon runs sync cycles forever: once at startup, then on a fixed
// interval. Transient failures (network, API) are logged and retried with
// exponential backoff; they are never fatal to the process.
type Daemon struct {
	Cycle    *Cycle
	Interval time.Duration
}

// Run loops until the context is canceled.
func (d *Daemon) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		stats, err := d.Cycle.Run(ctx)
		switch {
		case err == nil:
			log.WithFields(log.Fields{
				"downloaded": stats.Downloaded,
				"deleted":    stats.Deleted,
				"pushed":     stats.Pushed,
				"bytes":      stats.Bytes,
				"duration":   stats.Duration.Round(time.Millisecond).String(),
			}).Info("Sync cycle complete")
			backoff = initialBackoff

		case errors.RootCause(err) == errors.ErrLockHeld:
			// Another cycle is running (or a stale lock hasn't aged out
			// yet). Trying again next interval is enough.
			log.Info("Sync lock held. Skipping this cycle.")

		default:
			log.WithError(err).Errorf(
				"Sync cycle failed. Retrying in %s.", backoff)
			select {
			case <-d.Cycle.Clock.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff *= 2; backoff > d.Interval {
				backoff = d.Interval
			}
			continue
		}

		select {
		case <-d.Cycle.Clock.After(d.Interval):
		case <-ctx.Done():
			return
		}
	}
}
