package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/piframe/piframe/cmd/util"
	"github.com/piframe/piframe/pkg/config"
	"github.com/piframe/piframe/pkg/errors"
	"github.com/piframe/piframe/pkg/store"
	"github.com/piframe/piframe/pkg/sync"
	"github.com/piframe/piframe/pkg/sync/drive"
	"github.com/piframe/piframe/pkg/sync/rclone"
)

// New creates a new `sync` command.
func New() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror the remote photo folder into the local image store.",
		Long: "Mirror the remote photo folder into the local image store.\n" +
			"Runs as a daemon by default, syncing on the configured interval.",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := util.ParseConfig(cmd)
			if err != nil {
				util.HandleFatalError(err)
			}
			if err := util.SetupLogging("sync", cfg.Logging); err != nil {
				util.HandleFatalError(err)
			}

			if err := run(cfg, once); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&once, "once", false,
		"Run a single sync cycle and exit.")
	return cmd
}

// validator is implemented by sources that can check their configuration
// against the live remote.
type validator interface {
	Validate(ctx context.Context) error
}

func run(cfg config.Config, once bool) error {
	ctx, cancel := util.SignalContext()
	defer cancel()

	source, err := newSource(cfg.Sync)
	if err != nil {
		return err
	}
	if v, ok := source.(validator); ok {
		if err := v.Validate(ctx); err != nil {
			return err
		}
	}

	imageStore, err := store.New(cfg.Slideshow.ImagesDir, cfg.Slideshow.Formats())
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	cycle := &sync.Cycle{
		Source: source,
		Store:  imageStore,
		// A lock older than two sync intervals can only be a leftover
		// from a crashed process.
		Lock: store.NewLockFile(
			cfg.LockPath(), 2*cfg.Sync.IntervalDuration(), clock),
		ManifestPath: cfg.ManifestPath(),
		Timeout:      cfg.Sync.TimeoutDuration(),
		Limiter:      newLimiter(cfg.Sync.BandwidthLimit),
		Excludes:     cfg.Sync.ExcludePatterns,
		Clock:        clock,
	}

	log.WithFields(log.Fields{
		"source": source.Name(),
		"dir":    cfg.Slideshow.ImagesDir,
	}).Info("Starting sync")

	if once {
		stats, err := cycle.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("downloaded %d, deleted %d, pushed %d (%d bytes in %s)\n",
			stats.Downloaded, stats.Deleted, stats.Pushed, stats.Bytes,
			stats.Duration.Round(time.Millisecond))
		return nil
	}

	daemon := &sync.Daemon{Cycle: cycle, Interval: cfg.Sync.IntervalDuration()}
	daemon.Run(ctx)
	return nil
}

func newSource(cfg config.SyncConfig) (sync.Source, error) {
	switch cfg.Method {
	case config.MethodSimple:
		return drive.New(cfg.PublicFolderURL)
	case config.MethodBidirectional:
		return rclone.New(cfg.RemoteName, cfg.RemotePath, cfg.BandwidthLimit)
	}
	return nil, errors.New(fmt.Sprintf("unknown sync method %q", cfg.Method))
}

// newLimiter builds the download rate limiter, or nil for unlimited.
func newLimiter(bandwidthLimit string) *rate.Limiter {
	bytesPerSec, err := config.ParseBandwidth(bandwidthLimit)
	if err != nil || bytesPerSec == 0 {
		// Validation already rejected malformed limits.
		return nil
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec))
}
