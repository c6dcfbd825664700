package monitor

import (
	"context"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/piframe/piframe/cmd/util"
	"github.com/piframe/piframe/pkg/config"
	"github.com/piframe/piframe/pkg/fswatch"
	"github.com/piframe/piframe/pkg/monitor"
	"github.com/piframe/piframe/pkg/store"
)

// defaultReloadCommand restarts the display engine's systemd unit.
var defaultReloadCommand = []string{"systemctl", "restart", "piframe-show.service"}

// New creates a new `monitor` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Watch the image directory and reload the slideshow on changes.",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := util.ParseConfig(cmd)
			if err != nil {
				util.HandleFatalError(err)
			}
			if err := util.SetupLogging("monitor", cfg.Logging); err != nil {
				util.HandleFatalError(err)
			}

			if err := run(cfg); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run(cfg config.Config) error {
	ctx, cancel := util.SignalContext()
	defer cancel()

	reloadCommand := cfg.Monitor.ReloadCommand
	if len(reloadCommand) == 0 {
		reloadCommand = defaultReloadCommand
	}
	notifier, err := monitor.NewNotifier(reloadCommand)
	if err != nil {
		return err
	}

	// Creates the images directory if the sync daemon hasn't yet.
	if _, err := store.New(cfg.Slideshow.ImagesDir, cfg.Slideshow.Formats()); err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	lock := store.NewLockFile(
		cfg.LockPath(), 2*cfg.Sync.IntervalDuration(), clock)

	events := watchEvents(ctx, cfg, clock)
	log.WithField("dir", cfg.Slideshow.ImagesDir).Info("Monitoring for changes")

	debouncer := &monitor.Debouncer{
		Window:     cfg.Monitor.Window(),
		MinSpacing: cfg.Monitor.RestartDelayDuration(),
		LockHeld:   lock.HeldLive,
		Notify:     func() error { return notifier.Reload(ctx) },
		Clock:      clock,
	}
	debouncer.Run(ctx, events)
	return nil
}

// watchEvents sets up inotify watches, falling back to interval polling
// when they can't be established (network filesystems, exhausted watch
// limits).
func watchEvents(ctx context.Context, cfg config.Config,
	clock clockwork.Clock) chan struct{} {

	opts := fswatch.Options{
		Recursive:   cfg.Monitor.Recursive,
		MinFileSize: cfg.Monitor.MinFileSize,
	}

	events, err := fswatch.Watch(cfg.Slideshow.ImagesDir, opts)
	if err == nil {
		return events
	}

	log.WithError(err).Warn(
		"Failed to set up filesystem watches. Falling back to polling.")
	return fswatch.Poll(ctx, cfg.Slideshow.ImagesDir, opts,
		cfg.Monitor.Window(), clock)
}
