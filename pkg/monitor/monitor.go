// Package monitor turns raw filesystem events into slideshow reloads. It
// debounces bursts of changes, spaces reloads out so the display doesn't
// flap, and holds off while a sync cycle is still writing.
package monitor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/piframe/piframe/pkg/errors"
)

// Debouncer coalesces change events into reload notifications.
type Debouncer struct {
	// Window is how long the directory must be quiet before a reload
	// fires. Every new event resets it.
	Window time.Duration

	// MinSpacing is the minimum gap between two reloads.
	MinSpacing time.Duration

	// LockHeld reports whether a sync cycle currently holds the sync
	// lock. A pending reload is deferred while it returns true.
	LockHeld func() bool

	// Notify triggers the reload.
	Notify func() error

	Clock clockwork.Clock
}

// Run consumes events until the context is cancelled. One reload always
// fires shortly after startup so that images synced while the monitor was
// down still reach the display.
func (d *Debouncer) Run(ctx context.Context, events <-chan struct{}) {
	pending := true
	lastReload := time.Time{}
	timer := d.Clock.NewTimer(d.Window)

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case <-events:
			pending = true
			timer.Reset(d.Window)

		case <-timer.Chan():
			if !pending {
				continue
			}

			if d.LockHeld != nil && d.LockHeld() {
				log.Debug("Sync in progress, deferring reload")
				timer.Reset(d.Window)
				continue
			}

			if !lastReload.IsZero() {
				if wait := d.MinSpacing - d.Clock.Since(lastReload); wait > 0 {
					timer.Reset(wait)
					continue
				}
			}

			if err := d.Notify(); err != nil {
				log.WithError(err).Error("Failed to reload slideshow")
			}
			lastReload = d.Clock.Now()
			pending = false
		}
	}
}

// execCommand runs the reload command. Mocked out in unit tests.
var execCommand = func(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return errors.New(fmt.Sprintf("%s: %s", err, msg))
		}
		return err
	}
	return nil
}

// Notifier reloads the slideshow by running a command, by default
// restarting the systemd display unit.
type Notifier struct {
	command []string
}

// NewNotifier validates the configured reload command.
func NewNotifier(command []string) (*Notifier, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.MissingFieldError{Field: "reload_command"}
	}
	return &Notifier{command: command}, nil
}

// Reload runs the reload command.
func (n *Notifier) Reload(ctx context.Context) error {
	log.WithField("command", strings.Join(n.command, " ")).
		Info("Reloading slideshow")
	if err := execCommand(ctx, n.command[0], n.command[1:]...); err != nil {
		return errors.WithContext(err, "run reload command")
	}
	return nil
}
