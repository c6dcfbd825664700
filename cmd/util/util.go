package util

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/piframe/piframe/pkg/config"
	"github.com/piframe/piframe/pkg/errors"
)

var fs = afero.NewOsFs()

// stderr is swapped out in unit tests.
var stderr io.Writer = os.Stderr

// HandleFatalError prints the user-facing message for the error and exits.
// Errors carrying a friendly message print just that; anything else gets
// the full chain for debugging.
func HandleFatalError(err error) {
	printFatalError(err)
	os.Exit(1)
}

func printFatalError(err error) {
	if friendly, ok := errors.RootCause(err).(errors.FriendlyError); ok {
		fmt.Fprintln(stderr, friendly.FriendlyMessage())
		return
	}
	log.WithError(err).Error("Fatal error")
}

// HandlePanic logs panics before crashing, so they end up in the log file
// rather than only on a console nobody is looking at.
func HandlePanic() {
	r := recover()
	if r == nil {
		return
	}

	log.WithField("panic", r).Error("Unexpected crash")
	panic(r)
}

// ParseConfig loads the config file named by the root --config flag.
func ParseConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, errors.WithContext(err, "get config flag")
	}
	return config.Parse(path)
}

// SetupLogging applies the configured log level and, when a log directory
// is set, tees log output into a per-daemon file. An oversized file from a
// previous run is rotated aside first.
func SetupLogging(daemon string, cfg config.LoggingConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return errors.NewFriendlyError(
			"Unknown log_level %q. Expected one of \"debug\", \"info\", "+
				"\"warn\", or \"error\".", cfg.Level)
	}
	if log.GetLevel() != log.DebugLevel {
		// Don't lower the level below what PIFRAME_LOG_VERBOSE asked for.
		log.SetLevel(level)
	}

	if cfg.Dir == "" {
		return nil
	}

	if err := fs.MkdirAll(cfg.Dir, 0755); err != nil {
		return errors.WithContext(err, "create log dir")
	}

	path := filepath.Join(cfg.Dir, daemon+".log")
	if err := rotateIfNeeded(path, int64(cfg.MaxSize)*1024*1024); err != nil {
		log.WithError(err).Warn("Failed to rotate log file")
	}

	file, err := fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithContext(err, "open log file")
	}
	log.SetOutput(io.MultiWriter(os.Stderr, file))
	return nil
}

// rotateIfNeeded moves an oversized log file to a single .1 backup.
func rotateIfNeeded(path string, maxSize int64) error {
	if maxSize <= 0 {
		return nil
	}

	fi, err := fs.Stat(path)
	if err != nil || fi.Size() < maxSize {
		return nil
	}

	backup := path + ".1"
	if err := fs.Remove(backup); err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "remove old backup")
	}
	return fs.Rename(path, backup)
}

// SignalContext returns a context canceled on SIGINT or SIGTERM, so
// daemons shut down cleanly under systemd.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
