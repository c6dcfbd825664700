// Package fswatch signals changes under the image directory so the monitor
// can schedule a slideshow reload.
package fswatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/piframe/piframe/pkg/errors"
)

var fs = afero.NewOsFs()

// Options tunes what counts as a change.
type Options struct {
	// Recursive watches subdirectories as well.
	Recursive bool

	// MinFileSize ignores files smaller than this many bytes, so
	// half-written droppings from other tools don't trigger reloads.
	MinFileSize int64
}

// Watch watches the image directory and sends an event on the returned
// channel whenever anything under it changes. Hidden files (the sync
// manifest, the lock file, in-flight temp downloads) don't generate
// events.
func Watch(dir string, opts Options) (chan struct{}, error) {
	pathsToWatch, err := getPathsToWatch(dir, opts.Recursive)
	if err != nil {
		return nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	for _, path := range pathsToWatch {
		if err := watcher.Add(path); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", path))
		}
	}

	// fsnotify watches are per-directory, so in recursive mode new
	// subdirectories have to be registered as they appear.
	var addWatch func(string) error
	if opts.Recursive {
		addWatch = watcher.Add
	}
	return combineUpdates(watcher.Events, opts.MinFileSize, addWatch), nil
}

// combineUpdates collapses bursts of filesystem events into a 1-buffered
// channel so that a sync cycle touching fifty files doesn't queue fifty
// reloads.
func combineUpdates(updates <-chan fsnotify.Event,
	minFileSize int64, addWatch func(string) error) chan struct{} {

	combined := make(chan struct{}, 1)
	go func() {
		for update := range updates {
			watchNewDir(update, addWatch)

			if hidden(filepath.Base(update.Name)) {
				continue
			}
			if tooSmall(update.Name, minFileSize) {
				continue
			}

			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

// watchNewDir registers a watch on a freshly created subdirectory, so
// files synced into it later still generate events.
func watchNewDir(update fsnotify.Event, addWatch func(string) error) {
	if addWatch == nil || update.Op&fsnotify.Create == 0 {
		return
	}
	if hidden(filepath.Base(update.Name)) {
		return
	}

	fi, err := fs.Stat(update.Name)
	if err != nil || !fi.Mode().IsDir() {
		return
	}
	if err := addWatch(update.Name); err != nil {
		log.WithError(err).WithField("path", update.Name).
			Warn("Failed to watch new directory")
	}
}

// tooSmall reports whether the path is a file below the size threshold.
// Paths that no longer exist count as changes: a removal must still
// trigger a reload.
func tooSmall(path string, minFileSize int64) bool {
	if minFileSize <= 0 {
		return false
	}

	fi, err := fs.Stat(path)
	if err != nil || fi.Mode().IsDir() {
		return false
	}
	return fi.Size() < minFileSize
}

// getPathsToWatch resolves the set of paths to register with the watcher.
// fsnotify doesn't watch directories recursively, so in recursive mode we
// walk the tree and add every subdirectory.
func getPathsToWatch(dir string, recursive bool) (paths []string, err error) {
	fi, err := fs.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: dir}
		}
		return nil, errors.WithContext(err, "stat")
	}
	if !fi.Mode().IsDir() {
		return nil, errors.New(fmt.Sprintf("%q is not a directory", dir))
	}

	paths = append(paths, dir)
	if !recursive {
		return paths, nil
	}

	err = afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}
		if path == dir || !fi.Mode().IsDir() {
			return nil
		}
		if hidden(filepath.Base(path)) {
			return filepath.SkipDir
		}

		paths = append(paths, path)
		return nil
	})
	return paths, err
}

// Poll scans the image directory on a fixed interval and signals on the
// returned channel when the set of visible files (or any size or mtime)
// changes. It's the fallback when inotify watches can't be established,
// e.g. on network filesystems or when the watch limit is exhausted.
func Poll(ctx context.Context, dir string, opts Options,
	interval time.Duration, clock clockwork.Clock) chan struct{} {

	combined := make(chan struct{}, 1)
	go func() {
		last, err := snapshot(dir, opts)
		if err != nil {
			log.WithError(err).Warn("Failed initial poll scan")
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-clock.After(interval):
			}

			current, err := snapshot(dir, opts)
			if err != nil {
				log.WithError(err).Warn("Failed to scan image directory")
				continue
			}

			if !equal(last, current) {
				last = current
				select {
				case combined <- struct{}{}:
				default:
				}
			}
		}
	}()
	return combined
}

// snapshot maps each visible file to a size/mtime stamp.
func snapshot(dir string, opts Options) (map[string]string, error) {
	files := map[string]string{}

	if !opts.Recursive {
		infos, err := afero.ReadDir(fs, dir)
		if err != nil {
			return nil, err
		}
		for _, fi := range infos {
			if fi.IsDir() || hidden(fi.Name()) || fi.Size() < opts.MinFileSize {
				continue
			}
			files[filepath.Join(dir, fi.Name())] = stamp(fi)
		}
		return files, nil
	}

	err := afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsDir() {
			if path != dir && hidden(filepath.Base(path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden(filepath.Base(path)) || fi.Size() < opts.MinFileSize {
			return nil
		}

		files[path] = stamp(fi)
		return nil
	})
	return files, err
}

func stamp(fi os.FileInfo) string {
	return fmt.Sprintf("%d/%d", fi.Size(), fi.ModTime().UnixNano())
}

func equal(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for path, stamp := range a {
		if b[path] != stamp {
			return false
		}
	}
	return true
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
