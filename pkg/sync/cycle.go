package sync

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/piframe/piframe/pkg/errors"
	"github.com/piframe/piframe/pkg/store"
)

// Cycle runs single synchronization cycles against a source. Cycles are
// serialized through the store's lock file; two concurrent attempts result
// in exactly one active cycle.
type Cycle struct {
	Source       Source
	Store        *store.Store
	Lock         *store.LockFile
	ManifestPath string

	// Timeout bounds every remote operation within the cycle.
	Timeout time.Duration

	// Limiter throttles download bandwidth. Nil means unlimited.
	Limiter *rate.Limiter

	// Excludes are glob patterns for remote item names to ignore.
	Excludes []string

	Clock clockwork.Clock
}

// Stats summarizes one cycle for logging.
type Stats struct {
	Downloaded    int
	Deleted       int
	Pushed        int
	RemoteDeleted int
	Bytes         int64
	Duration      time.Duration
}

// Run executes one sync cycle: acquire the lock, list the remote, diff,
// apply the plan file by file, persist the manifest, release the lock.
//
// Every file transition is atomic, so a cycle that fails partway (network
// error, process kill) leaves the store valid but incomplete; the next
// cycle resumes from the persisted manifest. Run returns
// errors.ErrLockHeld without doing any work when another live cycle owns
// the lock.
func (c *Cycle) Run(ctx context.Context) (Stats, error) {
	if err := c.Lock.Acquire(); err != nil {
		return Stats{}, err
	}
	defer func() {
		if err := c.Lock.Release(); err != nil {
			log.WithError(err).Warn("Failed to release sync lock")
		}
	}()

	start := c.Clock.Now()
	c.Store.SweepTemp()

	listCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	remote, err := c.Source.List(listCtx)
	cancel()
	if err != nil {
		return Stats{}, errors.WithContext(err, "list remote")
	}
	remote = c.filterItems(remote)

	manifest, err := store.LoadManifest(c.ManifestPath)
	if err != nil {
		return Stats{}, errors.WithContext(err, "load manifest")
	}

	local, err := c.Store.Scan()
	if err != nil {
		return Stats{}, errors.WithContext(err, "scan store")
	}

	// Reconcile crash leftovers: drop manifest entries whose file is gone
	// so the diff re-syncs them.
	orphanedPaths, _ := store.Reconcile(manifest, local)
	var deletedLocally []store.Record
	for _, path := range orphanedPaths {
		log.WithField("path", path).Info("Manifest entry has no file. Re-syncing.")
		deletedLocally = append(deletedLocally, manifest[path])
		delete(manifest, path)
	}

	_, bidirectional := c.Source.(Pusher)
	plan := ComputePlan(remote, manifest, local, deletedLocally, bidirectional)

	stats, err := c.apply(ctx, plan, manifest)
	stats.Duration = c.Clock.Since(start)

	// Persist whatever progress was made, even on failure: each completed
	// file transition is already final on disk.
	if saveErr := manifest.Save(c.ManifestPath); saveErr != nil {
		if err == nil {
			err = saveErr
		} else {
			log.WithError(saveErr).Error("Failed to persist manifest after failed cycle")
		}
	}
	return stats, err
}

func (c *Cycle) apply(ctx context.Context, plan Plan, manifest store.Manifest) (Stats, error) {
	var stats Stats
	now := c.Clock.Now()

	for _, path := range plan.Refresh {
		record := manifest[path]
		record.LastSeen = now
		manifest[path] = record
	}

	for _, item := range plan.AdoptRemote {
		manifest[item.Path] = store.Record{
			Path:        item.Path,
			Fingerprint: store.Fingerprint{Size: item.Size, ModTime: item.ModTime},
			Origin:      store.OriginRemote,
			LastSeen:    now,
		}
	}
	for _, f := range plan.AdoptLocal {
		log.WithField("path", f.Path).Info("Preserving local-only file")
		manifest[f.Path] = store.Record{
			Path:        f.Path,
			Fingerprint: f.Fingerprint,
			Origin:      store.OriginLocal,
			LastSeen:    now,
		}
	}

	for _, item := range plan.Download {
		written, err := c.download(ctx, item)
		if err != nil {
			return stats, errors.WithContext(err, fmt.Sprintf("download %q", item.Path))
		}
		manifest[item.Path] = store.Record{
			Path:        item.Path,
			Fingerprint: store.Fingerprint{Size: written, ModTime: item.ModTime},
			Origin:      store.OriginRemote,
			LastSeen:    now,
		}
		stats.Downloaded++
		stats.Bytes += written
	}

	for _, path := range plan.DeleteLocal {
		log.WithField("path", path).Info("Removing file deleted from remote")
		if err := c.Store.Delete(path); err != nil {
			return stats, errors.WithContext(err, fmt.Sprintf("delete %q", path))
		}
		delete(manifest, path)
		stats.Deleted++
	}

	if len(plan.Push) > 0 || len(plan.DeleteRemote) > 0 {
		pushStats, err := c.pushChanges(ctx, plan, manifest)
		stats.Pushed = pushStats.Pushed
		stats.RemoteDeleted = pushStats.RemoteDeleted
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (c *Cycle) download(ctx context.Context, item Item) (int64, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	contents, err := c.Source.Fetch(fetchCtx, item)
	if err != nil {
		return 0, errors.WithContext(err, "fetch")
	}
	defer contents.Close()

	reader := io.Reader(contents)
	if c.Limiter != nil {
		reader = &limitedReader{r: contents, limiter: c.Limiter, ctx: fetchCtx}
	}

	log.WithFields(log.Fields{"path": item.Path, "size": item.Size}).Info("Downloading")
	written, err := c.Store.Write(item.Path, reader, item.ModTime)
	if err != nil {
		return 0, errors.WithContext(err, "commit")
	}
	return written, nil
}

func (c *Cycle) pushChanges(ctx context.Context, plan Plan, manifest store.Manifest) (Stats, error) {
	var stats Stats
	now := c.Clock.Now()

	pusher, ok := c.Source.(Pusher)
	if !ok {
		return stats, errors.New("source can't push")
	}

	for _, f := range plan.Push {
		log.WithField("path", f.Path).Info("Uploading local change")
		pushCtx, cancel := context.WithTimeout(ctx, c.Timeout)
		err := pusher.Push(pushCtx, f.Path, filepath.Join(c.Store.Dir(), f.Path), f.ModTime)
		cancel()
		if err != nil {
			return stats, errors.WithContext(err, fmt.Sprintf("push %q", f.Path))
		}
		manifest[f.Path] = store.Record{
			Path:        f.Path,
			Fingerprint: f.Fingerprint,
			Origin:      store.OriginLocal,
			LastSeen:    now,
		}
		stats.Pushed++
	}

	deleter, ok := c.Source.(RemoteDeleter)
	if !ok {
		return stats, nil
	}
	for _, path := range plan.DeleteRemote {
		log.WithField("path", path).Info("Propagating local deletion to remote")
		deleteCtx, cancel := context.WithTimeout(ctx, c.Timeout)
		err := deleter.DeleteRemote(deleteCtx, path)
		cancel()
		if err != nil {
			return stats, errors.WithContext(err, fmt.Sprintf("delete remote %q", path))
		}
		delete(manifest, path)
		stats.RemoteDeleted++
	}
	return stats, nil
}

// filterItems drops remote items the frame shouldn't sync: unsupported
// extensions, excluded names, and paths that would escape the store or
// be invisible to it.
func (c *Cycle) filterItems(items []Item) []Item {
	var kept []Item
	for _, item := range items {
		if !storablePath(item.Path) {
			log.WithField("path", item.Path).Warn("Skipping remote item with unsafe path")
			continue
		}
		if !c.Store.Supported(item.Path) {
			continue
		}
		if c.excluded(filepath.Base(item.Path)) {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

// storablePath reports whether a remote path is safe to mirror into the
// store. Absolute and non-clean paths could escape the images directory,
// and any dot-prefixed component would be invisible to Scan, so a
// download would never register and would repeat every cycle.
func storablePath(path string) bool {
	if path == "" || filepath.IsAbs(path) || path != filepath.Clean(path) {
		return false
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == ".." || strings.HasPrefix(segment, ".") {
			return false
		}
	}
	return true
}

func (c *Cycle) excluded(name string) bool {
	for _, pattern := range c.Excludes {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// limitedReader throttles reads through a shared rate limiter, enforcing
// the configured bandwidth cap across a whole download.
type limitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	if burst := lr.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := lr.r.Read(p)
	if n > 0 {
		if waitErr := lr.limiter.WaitN(lr.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
