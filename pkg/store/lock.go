package store

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/piframe/piframe/pkg/errors"
)

// Lock is the on-disk sync lock marker. At most one live lock exists at a
// time; a lock older than the stale timeout is considered abandoned and may
// be reclaimed.
type Lock struct {
	Owner     string    `json:"owner"`
	Hostname  string    `json:"hostname"`
	PID       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`
}

// LockFile manages the sync lock marker at a fixed path.
type LockFile struct {
	path       string
	staleAfter time.Duration
	clock      clockwork.Clock

	owner string
}

// NewLockFile returns a handle on the lock marker at path. Locks older
// than staleAfter are treated as abandoned.
func NewLockFile(path string, staleAfter time.Duration, clock clockwork.Clock) *LockFile {
	hostname, _ := os.Hostname()
	return &LockFile{
		path:       path,
		staleAfter: staleAfter,
		clock:      clock,
		owner:      hostname + "/" + uuid.New().String(),
	}
}

// Acquire takes the lock, reclaiming a stale one if necessary. It returns
// errors.ErrLockHeld when another live sync cycle owns the lock.
func (l *LockFile) Acquire() error {
	for attempt := 0; attempt < 2; attempt++ {
		err := l.create()
		if err == nil {
			return nil
		}
		if !os.IsExist(err) {
			return errors.WithContext(err, "create lock")
		}

		holder, err := l.Holder()
		if err != nil {
			// An unreadable lock file usually means a writer died
			// mid-write. Treat it like a stale lock.
			log.WithError(err).Warn("Sync lock is unreadable. Reclaiming it.")
		} else if !l.isStale(holder) {
			return errors.ErrLockHeld
		} else {
			log.WithFields(log.Fields{
				"owner": holder.Owner,
				"age":   l.clock.Since(holder.StartTime).String(),
			}).Warn("Reclaiming stale sync lock")
		}

		if err := l.reclaim(holder); err != nil {
			return err
		}
	}
	return errors.ErrLockHeld
}

// reclaim discards a stale or unreadable lock marker. The marker is
// claimed by renaming it aside first: rename is atomic, so when two
// processes race to reclaim the same marker only one wins, and the loser
// finds the winner's fresh lock on its next create attempt. If the
// marker was already replaced by a fresh lock between the staleness
// check and the rename, it is put back untouched.
func (l *LockFile) reclaim(stale Lock) error {
	claimPath := fmt.Sprintf("%s.claim-%08x", l.path, rand.Uint32())
	if err := fs.Rename(l.path, claimPath); err != nil {
		if os.IsNotExist(err) {
			// Another process claimed the marker first.
			return nil
		}
		return errors.WithContext(err, "claim lock")
	}

	claimed, err := readLock(claimPath)
	if err == nil && claimed.Owner != stale.Owner && !l.isStale(claimed) {
		if err := fs.Rename(claimPath, l.path); err != nil {
			if !os.IsExist(err) {
				return errors.WithContext(err, "restore lock")
			}
			fs.Remove(claimPath)
		}
		return nil
	}

	if err := fs.Remove(claimPath); err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "discard stale lock")
	}
	return nil
}

// Release removes the lock. Releasing a lock that was already reclaimed by
// someone else is a no-op: the marker is advisory, and the new holder's
// marker must not be destroyed.
func (l *LockFile) Release() error {
	holder, err := l.Holder()
	if err != nil {
		if _, ok := errors.RootCause(err).(errors.FileNotFound); ok {
			return nil
		}
		return err
	}
	if holder.Owner != l.owner {
		log.WithField("owner", holder.Owner).Warn(
			"Sync lock was reclaimed by another process. Leaving it in place.")
		return nil
	}

	if err := fs.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "remove lock")
	}
	return nil
}

// Holder reads the current lock marker.
func (l *LockFile) Holder() (Lock, error) {
	return readLock(l.path)
}

func readLock(path string) (Lock, error) {
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return Lock{}, errors.WithContext(errors.FileNotFound{Path: path}, "read lock")
		}
		return Lock{}, errors.WithContext(err, "read lock")
	}

	var lock Lock
	if err := json.Unmarshal(contents, &lock); err != nil {
		return Lock{}, errors.WithContext(err, "parse lock")
	}
	return lock, nil
}

// HeldLive returns whether a live (non-stale) lock currently exists. The
// change monitor checks this at the moment its debounce timer fires so that
// it never signals a reload mid-write.
func (l *LockFile) HeldLive() bool {
	holder, err := l.Holder()
	if err != nil {
		return false
	}
	return !l.isStale(holder)
}

func (l *LockFile) isStale(lock Lock) bool {
	return l.clock.Since(lock.StartTime) > l.staleAfter
}

func (l *LockFile) create() error {
	contents, err := json.Marshal(Lock{
		Owner:     l.owner,
		Hostname:  hostnameOf(l.owner),
		PID:       os.Getpid(),
		StartTime: l.clock.Now(),
	})
	if err != nil {
		return err
	}

	f, err := fs.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(contents); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func hostnameOf(owner string) string {
	for i := 0; i < len(owner); i++ {
		if owner[i] == '/' {
			return owner[:i]
		}
	}
	return owner
}
