// Package store implements the local image store: a directory of
// fully-written image files, a crash-atomic manifest recording the last
// known good sync state, and an advisory lock serializing sync cycles.
//
// The store's one rule is rename-to-commit: the only way a file becomes
// visible to readers is a rename of a fully-flushed temporary file in the
// same directory. Any process listing the directory at any instant sees
// only complete files, so readers never need their own locking.
package store

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/piframe/piframe/pkg/errors"
)

// tempPrefix marks in-flight writes. Scan skips these, and leftover temp
// files from a killed process are swept on the next cycle.
const tempPrefix = ".piframe-tmp-"

// FileInfo describes one committed file in the store.
type FileInfo struct {
	// Path is relative to the store directory.
	Path string
	Fingerprint
}

// Store is a handle on the images directory.
type Store struct {
	dir     string
	formats map[string]bool
}

// New opens the store rooted at dir, creating the directory if necessary.
// An inaccessible directory is a fatal startup error for every daemon, so
// New fails rather than degrading.
func New(dir string, formats map[string]bool) (*Store, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, errors.WithContext(err, "create images dir")
	}

	fi, err := fs.Stat(dir)
	if err != nil {
		return nil, errors.WithContext(err, "stat images dir")
	}
	if !fi.IsDir() {
		return nil, errors.NewFriendlyError(
			"The images path %q exists but isn't a directory.", dir)
	}

	return &Store{dir: dir, formats: formats}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Supported returns whether the path's extension is on the image
// allow-list.
func (s *Store) Supported(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return s.formats[ext]
}

// Write commits the contents to relPath atomically. The bytes are streamed
// to a temporary name in the same directory, flushed, stamped with modTime,
// and renamed into place. Readers either see the old file or the complete
// new one.
func (s *Store) Write(relPath string, contents io.Reader, modTime time.Time) (int64, error) {
	target := filepath.Join(s.dir, relPath)
	if err := fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, errors.WithContext(err, "create parent dir")
	}

	tmpPath := filepath.Join(filepath.Dir(target), fmt.Sprintf(
		"%s%s-%08x", tempPrefix, filepath.Base(target), rand.Uint32()))

	f, err := fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, errors.WithContext(err, "stage file")
	}

	written, err := io.Copy(f, contents)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// The temp file never becomes visible; remove it so it isn't
		// mistaken for usable space.
		if removeErr := fs.Remove(tmpPath); removeErr != nil {
			log.WithError(removeErr).WithField("path", tmpPath).Warn(
				"Failed to remove staged file after write error")
		}
		return 0, errors.WithContext(err, "write contents")
	}

	if err := fs.Chtimes(tmpPath, modTime, modTime); err != nil {
		log.WithError(err).WithField("path", relPath).Warn(
			"Failed to stamp modification time. The file will be re-fingerprinted next cycle.")
	}

	if err := rename(tmpPath, target); err != nil {
		return 0, errors.WithContext(err, "commit file")
	}
	return written, nil
}

// rename commits a staged file. The OS rename replaces the target
// atomically; the in-memory test filesystem refuses to overwrite, so the
// target is removed first there.
func rename(oldPath, newPath string) error {
	err := fs.Rename(oldPath, newPath)
	if err != nil && os.IsExist(err) {
		if err := fs.Remove(newPath); err != nil {
			return err
		}
		err = fs.Rename(oldPath, newPath)
	}
	return err
}

// Delete removes the file at relPath. The caller is responsible for also
// dropping its manifest entry; if the process dies between the two, the
// next cycle's reconcile treats the orphaned entry as needing re-sync.
func (s *Store) Delete(relPath string) error {
	err := fs.Remove(filepath.Join(s.dir, relPath))
	if err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "remove file")
	}
	return nil
}

// Scan lists the committed image files in the store, sorted by path.
// Temporary files, dotfiles (including the manifest and lock), and files
// with unsupported extensions are skipped.
func (s *Store) Scan() ([]FileInfo, error) {
	var files []FileInfo
	err := afero.Walk(fs, s.dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		base := filepath.Base(path)
		if fi.IsDir() {
			if path != s.dir && strings.HasPrefix(base, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(base, ".") || strings.HasPrefix(base, tempPrefix) {
			return nil
		}
		if !s.Supported(path) {
			return nil
		}

		relPath, err := relativeTo(s.dir, path)
		if err != nil {
			return err
		}

		files = append(files, FileInfo{
			Path:        relPath,
			Fingerprint: Fingerprint{Size: fi.Size(), ModTime: fi.ModTime()},
		})
		return nil
	})
	if err != nil {
		return nil, errors.WithContext(err, "walk images dir")
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// relativeTo resolves path against dir, refusing anything that would land
// outside it.
func relativeTo(dir, path string) (string, error) {
	relPath, err := filepath.Rel(dir, path)
	if err != nil {
		return "", errors.WithContext(err, "normalize path")
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", errors.New(fmt.Sprintf("path %q escapes the store at %q", path, dir))
	}
	return relPath, nil
}

// SweepTemp removes staged files left behind by a killed writer. They were
// never renamed, so they were never visible to readers.
func (s *Store) SweepTemp() {
	err := afero.Walk(fs, s.dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return nil
		}
		if strings.HasPrefix(filepath.Base(path), tempPrefix) {
			log.WithField("path", path).Info("Sweeping abandoned temp file")
			if err := fs.Remove(path); err != nil {
				log.WithError(err).WithField("path", path).Warn(
					"Failed to sweep abandoned temp file")
			}
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("Failed to sweep temp files")
	}
}

// Reconcile resolves drift between the manifest and the directory after a
// crash. Manifest entries whose file is gone are dropped so the next diff
// re-syncs them. Files with no manifest entry are returned for the caller
// to classify against the remote listing.
func Reconcile(manifest Manifest, files []FileInfo) (orphanedEntries []string, unclassified []FileInfo) {
	byPath := map[string]FileInfo{}
	for _, f := range files {
		byPath[f.Path] = f
	}

	for path := range manifest {
		if _, ok := byPath[path]; !ok {
			orphanedEntries = append(orphanedEntries, path)
		}
	}
	sort.Strings(orphanedEntries)

	for _, f := range files {
		if _, ok := manifest[f.Path]; !ok {
			unclassified = append(unclassified, f)
		}
	}
	return orphanedEntries, unclassified
}
