package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/piframe/piframe/pkg/errors"
)

// Origin records how a file entered the store.
type Origin string

const (
	// OriginRemote marks files downloaded from the remote source. They are
	// deleted locally when they disappear from the remote listing.
	OriginRemote Origin = "remote"

	// OriginLocal marks files that appeared in the store without a sync
	// cycle, e.g. copied in over ssh. The one-directional strategy never
	// deletes them.
	OriginLocal Origin = "local"
)

// Fingerprint is a cheap proxy for file contents: size plus modification
// time. Two files with equal fingerprints are treated as identical without
// reading their contents.
type Fingerprint struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Equal returns whether two fingerprints match. Modification times are
// compared at second granularity because remote listings usually truncate
// sub-second precision.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Size == other.Size &&
		f.ModTime.Truncate(time.Second).Equal(other.ModTime.Truncate(time.Second))
}

// Record is the manifest entry for a single synced file.
type Record struct {
	// Path is the file's path relative to the store directory.
	Path string `json:"path"`

	Fingerprint

	Origin Origin `json:"origin"`

	// LastSeen is the last time a sync cycle observed the file.
	LastSeen time.Time `json:"last_seen"`
}

// Manifest maps relative paths to their last known good sync state. The
// invariant is that every entry corresponds to a file that was fully and
// atomically written; no entry ever points at a partial write.
//
// The manifest is owned exclusively by the sync daemon. Other components
// only ever read it.
type Manifest map[string]Record

// manifestFile is the on-disk representation. The version field lets a
// future binary detect manifests it can't interpret.
type manifestFile struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

const manifestVersion = 1

// LoadManifest reads the manifest at the given path. A missing file yields
// an empty manifest: the next sync cycle rebuilds it from the remote
// listing.
func LoadManifest(path string) (Manifest, error) {
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, nil
		}
		return nil, errors.WithContext(err, "read manifest")
	}

	var file manifestFile
	if err := json.Unmarshal(contents, &file); err != nil {
		return nil, errors.WithContext(err, "parse manifest")
	}
	if file.Version != manifestVersion {
		return nil, errors.New(fmt.Sprintf(
			"unsupported manifest version %d", file.Version))
	}

	manifest := Manifest{}
	for _, record := range file.Records {
		manifest[record.Path] = record
	}
	return manifest, nil
}

// Save persists the manifest crash-atomically: it writes to a temporary
// file in the same directory, flushes it, and renames it into place. A
// crash at any point leaves either the old manifest or the new one, never
// a torn write.
func (manifest Manifest) Save(path string) error {
	file := manifestFile{Version: manifestVersion}
	for _, record := range manifest {
		file.Records = append(file.Records, record)
	}

	contents, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return errors.WithContext(err, "marshal manifest")
	}

	tmpPath := filepath.Join(filepath.Dir(path), tempPrefix+filepath.Base(path))
	if err := writeFileSync(tmpPath, contents); err != nil {
		return errors.WithContext(err, "stage manifest")
	}

	if err := rename(tmpPath, path); err != nil {
		if removeErr := fs.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			return errors.WithContext(removeErr, "clean up staged manifest")
		}
		return errors.WithContext(err, "commit manifest")
	}
	return nil
}

// writeFileSync writes contents and flushes them to stable storage before
// returning.
func writeFileSync(path string, contents []byte) error {
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.WithContext(err, "open")
	}

	if _, err := f.Write(contents); err != nil {
		f.Close()
		return errors.WithContext(err, "write")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.WithContext(err, "flush")
	}
	return f.Close()
}
