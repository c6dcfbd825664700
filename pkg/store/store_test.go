package store

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFormats = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true}

func newTestStore(t *testing.T) *Store {
	fs = afero.NewMemMapFs()
	s, err := New("/images", testFormats)
	require.NoError(t, err)
	return s
}

func TestWriteCommitsAtomically(t *testing.T) {
	s := newTestStore(t)

	modTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	written, err := s.Write("a.jpg", strings.NewReader("jpegbytes"), modTime)
	require.NoError(t, err)
	assert.Equal(t, int64(9), written)

	contents, err := afero.ReadFile(fs, "/images/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpegbytes", string(contents))

	// No staged files remain.
	files, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.jpg", files[0].Path)
	assert.Equal(t, int64(9), files[0].Size)
}

func TestWriteOverwritesExisting(t *testing.T) {
	s := newTestStore(t)

	modTime := time.Now()
	_, err := s.Write("a.jpg", strings.NewReader("old"), modTime)
	require.NoError(t, err)
	_, err = s.Write("a.jpg", strings.NewReader("newer"), modTime)
	require.NoError(t, err)

	contents, err := afero.ReadFile(fs, "/images/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "newer", string(contents))
}

type failingReader struct {
	contents []byte
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.contents) == 0 {
		return 0, errors.New("connection reset")
	}
	n := copy(p, r.contents)
	r.contents = r.contents[n:]
	return n, nil
}

func TestWriteFailureLeavesNothingVisible(t *testing.T) {
	s := newTestStore(t)

	// The download dies partway through. The target path must never
	// appear, and the staged temp file must be cleaned up.
	_, err := s.Write("c.jpg", &failingReader{contents: bytes.Repeat([]byte("x"), 10)}, time.Now())
	require.Error(t, err)

	exists, err := afero.Exists(fs, "/images/c.jpg")
	require.NoError(t, err)
	assert.False(t, exists)

	files, err := s.Scan()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestScanFilters(t *testing.T) {
	s := newTestStore(t)
	modTime := time.Now()

	_, err := s.Write("b.png", strings.NewReader("png"), modTime)
	require.NoError(t, err)
	_, err = s.Write("notes.txt", strings.NewReader("text"), modTime)
	require.NoError(t, err)

	// Simulate an in-flight write and bookkeeping files.
	require.NoError(t, afero.WriteFile(fs, "/images/"+tempPrefix+"d.jpg-0001", []byte("partial"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/images/.piframe-manifest.json", []byte("{}"), 0644))

	files, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "b.png", files[0].Path)
}

func TestRelativeToRejectsEscapes(t *testing.T) {
	rel, err := relativeTo("/images", "/images/trips/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("trips", "a.jpg"), rel)

	_, err = relativeTo("/images", "/other/a.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")

	_, err = relativeTo("/images", "/images")
	assert.NoError(t, err)
}

func TestSweepTemp(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, afero.WriteFile(fs, "/images/"+tempPrefix+"c.jpg-dead", []byte("partial"), 0644))
	s.SweepTemp()

	exists, err := afero.Exists(fs, "/images/"+tempPrefix+"c.jpg-dead")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write("a.jpg", strings.NewReader("jpeg"), time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Delete("a.jpg"))

	// Deleting a missing file is not an error.
	assert.NoError(t, s.Delete("a.jpg"))
}

func TestManifestRoundTrip(t *testing.T) {
	fs = afero.NewMemMapFs()

	manifest := Manifest{
		"a.jpg": {
			Path:        "a.jpg",
			Fingerprint: Fingerprint{Size: 9, ModTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
			Origin:      OriginRemote,
		},
		"b.png": {
			Path:        "b.png",
			Fingerprint: Fingerprint{Size: 3, ModTime: time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)},
			Origin:      OriginLocal,
		},
	}
	require.NoError(t, fs.MkdirAll("/images", 0755))
	require.NoError(t, manifest.Save("/images/.piframe-manifest.json"))

	loaded, err := LoadManifest("/images/.piframe-manifest.json")
	require.NoError(t, err)
	assert.Equal(t, len(manifest), len(loaded))
	assert.Equal(t, OriginRemote, loaded["a.jpg"].Origin)
	assert.True(t, manifest["a.jpg"].Fingerprint.Equal(loaded["a.jpg"].Fingerprint))

	// Saving over an existing manifest replaces it.
	delete(manifest, "b.png")
	require.NoError(t, manifest.Save("/images/.piframe-manifest.json"))
	loaded, err = LoadManifest("/images/.piframe-manifest.json")
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestLoadManifestMissing(t *testing.T) {
	fs = afero.NewMemMapFs()

	manifest, err := LoadManifest("/images/.piframe-manifest.json")
	require.NoError(t, err)
	assert.Empty(t, manifest)
}

func TestFingerprintEqual(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	a := Fingerprint{Size: 10, ModTime: base}
	assert.True(t, a.Equal(Fingerprint{Size: 10, ModTime: base.Add(500 * time.Millisecond)}))
	assert.False(t, a.Equal(Fingerprint{Size: 11, ModTime: base}))
	assert.False(t, a.Equal(Fingerprint{Size: 10, ModTime: base.Add(2 * time.Second)}))
}

func TestReconcile(t *testing.T) {
	manifest := Manifest{
		"gone.jpg": {Path: "gone.jpg", Origin: OriginRemote},
		"kept.jpg": {Path: "kept.jpg", Origin: OriginRemote},
	}
	files := []FileInfo{
		{Path: "kept.jpg"},
		{Path: "mystery.jpg"},
	}

	orphaned, unclassified := Reconcile(manifest, files)
	assert.Equal(t, []string{"gone.jpg"}, orphaned)
	require.Len(t, unclassified, 1)
	assert.Equal(t, "mystery.jpg", unclassified[0].Path)
}
