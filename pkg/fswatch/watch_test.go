package fswatch

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPathsToWatch(t *testing.T) {
	tests := []struct {
		name      string
		dirs      []string
		files     []string
		recursive bool
		expPaths  []string
	}{
		{
			name:      "FlatDirectory",
			dirs:      []string{"/images"},
			files:     []string{"/images/a.jpg", "/images/b.png"},
			recursive: false,
			expPaths:  []string{"/images"},
		},
		{
			name: "Recursive",
			dirs: []string{"/images", "/images/trips", "/images/trips/rome",
				"/images/family"},
			files:     []string{"/images/a.jpg", "/images/trips/rome/b.jpg"},
			recursive: true,
			expPaths: []string{"/images", "/images/family", "/images/trips",
				"/images/trips/rome"},
		},
		{
			name:      "NonRecursiveIgnoresSubdirs",
			dirs:      []string{"/images", "/images/trips"},
			recursive: false,
			expPaths:  []string{"/images"},
		},
		{
			name:      "SkipsHiddenDirectories",
			dirs:      []string{"/images", "/images/.thumbnails"},
			recursive: true,
			expPaths:  []string{"/images"},
		},
	}

	for _, test := range tests {
		fs = afero.NewMemMapFs()
		for _, dir := range test.dirs {
			assert.NoError(t, fs.MkdirAll(dir, 0755))
		}
		for _, file := range test.files {
			assert.NoError(t, afero.WriteFile(fs, file, []byte("testfile"), 0644))
		}

		paths, err := getPathsToWatch("/images", test.recursive)
		assert.NoError(t, err)

		// Sort for consistency.
		sort.Strings(test.expPaths)
		sort.Strings(paths)
		assert.Equal(t, test.expPaths, paths, test.name)
	}
}

func TestGetPathsToWatchMissingDir(t *testing.T) {
	fs = afero.NewMemMapFs()
	_, err := getPathsToWatch("/images", false)
	assert.Error(t, err)
}

func TestCombineUpdates(t *testing.T) {
	t.Parallel()

	updates := make(chan fsnotify.Event, 1024)
	addEvents := func(num int) {
		for i := 0; i < num; i++ {
			updates <- fsnotify.Event{Name: "/images/a.jpg"}
		}
	}

	// Seed with events.
	numUpdates := 100
	addEvents(numUpdates)
	combined := combineUpdates(updates, 0, nil)

	// Assert that the events are being combined.
	numCombined := countEvents(combined)
	assert.True(t, numCombined < numUpdates,
		"expected less combined events (%d) than %d", numCombined, numUpdates)

	// Add more events.
	addEvents(100)
	<-combined
}

func TestCombineUpdatesIgnoresHiddenFiles(t *testing.T) {
	t.Parallel()

	updates := make(chan fsnotify.Event, 16)
	updates <- fsnotify.Event{Name: "/images/.piframe-tmp-123"}
	updates <- fsnotify.Event{Name: "/images/.piframe-manifest.json"}

	combined := combineUpdates(updates, 0, nil)
	select {
	case <-combined:
		t.Fatal("hidden files shouldn't generate events")
	case <-time.After(100 * time.Millisecond):
	}

	updates <- fsnotify.Event{Name: "/images/a.jpg"}
	select {
	case <-combined:
	case <-time.After(time.Second):
		t.Fatal("expected an event for a visible file")
	}
}

func TestWatchNewDirRegistersCreatedDirectories(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/images/trips", 0755))
	require.NoError(t, fs.MkdirAll("/images/.cache", 0755))
	require.NoError(t, afero.WriteFile(fs, "/images/a.jpg", []byte("jpeg"), 0644))

	var added []string
	addWatch := func(path string) error {
		added = append(added, path)
		return nil
	}

	// A freshly created subdirectory gets a watch of its own.
	watchNewDir(fsnotify.Event{Name: "/images/trips", Op: fsnotify.Create}, addWatch)
	assert.Equal(t, []string{"/images/trips"}, added)

	// Plain files, hidden directories, and non-create events don't.
	watchNewDir(fsnotify.Event{Name: "/images/a.jpg", Op: fsnotify.Create}, addWatch)
	watchNewDir(fsnotify.Event{Name: "/images/.cache", Op: fsnotify.Create}, addWatch)
	watchNewDir(fsnotify.Event{Name: "/images/trips", Op: fsnotify.Write}, addWatch)
	assert.Equal(t, []string{"/images/trips"}, added)

	// Non-recursive mode passes no registration hook at all.
	watchNewDir(fsnotify.Event{Name: "/images/trips", Op: fsnotify.Create}, nil)
}

func countEvents(c chan struct{}) (n int) {
	// Block until the first event.
	<-c
	n++

	// Count the number of events until there hasn't been any new events in 500
	// milliseconds.
	for {
		select {
		case <-c:
			n++
		case <-time.After(500 * time.Millisecond):
			return n
		}
	}
}

func TestPollDetectsChanges(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/images", 0755))
	require.NoError(t, afero.WriteFile(fs, "/images/a.jpg", []byte("aaaa"), 0644))

	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := Poll(ctx, "/images", Options{}, 30*time.Second, clock)

	// Let the goroutine take its initial snapshot and block on the timer.
	clock.BlockUntil(1)

	// No changes: a tick produces no event.
	clock.Advance(30 * time.Second)
	clock.BlockUntil(1)
	select {
	case <-events:
		t.Fatal("unexpected event without changes")
	default:
	}

	// A new file produces an event on the next tick.
	require.NoError(t, afero.WriteFile(fs, "/images/b.png", []byte("bb"), 0644))
	clock.Advance(30 * time.Second)
	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("expected an event after adding a file")
	}
}

func TestPollIgnoresSmallFiles(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/images", 0755))

	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := Poll(ctx, "/images", Options{MinFileSize: 1024},
		30*time.Second, clock)
	clock.BlockUntil(1)

	require.NoError(t, afero.WriteFile(
		fs, "/images/stub.jpg", []byte("tiny"), 0644))
	clock.Advance(30 * time.Second)
	clock.BlockUntil(1)

	select {
	case <-events:
		t.Fatal("files below min_file_size shouldn't generate events")
	default:
	}
}

func TestPollIgnoresHiddenFiles(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/images", 0755))

	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := Poll(ctx, "/images", Options{}, 30*time.Second, clock)
	clock.BlockUntil(1)

	require.NoError(t, afero.WriteFile(
		fs, "/images/.piframe-tmp-123", []byte("partial"), 0644))
	clock.Advance(30 * time.Second)
	clock.BlockUntil(1)

	select {
	case <-events:
		t.Fatal("hidden files shouldn't generate events")
	default:
	}
}
