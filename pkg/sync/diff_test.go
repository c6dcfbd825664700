package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/piframe/piframe/pkg/store"
)

var (
	t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func record(path string, size int64, modTime time.Time, origin store.Origin) store.Record {
	return store.Record{
		Path:        path,
		Fingerprint: store.Fingerprint{Size: size, ModTime: modTime},
		Origin:      origin,
	}
}

func file(path string, size int64, modTime time.Time) store.FileInfo {
	return store.FileInfo{
		Path:        path,
		Fingerprint: store.Fingerprint{Size: size, ModTime: modTime},
	}
}

func item(path string, size int64, modTime time.Time) Item {
	return Item{Path: path, Size: size, ModTime: modTime, ID: path}
}

func paths(items []Item) (out []string) {
	for _, i := range items {
		out = append(out, i.Path)
	}
	return
}

func filePaths(files []store.FileInfo) (out []string) {
	for _, f := range files {
		out = append(out, f.Path)
	}
	return
}

func TestPlanEmptyStore(t *testing.T) {
	plan := ComputePlan(
		[]Item{item("a.jpg", 10, t0), item("b.png", 20, t0)},
		store.Manifest{}, nil, nil, false)

	assert.Equal(t, []string{"a.jpg", "b.png"}, paths(plan.Download))
	assert.Empty(t, plan.DeleteLocal)
}

func TestPlanInSyncIsEmpty(t *testing.T) {
	remote := []Item{item("a.jpg", 10, t0)}
	manifest := store.Manifest{"a.jpg": record("a.jpg", 10, t0, store.OriginRemote)}
	local := []store.FileInfo{file("a.jpg", 10, t0)}

	plan := ComputePlan(remote, manifest, local, nil, false)
	assert.True(t, plan.Empty())
	assert.Equal(t, []string{"a.jpg"}, plan.Refresh)
}

func TestPlanRemoteRemoval(t *testing.T) {
	manifest := store.Manifest{
		"a.jpg": record("a.jpg", 10, t0, store.OriginRemote),
		"b.png": record("b.png", 20, t0, store.OriginRemote),
	}
	local := []store.FileInfo{file("a.jpg", 10, t0), file("b.png", 20, t0)}

	plan := ComputePlan([]Item{item("b.png", 20, t0)}, manifest, local, nil, false)
	assert.Equal(t, []string{"a.jpg"}, plan.DeleteLocal)
	assert.Empty(t, plan.Download)
}

func TestPlanRemoteUpdate(t *testing.T) {
	remote := []Item{item("a.jpg", 15, t1)}
	manifest := store.Manifest{"a.jpg": record("a.jpg", 10, t0, store.OriginRemote)}
	local := []store.FileInfo{file("a.jpg", 10, t0)}

	plan := ComputePlan(remote, manifest, local, nil, false)
	assert.Equal(t, []string{"a.jpg"}, paths(plan.Download))
}

func TestPlanPreservesLocalOnlyFiles(t *testing.T) {
	// wedding.jpg was copied in over ssh and isn't remote-tracked. The
	// one-directional strategy must neither delete nor upload it.
	manifest := store.Manifest{"wedding.jpg": record("wedding.jpg", 99, t0, store.OriginLocal)}
	local := []store.FileInfo{file("wedding.jpg", 99, t0)}

	plan := ComputePlan([]Item{item("a.jpg", 10, t0)}, manifest, local, nil, false)
	assert.Equal(t, []string{"a.jpg"}, paths(plan.Download))
	assert.Empty(t, plan.DeleteLocal)
	assert.Empty(t, plan.Push)
}

func TestPlanAdoptsUntrackedFiles(t *testing.T) {
	// After a crash between file write and manifest save, the file is on
	// disk but untracked. If the bytes match the remote, adopt it instead
	// of downloading again.
	remote := []Item{item("a.jpg", 10, t0)}
	local := []store.FileInfo{file("a.jpg", 10, t0), file("holiday.png", 33, t0)}

	plan := ComputePlan(remote, store.Manifest{}, local, nil, false)
	assert.Empty(t, plan.Download)
	assert.Equal(t, []string{"a.jpg"}, paths(plan.AdoptRemote))
	assert.Equal(t, []string{"holiday.png"}, filePaths(plan.AdoptLocal))
}

func TestPlanBidirectionalPushesLocalChanges(t *testing.T) {
	remote := []Item{item("a.jpg", 10, t0)}
	manifest := store.Manifest{"a.jpg": record("a.jpg", 10, t0, store.OriginRemote)}
	local := []store.FileInfo{file("a.jpg", 12, t1), file("new.png", 5, t1)}

	plan := ComputePlan(remote, manifest, local, nil, true)
	assert.Equal(t, []string{"a.jpg", "new.png"}, filePaths(plan.Push))
	assert.Empty(t, plan.Download)
}

func TestPlanConflictNewerWins(t *testing.T) {
	manifest := store.Manifest{"a.jpg": record("a.jpg", 10, t0, store.OriginRemote)}

	// Both sides changed; the local copy is newer.
	plan := ComputePlan(
		[]Item{item("a.jpg", 11, t0.Add(time.Minute))},
		manifest,
		[]store.FileInfo{file("a.jpg", 12, t1)},
		nil, true)
	assert.Equal(t, []string{"a.jpg"}, filePaths(plan.Push))

	// Both sides changed; the remote copy is newer.
	plan = ComputePlan(
		[]Item{item("a.jpg", 11, t1)},
		manifest,
		[]store.FileInfo{file("a.jpg", 12, t0.Add(time.Minute))},
		nil, true)
	assert.Equal(t, []string{"a.jpg"}, paths(plan.Download))
}

func TestPlanConflictRemoteWinsTies(t *testing.T) {
	manifest := store.Manifest{"a.jpg": record("a.jpg", 10, t0, store.OriginRemote)}

	plan := ComputePlan(
		[]Item{item("a.jpg", 11, t1)},
		manifest,
		[]store.FileInfo{file("a.jpg", 12, t1)},
		nil, true)
	assert.Equal(t, []string{"a.jpg"}, paths(plan.Download))
	assert.Empty(t, plan.Push)
}

func TestPlanPropagatesLocalDeletion(t *testing.T) {
	deleted := []store.Record{record("mine.jpg", 10, t0, store.OriginLocal)}

	// Bidirectional: a locally-owned file that disappeared propagates the
	// deletion to the remote.
	plan := ComputePlan(nil, store.Manifest{}, nil, deleted, true)
	assert.Equal(t, []string{"mine.jpg"}, plan.DeleteRemote)

	// One-directional: never touches the remote.
	plan = ComputePlan(nil, store.Manifest{}, nil, deleted, false)
	assert.Empty(t, plan.DeleteRemote)
}

func TestPlanRedownloadsMissingTrackedFile(t *testing.T) {
	// The file was deleted locally but the remote still has it. The
	// caller dropped the orphaned manifest entry, so the diff sees a bare
	// remote item and re-downloads it.
	plan := ComputePlan(
		[]Item{item("a.jpg", 10, t0)},
		store.Manifest{}, nil,
		[]store.Record{record("a.jpg", 10, t0, store.OriginRemote)}, false)
	assert.Equal(t, []string{"a.jpg"}, paths(plan.Download))
}
