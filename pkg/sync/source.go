package sync

import (
	"context"
	"io"
	"time"
)

// Item is one file in the remote listing.
type Item struct {
	// Path is the item's path relative to the remote folder root.
	Path string

	Size    int64
	ModTime time.Time

	// ID is an opaque source-specific identifier used to fetch the item.
	ID string
}

// A Source lists and fetches files from a remote photo source. The two
// strategies (public-link fetch and bidirectional remote sync) both
// implement it; the cycle logic is shared.
type Source interface {
	// Name identifies the source in log lines.
	Name() string

	// List returns the current remote listing.
	List(ctx context.Context) ([]Item, error)

	// Fetch opens the item's contents for streaming download.
	Fetch(ctx context.Context, item Item) (io.ReadCloser, error)
}

// A Pusher is a Source that can upload local files. Only the
// bidirectional strategy implements it.
type Pusher interface {
	Push(ctx context.Context, relPath, localPath string, modTime time.Time) error
}

// A RemoteDeleter is a Source that can delete remote files. Only the
// bidirectional strategy implements it.
type RemoteDeleter interface {
	DeleteRemote(ctx context.Context, relPath string) error
}
