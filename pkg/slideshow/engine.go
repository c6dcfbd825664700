package slideshow

import (
	"context"
	"image"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// Engine runs the display loop. It owns the playlist; listing, decoding,
// and rendering are injected so the loop can be driven in tests without a
// filesystem or a screen.
type Engine struct {
	// List returns the current set of image paths.
	List func() ([]string, error)

	// Load decodes one image.
	Load func(path string) (image.Image, error)

	// Show puts a decoded image on screen.
	Show func(img image.Image) error

	// Interval is how long each image stays up.
	Interval time.Duration

	// EmptyPoll is how often to rescan while no images are available.
	EmptyPoll time.Duration

	Random bool

	// Reloads asks for a playlist rebuild, e.g. on SIGHUP. May be nil.
	Reloads <-chan struct{}

	Clock clockwork.Clock

	playlist *Playlist
}

// Run shows images until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.rebuild()
	e.showCurrent()

	timer := e.Clock.NewTimer(e.tickInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-e.Reloads:
			e.rebuild()
			e.showCurrent()
			timer.Reset(e.tickInterval())

		case <-timer.Chan():
			if e.playlist.Empty() {
				e.rebuild()
				e.showCurrent()
			} else {
				e.showNext()
			}
			timer.Reset(e.tickInterval())
		}
	}
}

func (e *Engine) tickInterval() time.Duration {
	if e.playlist.Empty() {
		return e.EmptyPoll
	}
	return e.Interval
}

func (e *Engine) rebuild() {
	paths, err := e.List()
	if err != nil {
		log.WithError(err).Error("Failed to scan image directory")
		paths = nil
	}

	if e.playlist == nil {
		e.playlist = NewPlaylist(paths, e.Random)
	} else {
		e.playlist.Rebuild(paths)
	}
	log.WithField("images", e.playlist.Len()).Debug("Rebuilt playlist")
}

// showCurrent displays the image under the cursor, skipping forward past
// any that fail to decode.
func (e *Engine) showCurrent() {
	if e.playlist.Empty() {
		log.Info("No images to display yet")
		return
	}

	if e.display(e.playlist.Current()) {
		return
	}
	e.showNext()
}

// showNext advances until an image decodes. Files that fail are dropped
// from the rotation until the next rebuild picks up a fixed copy.
func (e *Engine) showNext() {
	for attempts := e.playlist.Len(); attempts > 0; attempts-- {
		if e.display(e.playlist.Advance()) {
			return
		}
	}
	log.Warn("No displayable images in the rotation")
}

func (e *Engine) display(path string) bool {
	img, err := e.Load(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("Skipping undecodable image")
		e.playlist.Remove(path)
		return false
	}

	if err := e.Show(img); err != nil {
		log.WithError(err).WithField("path", path).Error("Failed to render image")
		return false
	}
	return true
}
