// Package slideshow decides which image is on screen and when to move to
// the next one.
package slideshow

import (
	"math/rand"
	"sort"
)

// Playlist is an ordered rotation of image paths with a cursor.
type Playlist struct {
	paths  []string
	pos    int
	random bool
}

// NewPlaylist builds a rotation from the given paths, shuffled or in
// sorted order.
func NewPlaylist(paths []string, random bool) *Playlist {
	p := &Playlist{random: random}
	p.paths = order(paths, random)
	return p
}

func order(paths []string, random bool) []string {
	ordered := append([]string(nil), paths...)
	if random {
		rand.Shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	} else {
		sort.Strings(ordered)
	}
	return ordered
}

func (p *Playlist) Len() int {
	return len(p.paths)
}

func (p *Playlist) Empty() bool {
	return len(p.paths) == 0
}

// Current is the path under the cursor, or "" for an empty playlist.
func (p *Playlist) Current() string {
	if p.Empty() {
		return ""
	}
	return p.paths[p.pos]
}

// Advance moves the cursor to the next path, wrapping at the end, and
// returns it.
func (p *Playlist) Advance() string {
	if p.Empty() {
		return ""
	}
	p.pos = (p.pos + 1) % len(p.paths)
	return p.paths[p.pos]
}

// Rebuild replaces the rotation with a fresh set of paths. If the image
// currently on screen survived the change, the cursor follows it to its
// new position so the rotation doesn't restart from scratch; otherwise
// the rotation restarts from the first position.
func (p *Playlist) Rebuild(paths []string) {
	current := p.Current()
	p.paths = order(paths, p.random)
	p.pos = 0

	if current != "" {
		for i, path := range p.paths {
			if path == current {
				p.pos = i
				return
			}
		}
	}
}

// Remove drops a path from the rotation, e.g. a file that no longer
// decodes. The cursor stays on the same neighbor.
func (p *Playlist) Remove(path string) {
	for i, candidate := range p.paths {
		if candidate != path {
			continue
		}

		p.paths = append(p.paths[:i], p.paths[i+1:]...)
		// Step the cursor back when it was on or past the removed path,
		// so the next Advance lands on the path's successor.
		if p.pos >= i {
			p.pos--
		}
		if p.pos < 0 {
			p.pos = len(p.paths) - 1
		}
		if p.pos < 0 {
			p.pos = 0
		}
		return
	}
}
