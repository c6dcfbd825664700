package display

import (
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/jonboulle/clockwork"
)

// crossfadeSteps is the number of intermediate frames rendered during a
// fade. More steps look smoother but cost CPU on a Pi Zero.
const crossfadeSteps = 8

// Crossfade blends from one prepared frame to the next over the given
// duration. Both frames must match the renderer's bounds. A zero duration
// renders the new frame directly.
func Crossfade(renderer Renderer, from, to image.Image,
	duration time.Duration, clock clockwork.Clock) error {

	if duration <= 0 || from == nil {
		return renderer.Render(to)
	}

	base := imaging.Clone(from)
	for step := 1; step < crossfadeSteps; step++ {
		opacity := float64(step) / crossfadeSteps
		blended := imaging.Overlay(base, to, image.Pt(0, 0), opacity)
		if err := renderer.Render(blended); err != nil {
			return err
		}
		clock.Sleep(duration / crossfadeSteps)
	}
	return renderer.Render(to)
}
