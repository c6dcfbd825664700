// Package display prepares decoded images for the screen and renders
// them, either straight to the Linux framebuffer or through an external
// viewer watching a frame file.
package display

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/piframe/piframe/pkg/errors"
)

// Renderer outputs prepared frames.
type Renderer interface {
	// Bounds is the output resolution. Prepared frames match it exactly.
	Bounds() image.Rectangle

	Render(image.Image) error

	Close() error
}

// The fit modes.
const (
	// FitContain scales the image to fit inside the screen, padding the
	// rest with the background color.
	FitContain = "contain"

	// FitCover scales the image to cover the screen, cropping the
	// overflow.
	FitCover = "cover"

	// FitFill stretches the image to the screen, ignoring aspect ratio.
	FitFill = "fill"
)

// Prepare scales an image to the renderer's bounds according to the fit
// mode. The result always has exactly the bounds' dimensions.
func Prepare(img image.Image, bounds image.Rectangle, fitMode string,
	background color.Color) (*image.NRGBA, error) {

	width, height := bounds.Dx(), bounds.Dy()
	switch fitMode {
	case FitContain:
		fitted := imaging.Fit(img, width, height, imaging.Lanczos)
		canvas := imaging.New(width, height, background)
		return imaging.PasteCenter(canvas, fitted), nil
	case FitCover:
		return imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos), nil
	case FitFill:
		return imaging.Resize(img, width, height, imaging.Lanczos), nil
	}
	return nil, errors.New(fmt.Sprintf("unknown fit mode %q", fitMode))
}

// namedColors are the color names accepted in background_color, matching
// what X11 viewers understand for the common cases.
var namedColors = map[string]color.NRGBA{
	"black": {0, 0, 0, 255},
	"white": {255, 255, 255, 255},
	"gray":  {128, 128, 128, 255},
	"grey":  {128, 128, 128, 255},
}

// ParseColor parses a background color, either a name or "#rrggbb".
func ParseColor(value string) (color.NRGBA, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if c, ok := namedColors[value]; ok {
		return c, nil
	}

	if strings.HasPrefix(value, "#") && len(value) == 7 {
		var r, g, b uint8
		if _, err := fmt.Sscanf(value, "#%02x%02x%02x", &r, &g, &b); err == nil {
			return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
		}
	}
	return color.NRGBA{}, errors.NewFriendlyError(
		"Invalid background_color %q. Use a name like \"black\" or a hex "+
			"color like \"#202020\".", value)
}
