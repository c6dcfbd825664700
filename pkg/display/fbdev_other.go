//go:build !linux

package display

import (
	"github.com/piframe/piframe/pkg/errors"
)

// OpenFramebuffer is only implemented on Linux. Other platforms use the
// frame-file renderer with an external viewer.
func OpenFramebuffer(device string) (Renderer, error) {
	return nil, errors.NewFriendlyError(
		"The framebuffer renderer is only available on Linux. Set "+
			"display.framebuffer to \"\" to use the viewer command instead.")
}
