package display

import (
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/piframe/piframe/pkg/errors"
)

// FrameFile renders by rewriting a single image file that an external
// viewer (e.g. `feh --reload`) is pointed at. Frames are committed with a
// temp-file rename so the viewer never reads a half-written image.
type FrameFile struct {
	path   string
	bounds image.Rectangle
}

// NewFrameFile returns a renderer writing frames of the given resolution
// to path.
func NewFrameFile(path string, width, height int) (*FrameFile, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.WithContext(err, "create frame directory")
	}
	return &FrameFile{
		path:   path,
		bounds: image.Rect(0, 0, width, height),
	}, nil
}

func (f *FrameFile) Bounds() image.Rectangle {
	return f.bounds
}

func (f *FrameFile) Render(img image.Image) error {
	tmpPath := f.path + ".tmp"
	tmp, err := fs.Create(tmpPath)
	if err != nil {
		return errors.WithContext(err, "create temp frame")
	}

	if err := imaging.Encode(tmp, img, imaging.JPEG,
		imaging.JPEGQuality(90)); err != nil {
		tmp.Close()
		fs.Remove(tmpPath)
		return errors.WithContext(err, "encode frame")
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpPath)
		return errors.WithContext(err, "close temp frame")
	}

	if err := fs.Rename(tmpPath, f.path); err != nil {
		// MemMapFs refuses to rename over an existing file.
		if removeErr := fs.Remove(f.path); removeErr == nil {
			if err := fs.Rename(tmpPath, f.path); err == nil {
				return nil
			}
		}
		return errors.WithContext(err, "commit frame")
	}
	return nil
}

func (f *FrameFile) Close() error {
	if err := fs.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "remove frame file")
	}
	return nil
}
