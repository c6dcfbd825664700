package display

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/spf13/afero"

	"github.com/piframe/piframe/pkg/errors"
)

var fs = afero.NewOsFs()

// Load decodes an image file and applies its EXIF orientation, so photos
// taken with a rotated camera come out upright.
func Load(path string) (image.Image, error) {
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.WithContext(err, "read image")
	}

	img, err := imaging.Decode(bytes.NewReader(contents))
	if err != nil {
		return nil, errors.WithContext(err, "decode image")
	}

	return reorient(img, orientation(contents)), nil
}

// orientation returns the EXIF orientation tag, or 1 (upright) when the
// file has no usable EXIF data.
func orientation(contents []byte) int {
	meta, err := exif.Decode(bytes.NewReader(contents))
	if err != nil {
		return 1
	}

	tag, err := meta.Get(exif.Orientation)
	if err != nil {
		return 1
	}

	value, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return value
}

// reorient maps the EXIF orientation values 2 through 8 onto the
// transforms that undo them.
func reorient(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	}
	return img
}
