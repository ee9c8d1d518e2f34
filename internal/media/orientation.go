package media

import (
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// orientation is the EXIF Orientation tag value.
type orientation int

const orientNormal orientation = 1

// readOrientation returns the EXIF orientation of the file, or orientNormal
// when it has none.
func readOrientation(path string) orientation {
	f, err := os.Open(path)
	if err != nil {
		return orientNormal
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return orientNormal
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return orientNormal
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return orientNormal
	}
	return orientation(v)
}

func (o orientation) swapsAxes() bool {
	return o >= 5 && o <= 8
}

// apply returns img transformed so it displays upright without the tag.
func (o orientation) apply(img image.Image) image.Image {
	switch o {
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
	default:
		return img
	}
}
