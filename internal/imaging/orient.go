package imaging

import (
	"bytes"
	"image"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// readOrientation returns the EXIF orientation tag (1-8), or 1 when the
// image has no readable EXIF block.
func readOrientation(raw []byte) (orientation int) {
	orientation = 1
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Interface("panic", r).Msg("EXIF parse panicked, assuming upright")
			orientation = 1
		}
	}()

	exifData, err := imagemeta.Decode(bytes.NewReader(raw))
	if err != nil {
		return 1
	}
	if o := int(exifData.Orientation); o >= 1 && o <= 8 {
		return o
	}
	return 1
}

// applyOrientation rotates and mirrors img so it displays upright.
// Orientation values follow the EXIF specification.
func applyOrientation(img image.Image, orientation int) image.Image {
	if orientation <= 1 || orientation > 8 {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dw, dh := w, h
	if orientation >= 5 {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch orientation {
			case 2: // mirror horizontal
				dx, dy = w-1-x, y
			case 3: // rotate 180
				dx, dy = w-1-x, h-1-y
			case 4: // mirror vertical
				dx, dy = x, h-1-y
			case 5: // transpose
				dx, dy = y, x
			case 6: // rotate 90 clockwise
				dx, dy = h-1-y, x
			case 7: // transverse
				dx, dy = h-1-y, w-1-x
			case 8: // rotate 90 counter-clockwise
				dx, dy = y, w-1-x
			}
			dst.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
