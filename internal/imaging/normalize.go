// Package imaging turns an arbitrary guest photo into the small still frame
// the lip-sync model is fed. The output bound caps GPU memory in the
// synthesis step.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// MaxDimension bounds the longer side of a normalized image.
	MaxDimension = 128

	// MaxSourcePixels bounds the declared size of an input image. Larger
	// inputs are rejected before any pixel buffer is allocated.
	MaxSourcePixels = 64 << 20

	// Quality is the fixed JPEG quality. The stdlib encoder always writes
	// 4:2:0 chroma subsampling and no metadata segments.
	Quality = 95
)

// ErrDecode is returned when the input is not a decodable image.
var ErrDecode = errors.New("image could not be decoded")

// Normalize decodes raw, downscales it so the longer side of the upright
// image is at most MaxDimension, applies its EXIF orientation and
// re-encodes it as JPEG. Images already within bounds keep their
// dimensions.
func Normalize(raw []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, MaxSourcePixels)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	orientation := readOrientation(raw)
	bounds := img.Bounds()
	origWidth, origHeight := bounds.Dx(), bounds.Dy()
	if origWidth == 0 || origHeight == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	out := fit(img, orientation, MaxDimension)
	newWidth, newHeight := out.Bounds().Dx(), out.Bounds().Dy()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	log.Debug().
		Str("format", format).
		Int("orientation", orientation).
		Int("orig_width", origWidth).
		Int("orig_height", origHeight).
		Int("new_width", newWidth).
		Int("new_height", newHeight).
		Int("output_size", buf.Len()).
		Msg("Image normalized")

	return buf.Bytes(), nil
}

// fit downscales img so the upright image's longer side is at most
// maxDimension, then applies orientation. Scaling comes first so the
// per-pixel rotation only touches the small result.
func fit(img image.Image, orientation, maxDimension int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	swap := orientation >= 5 && orientation <= 8
	if swap {
		w, h = h, w
	}
	newWidth, newHeight := Dimensions(w, h, maxDimension)
	if swap {
		newWidth, newHeight = newHeight, newWidth
	}

	// Flatten onto white so transparent PNG/GIF areas do not turn black.
	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if newWidth == bounds.Dx() && newHeight == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	}
	return applyOrientation(dst, orientation)
}

// NormalizeFile reads src, normalizes it and writes the JPEG to dst.
func NormalizeFile(src, dst string) error {
	raw, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	out, err := Normalize(raw)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, out, 0o644); err != nil {
		return fmt.Errorf("write normalized image: %w", err)
	}
	return nil
}

// Dimensions scales width and height so neither exceeds maxDimension,
// preserving aspect ratio. It never upscales and never returns a zero side.
func Dimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}

	if width > height {
		newHeight := int(float64(height) * float64(maxDimension) / float64(width))
		return maxDimension, max(newHeight, 1)
	}

	newWidth := int(float64(width) * float64(maxDimension) / float64(height))
	return max(newWidth, 1), maxDimension
}
