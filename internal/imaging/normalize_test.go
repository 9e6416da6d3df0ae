package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// withDeclaredSize rewrites the IHDR width and height of a PNG, keeping the
// chunk checksum valid, so the header claims a size the data does not have.
func withDeclaredSize(t *testing.T, data []byte, w, h uint32) []byte {
	t.Helper()
	out := append([]byte(nil), data...)
	if string(out[12:16]) != "IHDR" {
		t.Fatalf("unexpected first chunk %q", out[12:16])
	}
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func decodeJPEGSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestDimensions(t *testing.T) {
	tests := []struct {
		name         string
		w, h, max    int
		wantW, wantH int
	}{
		{"landscape", 1024, 768, 128, 128, 96},
		{"portrait", 600, 1200, 128, 64, 128},
		{"square", 500, 500, 128, 128, 128},
		{"already small", 100, 50, 128, 100, 50},
		{"exact bound", 128, 128, 128, 128, 128},
		{"extreme strip", 4000, 3, 128, 128, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := Dimensions(tt.w, tt.h, tt.max)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("Dimensions(%d, %d) = (%d, %d), want (%d, %d)", tt.w, tt.h, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestNormalizeBoundsAndIdempotence(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"large landscape", 400, 200, 128, 64},
		{"large portrait", 90, 300, 38, 128},
		{"small stays", 60, 40, 60, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, err := Normalize(encodePNG(t, tt.w, tt.h))
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			w, h := decodeJPEGSize(t, first)
			if w != tt.wantW || h != tt.wantH {
				t.Fatalf("first pass = %dx%d, want %dx%d", w, h, tt.wantW, tt.wantH)
			}

			second, err := Normalize(first)
			if err != nil {
				t.Fatalf("second Normalize: %v", err)
			}
			w2, h2 := decodeJPEGSize(t, second)
			if w2 != w || h2 != h {
				t.Errorf("second pass changed dimensions: %dx%d -> %dx%d", w, h, w2, h2)
			}
		})
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize([]byte("definitely not an image"))
	if !errors.Is(err, ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
}

func TestNormalizeFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo_raw.png")
	dst := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(src, encodePNG(t, 256, 256), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NormalizeFile(src, dst); err != nil {
		t.Fatalf("NormalizeFile: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if w, h := decodeJPEGSize(t, data); w != 128 || h != 128 {
		t.Errorf("size = %dx%d, want 128x128", w, h)
	}
}

func TestApplyOrientation(t *testing.T) {
	// 3x2 source with a marked top-left pixel.
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	red := color.RGBA{255, 0, 0, 255}
	src.Set(0, 0, red)

	tests := []struct {
		orientation  int
		wantW, wantH int
		redX, redY   int
	}{
		{1, 3, 2, 0, 0},
		{2, 3, 2, 2, 0},
		{3, 3, 2, 2, 1},
		{4, 3, 2, 0, 1},
		{5, 2, 3, 0, 0},
		{6, 2, 3, 1, 0},
		{7, 2, 3, 1, 2},
		{8, 2, 3, 0, 2},
	}
	for _, tt := range tests {
		out := applyOrientation(src, tt.orientation)
		b := out.Bounds()
		if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
			t.Errorf("orientation %d: size %dx%d, want %dx%d", tt.orientation, b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			continue
		}
		r, _, _, _ := out.At(tt.redX, tt.redY).RGBA()
		if r>>8 != 255 {
			t.Errorf("orientation %d: marked pixel not at (%d,%d)", tt.orientation, tt.redX, tt.redY)
		}
	}
}

func TestReadOrientationWithoutExif(t *testing.T) {
	if got := readOrientation(encodePNG(t, 4, 4)); got != 1 {
		t.Errorf("orientation = %d, want 1", got)
	}
	if got := readOrientation([]byte{0x00, 0x01}); got != 1 {
		t.Errorf("orientation = %d, want 1", got)
	}
}

func TestNormalizeRejectsOversizedHeader(t *testing.T) {
	huge := withDeclaredSize(t, encodePNG(t, 4, 4), 30000, 30000)
	cfg, err := png.DecodeConfig(bytes.NewReader(huge))
	if err != nil || cfg.Width != 30000 {
		t.Fatalf("patched header not readable: %+v, %v", cfg, err)
	}
	if _, err := Normalize(huge); !errors.Is(err, ErrDecode) {
		t.Errorf("Normalize err = %v, want ErrDecode", err)
	}
}

func TestFitScalesBeforeOrienting(t *testing.T) {
	// Left half red, right half blue.
	src := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 400; x++ {
			c := color.RGBA{0, 0, 255, 255}
			if x < 200 {
				c = color.RGBA{255, 0, 0, 255}
			}
			src.Set(x, y, c)
		}
	}

	tests := []struct {
		orientation  int
		wantW, wantH int
		redX, redY   int
		blueX, blueY int
	}{
		{1, 128, 64, 10, 32, 118, 32},
		{6, 64, 128, 32, 10, 32, 118},
		{8, 64, 128, 32, 118, 32, 10},
	}
	for _, tt := range tests {
		out := fit(src, tt.orientation, MaxDimension)
		b := out.Bounds()
		if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
			t.Errorf("orientation %d: size %dx%d, want %dx%d", tt.orientation, b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			continue
		}
		if r, _, bl, _ := out.At(tt.redX, tt.redY).RGBA(); r>>8 < 200 || bl>>8 > 55 {
			t.Errorf("orientation %d: (%d,%d) not red", tt.orientation, tt.redX, tt.redY)
		}
		if r, _, bl, _ := out.At(tt.blueX, tt.blueY).RGBA(); bl>>8 < 200 || r>>8 > 55 {
			t.Errorf("orientation %d: (%d,%d) not blue", tt.orientation, tt.blueX, tt.blueY)
		}
	}
}
