package capture

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"
)

// decodeBounds decodes encoded JPEG bytes and returns the image bounds.
func decodeBounds(t *testing.T, data []byte) image.Rectangle {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return img.Bounds()
}

func TestTargetBoundsFit(t *testing.T) {
	t.Parallel()
	cases := []struct {
		w, h, bound  int
		wantW, wantH int
	}{
		{2048, 1024, 1024, 1024, 512},
		{1024, 2048, 1024, 512, 1024},
		{800, 600, 1024, 800, 600}, // already within bound: untouched
		{4096, 16, 1024, 1024, 4},
	}
	for _, c := range cases {
		w, h := targetBounds(image.Rect(0, 0, c.w, c.h), scaleFit, c.bound)
		if w != c.wantW || h != c.wantH {
			t.Errorf("targetBounds(%dx%d, fit %d) = %dx%d, want %dx%d",
				c.w, c.h, c.bound, w, h, c.wantW, c.wantH)
		}
	}
}

func TestTargetBoundsWidth(t *testing.T) {
	t.Parallel()
	cases := []struct {
		w, h, bound  int
		wantW, wantH int
	}{
		{1920, 1080, 640, 640, 360},
		{640, 480, 640, 640, 480},
		{320, 200, 640, 320, 200}, // never upscaled
	}
	for _, c := range cases {
		w, h := targetBounds(image.Rect(0, 0, c.w, c.h), scaleWidth, c.bound)
		if w != c.wantW || h != c.wantH {
			t.Errorf("targetBounds(%dx%d, width %d) = %dx%d, want %dx%d",
				c.w, c.h, c.bound, w, h, c.wantW, c.wantH)
		}
	}
}

// TestEncodeJPEGDownscales verifies the encoded output has the bounded
// dimensions.
func TestEncodeJPEGDownscales(t *testing.T) {
	t.Parallel()
	src := image.NewRGBA(image.Rect(0, 0, 1920, 1080))

	data, err := encodeJPEG(src, scaleWidth, 640, 75)
	if err != nil {
		t.Fatalf("encodeJPEG: %v", err)
	}

	b := decodeBounds(t, data)
	if b.Dx() != 640 || b.Dy() != 360 {
		t.Errorf("encoded bounds = %dx%d, want 640x360", b.Dx(), b.Dy())
	}
}

// TestEncodeJPEGKeepsSmallFrames verifies frames within the bound are not
// resampled.
func TestEncodeJPEGKeepsSmallFrames(t *testing.T) {
	t.Parallel()
	src := image.NewRGBA(image.Rect(0, 0, 320, 240))

	data, err := encodeJPEG(src, scaleFit, 1024, jpegDefaultQuality)
	if err != nil {
		t.Fatalf("encodeJPEG: %v", err)
	}

	b := decodeBounds(t, data)
	if b.Dx() != 320 || b.Dy() != 240 {
		t.Errorf("encoded bounds = %dx%d, want 320x240", b.Dx(), b.Dy())
	}
}
