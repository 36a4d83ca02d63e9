package capture

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// jpegDefaultQuality matches image/jpeg's own default and is used for camera
// frames, where detail matters more than byte size.
const jpegDefaultQuality = jpeg.DefaultQuality

// scaleMode selects how a frame is bounded before encoding.
type scaleMode int

const (
	// scaleFit shrinks the image so both dimensions fit within the bound,
	// preserving aspect ratio (thumbnail semantics).
	scaleFit scaleMode = iota

	// scaleWidth shrinks the image so its width does not exceed the bound,
	// preserving aspect ratio.
	scaleWidth
)

// targetBounds computes the downscaled dimensions for src under mode.
// Images already within the bound keep their size — capture never upscales.
func targetBounds(src image.Rectangle, mode scaleMode, bound int) (w, h int) {
	w, h = src.Dx(), src.Dy()
	if w <= 0 || h <= 0 {
		return w, h
	}

	switch mode {
	case scaleFit:
		if w <= bound && h <= bound {
			return w, h
		}
		if w >= h {
			return bound, max(1, h*bound/w)
		}
		return max(1, w*bound/h), bound

	case scaleWidth:
		if w <= bound {
			return w, h
		}
		return bound, max(1, h*bound/w)
	}
	return w, h
}

// encodeJPEG downscales img per mode/bound and returns the JPEG bytes.
func encodeJPEG(img image.Image, mode scaleMode, bound, quality int) ([]byte, error) {
	w, h := targetBounds(img.Bounds(), mode, bound)

	if w != img.Bounds().Dx() || h != img.Bounds().Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
