package sdruntime

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
)

var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

var (
	ErrImageEmpty       = errors.New("sdruntime: image data is empty")
	ErrImageDecodeFail  = errors.New("sdruntime: failed to decode image")
	ErrImageEncodeFail  = errors.New("sdruntime: failed to encode image")
	ErrImageInvalidSize = errors.New("sdruntime: invalid image dimensions")
)

// IsPNG reports whether data starts with the PNG signature.
func IsPNG(data []byte) bool {
	return bytes.HasPrefix(data, pngMagic)
}

// DecodeImage decodes image bytes produced outside the process. PNG is
// always understood; other formats need their decoder registered by the
// caller.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrImageEmpty
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecodeFail, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: width=%d height=%d", ErrImageInvalidSize, b.Dx(), b.Dy())
	}
	return img, nil
}

// RGBAImage wraps raw RGBA pixels in an image.Image.
// pixels must be in RGBA format (4 bytes per pixel).
func RGBAImage(pixels []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: width=%d height=%d", ErrImageInvalidSize, width, height)
	}

	expectedLen := ImageDataSize(width, height)
	if len(pixels) != expectedLen {
		return nil, fmt.Errorf("%w: expected %d bytes for %dx%d RGBA, got %d",
			ErrImageInvalidSize, expectedLen, width, height, len(pixels))
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, pixels)
	return img, nil
}

// EncodePNG encodes an image to PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, ErrImageEmpty
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: width=%d height=%d", ErrImageInvalidSize, b.Dx(), b.Dy())
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageEncodeFail, err)
	}
	return buf.Bytes(), nil
}

// ImageDataSize is the byte length of width x height RGBA pixels.
func ImageDataSize(width, height int) int {
	return width * height * 4
}
