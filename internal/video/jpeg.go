package video

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/meetcap/meetcap/internal/device"
)

// jpegBackend encodes each frame as a standalone JPEG, yielding an MJPEG
// chunk stream any muxer downstream can consume.
type jpegBackend struct {
	quality int
}

func newJPEGBackend(cfg Config) (backend, error) {
	return &jpegBackend{quality: cfg.Quality}, nil
}

func (b *jpegBackend) Encode(f device.Frame) ([]byte, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	if len(f.RGBA) != f.Width*f.Height*4 {
		return nil, fmt.Errorf("%w: expected %d RGBA bytes, got %d", ErrInvalidFrame, f.Width*f.Height*4, len(f.RGBA))
	}

	img := &image.RGBA{
		Pix:    f.RGBA,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: b.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *jpegBackend) Close() error { return nil }

func (b *jpegBackend) Name() string { return "jpeg-software" }
