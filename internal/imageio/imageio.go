// Package imageio bridges Frame buffers and image files through the
// ImageMagick bindings.
package imageio

import (
	"fmt"

	"gopkg.in/gographics/imagick.v3/imagick"

	"microstack/internal/frame"
)

// Init initializes the ImageMagick runtime. Call once per process before
// any file operation; pair with Terminate.
func Init() {
	imagick.Initialize()
}

// Terminate releases the ImageMagick runtime.
func Terminate() {
	imagick.Terminate()
}

// ReadFrame decodes an image file into an RGBA frame.
func ReadFrame(path string) (*frame.Frame, error) {
	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}

	w := int(mw.GetImageWidth())
	h := int(mw.GetImageHeight())
	f, err := frame.New(w, h)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}

	pixels, err := mw.ExportImagePixels(0, 0, uint(w), uint(h), "RGBA", imagick.PIXEL_CHAR)
	if err != nil {
		return nil, fmt.Errorf("export pixels from %s: %w", path, err)
	}
	raw, ok := pixels.([]byte)
	if !ok {
		return nil, fmt.Errorf("export pixels from %s: unexpected buffer type %T", path, pixels)
	}
	copy(f.Pix, raw)
	return f, nil
}

// WriteFrame encodes a frame to disk; the format follows the file
// extension.
func WriteFrame(path string, f *frame.Frame) error {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("write image %s: %w", path, frame.ErrEmptyFrame)
	}

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ConstituteImage(uint(f.Width), uint(f.Height), "RGBA", imagick.PIXEL_CHAR, f.Pix); err != nil {
		return fmt.Errorf("constitute image %s: %w", path, err)
	}
	if err := mw.WriteImage(path); err != nil {
		return fmt.Errorf("write image %s: %w", path, err)
	}
	return nil
}
