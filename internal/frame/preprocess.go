package frame

import (
	"fmt"
	"image"
	"math"

	"github.com/nfnt/resize"
)

// CropAndResize crops a centered region covering cropRatio of the frame's
// width and height, then scales it to targetWidth preserving the crop's
// aspect ratio.
func CropAndResize(f *Frame, targetWidth int, cropRatio float64) (*Frame, error) {
	cropW, cropH, err := cropSize(f, cropRatio)
	if err != nil {
		return nil, err
	}
	targetHeight := int(math.Round(float64(cropH) * float64(targetWidth) / float64(cropW)))
	if targetHeight < 1 {
		targetHeight = 1
	}
	return CropAndResizeTo(f, targetWidth, targetHeight, cropRatio)
}

// CropAndResizeTo crops the centered cropRatio region and scales it to an
// explicit target size, ignoring aspect ratio. Used for square fingerprint
// thumbnails.
func CropAndResizeTo(f *Frame, targetWidth, targetHeight int, cropRatio float64) (*Frame, error) {
	cropW, cropH, err := cropSize(f, cropRatio)
	if err != nil {
		return nil, err
	}
	if targetWidth <= 0 || targetHeight <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", targetWidth, targetHeight)
	}
	x0 := (f.Width - cropW) / 2
	y0 := (f.Height - cropH) / 2
	src := f.ToImage().SubImage(image.Rect(x0, y0, x0+cropW, y0+cropH))
	scaled := resize.Resize(uint(targetWidth), uint(targetHeight), src, resize.Bilinear)
	return FromImage(scaled), nil
}

func cropSize(f *Frame, cropRatio float64) (int, int, error) {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return 0, 0, ErrEmptyFrame
	}
	if cropRatio <= 0 || cropRatio > 1 {
		return 0, 0, fmt.Errorf("invalid crop ratio %v", cropRatio)
	}
	cropW := int(math.Round(float64(f.Width) * cropRatio))
	cropH := int(math.Round(float64(f.Height) * cropRatio))
	if cropW < 1 {
		cropW = 1
	}
	if cropH < 1 {
		cropH = 1
	}
	return cropW, cropH, nil
}

// ToGrayscale converts a frame to a single-channel luma buffer using the
// 0.299/0.587/0.114 weights, truncated to integer.
func ToGrayscale(f *Frame) *GrayscaleBuffer {
	n := f.Width * f.Height
	g := &GrayscaleBuffer{Pix: make([]uint8, n), Width: f.Width, Height: f.Height}
	for i := 0; i < n; i++ {
		p := i * 4
		g.Pix[i] = uint8(0.299*float64(f.Pix[p]) + 0.587*float64(f.Pix[p+1]) + 0.114*float64(f.Pix[p+2]))
	}
	return g
}

// BoxBlur3x3 applies an unweighted 3x3 mean filter. The 1-pixel border is
// left zeroed, not copied from the source.
func BoxBlur3x3(g *GrayscaleBuffer) *GrayscaleBuffer {
	w, h := g.Width, g.Height
	out := &GrayscaleBuffer{Pix: make([]uint8, w*h), Width: w, Height: h}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			sum := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					sum += int(g.Pix[(y+dy)*w+(x+dx)])
				}
			}
			out.Pix[y*w+x] = uint8(sum / 9)
		}
	}
	return out
}

// SobelMagnitude computes the gradient magnitude sqrt(gx^2+gy^2) of the
// horizontal and vertical Sobel kernels per interior pixel, zero at the
// border.
func SobelMagnitude(g *GrayscaleBuffer) *EdgeMap {
	w, h := g.Width, g.Height
	out := &EdgeMap{Pix: make([]float32, w*h), Width: w, Height: h}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			tl := int(g.Pix[(y-1)*w+(x-1)])
			tc := int(g.Pix[(y-1)*w+x])
			tr := int(g.Pix[(y-1)*w+(x+1)])
			ml := int(g.Pix[y*w+(x-1)])
			mr := int(g.Pix[y*w+(x+1)])
			bl := int(g.Pix[(y+1)*w+(x-1)])
			bc := int(g.Pix[(y+1)*w+x])
			br := int(g.Pix[(y+1)*w+(x+1)])

			gx := -tl + tr - 2*ml + 2*mr - bl + br
			gy := -tl - 2*tc - tr + bl + 2*bc + br
			out.Pix[y*w+x] = float32(math.Sqrt(float64(gx*gx + gy*gy)))
		}
	}
	return out
}
