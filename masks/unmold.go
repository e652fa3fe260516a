package masks

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-mrcnn/boxes"
)

// Unmold pastes a fixed-grid mask prediction back into the full image frame.
// The mask is resized to the pixel extent of its mask box with bilinear
// interpolation and thresholded at 0.5, producing a binary (imageH, imageW)
// grid with ones only inside the box.
//
// Arguments:
//   - mask: (h, w) float32 mask probabilities in [0, 1].
//   - maskBox: The box the mask was predicted for, in image coordinates.
//   - imageH, imageW: Full image size in pixels.
//
// Returns:
//   - An (imageH, imageW) float32 tensor of strictly 0/1 values.
//   - An error if the mask box has no pixel extent inside the image.
func Unmold(mask *tensor.Dense, maskBox boxes.Box, imageH, imageW int) (*tensor.Dense, error) {
	if mask == nil {
		return nil, errors.New("mask is nil")
	}
	shape := mask.Shape()
	h, w := shape[0], shape[1]

	y1 := clampInt(int(maskBox.Y1), 0, imageH)
	x1 := clampInt(int(maskBox.X1), 0, imageW)
	y2 := clampInt(int(maskBox.Y2), 0, imageH)
	x2 := clampInt(int(maskBox.X2), 0, imageW)
	boxH := y2 - y1
	boxW := x2 - x1
	if boxH <= 0 || boxW <= 0 {
		return nil, errors.Errorf("mask box (%v) has no pixel extent inside a %dx%d image", maskBox, imageH, imageW)
	}

	// Render the probabilities as 8-bit gray so the resize library can scale
	// them to the box extent.
	gray := image.NewGray(image.Rect(0, 0, w, h))
	data := mask.Float32s()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gray.Pix[y*gray.Stride+x] = uint8(clamp01(data[y*w+x]) * 255)
		}
	}
	scaled := resize.Resize(uint(boxW), uint(boxH), gray, resize.Bilinear)

	out := make([]float32, imageH*imageW)
	for y := 0; y < boxH; y++ {
		for x := 0; x < boxW; x++ {
			r, _, _, _ := scaled.At(x, y).RGBA()
			if r >= 0x8000 {
				out[(y1+y)*imageW+x1+x] = 1
			}
		}
	}
	return tensor.New(tensor.WithShape(imageH, imageW), tensor.WithBacking(out)), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
