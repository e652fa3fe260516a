// Package masks - fixed-grid mask resampling for training targets and
// inference mask reconstruction.
package masks

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-mrcnn/boxes"
)

// CropAndResize crops each source grid to a box and resamples the crop to a
// fixed (outH, outW) grid with bilinear interpolation.
//
// Box coordinates are normalized to the source extent with corner alignment:
// y == 0 samples source row 0, y == 1 samples source row h-1. Samples that
// fall outside the source grid take the value 0. A one-pixel output dimension
// samples the box centre. This mirrors the crop-and-resize operator the mask
// head consumes, so training targets and head inputs stay in agreement.
//
// Arguments:
//   - src: Source grids as an (n, h, w) float32 tensor.
//   - bxs: One box per output grid, normalized to the source extent.
//   - srcIdx: Per-box index into src, for boxes that share a source grid.
//   - outH, outW: Output grid size.
//
// Returns:
//   - A (len(bxs), outH, outW) float32 tensor, or nil for zero boxes.
//   - An error if srcIdx disagrees with bxs in length or indexes out of range.
func CropAndResize(src *tensor.Dense, bxs []boxes.Box, srcIdx []int, outH, outW int) (*tensor.Dense, error) {
	if len(bxs) != len(srcIdx) {
		return nil, errors.Errorf("box count %d does not match source index count %d", len(bxs), len(srcIdx))
	}
	if len(bxs) == 0 {
		return nil, nil
	}
	if src == nil {
		return nil, errors.New("source grids are nil")
	}

	shape := src.Shape()
	n, h, w := shape[0], shape[1], shape[2]
	data := src.Float32s()

	out := make([]float32, len(bxs)*outH*outW)
	for bi, b := range bxs {
		si := srcIdx[bi]
		if si < 0 || si >= n {
			return nil, errors.Errorf("source index %d out of range for %d grids", si, n)
		}
		grid := data[si*h*w : (si+1)*h*w]
		crop := out[bi*outH*outW : (bi+1)*outH*outW]
		resampleGrid(grid, h, w, b, crop, outH, outW)
	}

	return tensor.New(tensor.WithShape(len(bxs), outH, outW), tensor.WithBacking(out)), nil
}

// resampleGrid fills one (outH, outW) crop from a single (h, w) source grid.
func resampleGrid(grid []float32, h, w int, b boxes.Box, crop []float32, outH, outW int) {
	heightScale := float32(0)
	if outH > 1 {
		heightScale = (b.Y2 - b.Y1) * float32(h-1) / float32(outH-1)
	}
	widthScale := float32(0)
	if outW > 1 {
		widthScale = (b.X2 - b.X1) * float32(w-1) / float32(outW-1)
	}

	for oy := 0; oy < outH; oy++ {
		var inY float32
		if outH > 1 {
			inY = b.Y1*float32(h-1) + float32(oy)*heightScale
		} else {
			inY = 0.5 * (b.Y1 + b.Y2) * float32(h-1)
		}
		if inY < 0 || inY > float32(h-1) {
			for ox := 0; ox < outW; ox++ {
				crop[oy*outW+ox] = 0
			}
			continue
		}
		top := int(inY)
		bottom := top
		if top < h-1 {
			bottom = top + 1
		}
		yLerp := inY - float32(top)

		for ox := 0; ox < outW; ox++ {
			var inX float32
			if outW > 1 {
				inX = b.X1*float32(w-1) + float32(ox)*widthScale
			} else {
				inX = 0.5 * (b.X1 + b.X2) * float32(w-1)
			}
			if inX < 0 || inX > float32(w-1) {
				crop[oy*outW+ox] = 0
				continue
			}
			left := int(inX)
			right := left
			if left < w-1 {
				right = left + 1
			}
			xLerp := inX - float32(left)

			tl := grid[top*w+left]
			tr := grid[top*w+right]
			bl := grid[bottom*w+left]
			br := grid[bottom*w+right]
			topVal := tl + (tr-tl)*xLerp
			bottomVal := bl + (br-bl)*xLerp
			crop[oy*outW+ox] = topVal + (bottomVal-topVal)*yLerp
		}
	}
}

// Binarize thresholds a resampled mask tensor in place so every value is
// exactly 0 or 1. Resampling introduces fractional edge pixels, which must not
// leak into a binary cross-entropy target.
func Binarize(t *tensor.Dense, threshold float32) {
	if t == nil {
		return
	}
	data := t.Float32s()
	for i, v := range data {
		if v >= threshold {
			data[i] = 1
		} else {
			data[i] = 0
		}
	}
}
