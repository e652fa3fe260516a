// Package boxes - axis-aligned bounding box math for the detection pipeline.
package boxes

import (
	"gorgonia.org/tensor"
)

// Box is an axis-aligned bounding box in (y1, x1, y2, x2) order. Coordinates
// are normalized to [0, 1] relative to image height and width unless a call
// explicitly works in image (pixel) coordinates. Callers must ensure Y2 >= Y1
// and X2 >= X1; the pipeline does not canonicalize boxes defensively.
type Box struct {
	Y1, X1, Y2, X2 float32
}

// Height returns the vertical extent of the box.
func (b Box) Height() float32 { return b.Y2 - b.Y1 }

// Width returns the horizontal extent of the box.
func (b Box) Width() float32 { return b.X2 - b.X1 }

// CenterY returns the vertical centre of the box.
func (b Box) CenterY() float32 { return (b.Y1 + b.Y2) * 0.5 }

// CenterX returns the horizontal centre of the box.
func (b Box) CenterX() float32 { return (b.X1 + b.X2) * 0.5 }

// Area returns the area of the box.
func (b Box) Area() float32 { return b.Height() * b.Width() }

// Scale converts a normalized box to image coordinates for an image of the
// given height and width.
func (b Box) Scale(height, width int) Box {
	h := float32(height)
	w := float32(width)
	return Box{Y1: b.Y1 * h, X1: b.X1 * w, Y2: b.Y2 * h, X2: b.X2 * w}
}

// Normalize converts an image-coordinate box back to normalized coordinates.
func (b Box) Normalize(height, width int) Box {
	h := float32(height)
	w := float32(width)
	return Box{Y1: b.Y1 / h, X1: b.X1 / w, Y2: b.Y2 / h, X2: b.X2 / w}
}

// IoU computes the Intersection over Union of two boxes.
//
// Arguments:
//   - a: First box.
//   - b: Second box.
//
// Returns:
//   - The overlap ratio in [0, 1]. Disjoint boxes and boxes with zero area
//     yield 0.
func IoU(a, b Box) float32 {
	iy1 := max(a.Y1, b.Y1)
	ix1 := max(a.X1, b.X1)
	iy2 := min(a.Y2, b.Y2)
	ix2 := min(a.X2, b.X2)

	ih := iy2 - iy1
	iw := ix2 - ix1
	if ih <= 0 || iw <= 0 {
		return 0
	}
	inter := ih * iw

	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Overlaps computes the pairwise IoU matrix between two box sets.
//
// Arguments:
//   - a: First box set of size n.
//   - b: Second box set of size m.
//
// Returns:
//   - An (n, m) float32 tensor of IoU values, or nil when either set is
//     empty. Pure function; inputs are never mutated.
func Overlaps(a, b []Box) *tensor.Dense {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	data := make([]float32, len(a)*len(b))
	for i, boxA := range a {
		row := i * len(b)
		for j, boxB := range b {
			data[row+j] = IoU(boxA, boxB)
		}
	}
	return tensor.New(tensor.WithShape(len(a), len(b)), tensor.WithBacking(data))
}

// MaxOverlaps reduces an overlap matrix row-wise to the best IoU each row
// achieves against any column. A nil matrix yields all zeros for n rows.
func MaxOverlaps(m *tensor.Dense, n int) []float32 {
	out := make([]float32, n)
	if m == nil {
		return out
	}
	cols := m.Shape()[1]
	data := m.Float32s()
	for i := 0; i < n; i++ {
		best := float32(0)
		row := i * cols
		for j := 0; j < cols; j++ {
			if data[row+j] > best {
				best = data[row+j]
			}
		}
		out[i] = best
	}
	return out
}

// ArgMaxOverlaps returns, for each listed row of an overlap matrix, the column
// index with the highest IoU. Ties resolve to the lowest index.
func ArgMaxOverlaps(m *tensor.Dense, rows []int) []int {
	cols := m.Shape()[1]
	data := m.Float32s()
	out := make([]int, len(rows))
	for k, i := range rows {
		best := float32(-1)
		bestJ := 0
		row := i * cols
		for j := 0; j < cols; j++ {
			if data[row+j] > best {
				best = data[row+j]
				bestJ = j
			}
		}
		out[k] = bestJ
	}
	return out
}
