package boxes

import "github.com/chewxy/math32"

// Enlarge grows a box around its centre. The new size is the maximum of
// scaling by factor and padding with border on each side, so a small box still
// receives at least 2*border of growth. factor == 1 and border == 0 is the
// identity; the second return value reports whether any enlargement happened
// so callers can skip downstream clipping.
func Enlarge(b Box, factor, border float32) (Box, bool) {
	if factor == 1.0 && border == 0.0 {
		return b, false
	}
	h := b.Height()
	w := b.Width()
	nh := max(h*factor, h+2*border)
	nw := max(w*factor, w+2*border)
	cy := b.CenterY()
	cx := b.CenterX()
	return Box{
		Y1: cy - nh*0.5,
		X1: cx - nw*0.5,
		Y2: cy + nh*0.5,
		X2: cx + nw*0.5,
	}, true
}

// EnlargeAll applies Enlarge to every box. The enlarged flag is shared since
// it depends only on the configuration values.
func EnlargeAll(bxs []Box, factor, border float32) ([]Box, bool) {
	if factor == 1.0 && border == 0.0 {
		return bxs, false
	}
	out := make([]Box, len(bxs))
	for i, b := range bxs {
		out[i], _ = Enlarge(b, factor, border)
	}
	return out, true
}

// ClipToWindow clamps a box to lie inside a window. Both are expected in the
// same coordinate space.
func ClipToWindow(b, window Box) Box {
	return Box{
		Y1: min(max(b.Y1, window.Y1), window.Y2),
		X1: min(max(b.X1, window.X1), window.X2),
		Y2: min(max(b.Y2, window.Y1), window.Y2),
		X2: min(max(b.X2, window.X1), window.X2),
	}
}

// RoundPixels rounds an image-coordinate box to integer pixel boundaries.
func RoundPixels(b Box) Box {
	return Box{
		Y1: math32.Round(b.Y1),
		X1: math32.Round(b.X1),
		Y2: math32.Round(b.Y2),
		X2: math32.Round(b.X2),
	}
}

// LocalFrame re-expresses a box in the [0, 1] frame of a reference box. Used
// when ground truth masks are stored cropped to their own bounding box, so a
// target mask box has to be addressed relative to the stored crop.
func LocalFrame(b, ref Box) Box {
	rh := ref.Height()
	rw := ref.Width()
	return Box{
		Y1: (b.Y1 - ref.Y1) / rh,
		X1: (b.X1 - ref.X1) / rw,
		Y2: (b.Y2 - ref.Y1) / rh,
		X2: (b.X2 - ref.X1) / rw,
	}
}
