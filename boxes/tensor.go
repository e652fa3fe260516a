package boxes

import "gorgonia.org/tensor"

// ToTensor lays boxes out as an (n, 4) float32 tensor in (y1, x1, y2, x2)
// order, the shape the neural heads consume. Returns nil for an empty set.
func ToTensor(bxs []Box) *tensor.Dense {
	if len(bxs) == 0 {
		return nil
	}
	data := make([]float32, len(bxs)*4)
	for i, b := range bxs {
		data[i*4] = b.Y1
		data[i*4+1] = b.X1
		data[i*4+2] = b.Y2
		data[i*4+3] = b.X2
	}
	return tensor.New(tensor.WithShape(len(bxs), 4), tensor.WithBacking(data))
}

// FromTensor reads an (n, 4) tensor back into boxes. A nil tensor yields nil.
func FromTensor(t *tensor.Dense) []Box {
	if t == nil {
		return nil
	}
	n := t.Shape()[0]
	data := t.Float32s()
	out := make([]Box, n)
	for i := range out {
		out[i] = Box{
			Y1: data[i*4],
			X1: data[i*4+1],
			Y2: data[i*4+2],
			X2: data[i*4+3],
		}
	}
	return out
}
