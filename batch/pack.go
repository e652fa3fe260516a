// Package batch - packing and splitting of ragged per-sample tensors.
//
// A batch of variable-length per-sample sequences is represented as one
// tensor concatenated along the leading axis plus a per-sample count vector.
// Empty sequences are represented as nil tensors with a count of zero, never
// as errors. Pack followed by Split with unchanged counts reproduces the
// original per-sample slices bit for bit.
package batch

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Pack concatenates per-sample tensors along their leading axis.
//
// Arguments:
//   - samples: One tensor per sample, all sharing the same trailing shape.
//     nil entries contribute zero rows.
//
// Returns:
//   - The concatenated tensor, or nil when every sample is empty.
//   - The number of rows contributed by each sample.
//   - An error when trailing shapes disagree.
func Pack(samples []*tensor.Dense) (*tensor.Dense, []int, error) {
	counts := make([]int, len(samples))

	var trailing []int
	total := 0
	for i, s := range samples {
		if s == nil {
			continue
		}
		shape := s.Shape()
		counts[i] = shape[0]
		total += shape[0]
		if trailing == nil {
			trailing = shape[1:]
			continue
		}
		if !equalDims(trailing, shape[1:]) {
			return nil, nil, errors.Errorf("sample %d has trailing shape %v, want %v", i, []int(shape[1:]), trailing)
		}
	}
	if total == 0 {
		return nil, counts, nil
	}

	stride := 1
	for _, d := range trailing {
		stride *= d
	}
	data := make([]float32, total*stride)
	offset := 0
	for _, s := range samples {
		if s == nil {
			continue
		}
		src := s.Float32s()
		copy(data[offset:offset+len(src)], src)
		offset += len(src)
	}

	outShape := append([]int{total}, trailing...)
	return tensor.New(tensor.WithShape(outShape...), tensor.WithBacking(data)), counts, nil
}

// Split is the inverse of Pack: it cuts a concatenated tensor back into
// per-sample tensors according to a count vector. Zero counts yield nil
// entries. Each returned tensor owns a fresh copy of its rows, so the packed
// buffer's lifetime ends here.
func Split(packed *tensor.Dense, counts []int) ([]*tensor.Dense, error) {
	out := make([]*tensor.Dense, len(counts))

	total := 0
	for _, c := range counts {
		total += c
	}
	if packed == nil {
		if total != 0 {
			return nil, errors.Errorf("counts sum to %d but the packed tensor is nil", total)
		}
		return out, nil
	}

	shape := packed.Shape()
	if shape[0] != total {
		return nil, errors.Errorf("counts sum to %d but the packed tensor has %d rows", total, shape[0])
	}
	trailing := shape[1:]
	stride := 1
	for _, d := range trailing {
		stride *= d
	}

	data := packed.Float32s()
	offset := 0
	for i, c := range counts {
		if c == 0 {
			continue
		}
		part := make([]float32, c*stride)
		copy(part, data[offset:offset+c*stride])
		offset += c * stride
		sampleShape := append([]int{c}, trailing...)
		out[i] = tensor.New(tensor.WithShape(sampleShape...), tensor.WithBacking(part))
	}
	return out, nil
}

// PackSlices concatenates ragged per-sample slices of any element type,
// returning the packed slice and the per-sample counts.
func PackSlices[T any](samples [][]T) ([]T, []int) {
	counts := make([]int, len(samples))
	total := 0
	for i, s := range samples {
		counts[i] = len(s)
		total += len(s)
	}
	packed := make([]T, 0, total)
	for _, s := range samples {
		packed = append(packed, s...)
	}
	return packed, counts
}

// SplitSlices is the inverse of PackSlices. The returned slices alias the
// packed slice; zero counts yield nil entries.
func SplitSlices[T any](packed []T, counts []int) ([][]T, error) {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total != len(packed) {
		return nil, errors.Errorf("counts sum to %d but the packed slice has %d elements", total, len(packed))
	}
	out := make([][]T, len(counts))
	offset := 0
	for i, c := range counts {
		if c == 0 {
			continue
		}
		out[i] = packed[offset : offset+c : offset+c]
		offset += c
	}
	return out, nil
}

// SelectRows copies the listed leading-axis rows of a tensor into a new
// tensor, preserving the trailing shape.
func SelectRows(t *tensor.Dense, idx []int) *tensor.Dense {
	if t == nil || len(idx) == 0 {
		return nil
	}
	shape := t.Shape()
	trailing := shape[1:]
	stride := 1
	for _, d := range trailing {
		stride *= d
	}
	data := t.Float32s()
	out := make([]float32, len(idx)*stride)
	for k, i := range idx {
		copy(out[k*stride:(k+1)*stride], data[i*stride:(i+1)*stride])
	}
	outShape := append([]int{len(idx)}, trailing...)
	return tensor.New(tensor.WithShape(outShape...), tensor.WithBacking(out))
}

func equalDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
