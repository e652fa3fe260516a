package losses

import (
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-mrcnn/boxes"
)

// Per-sample loss variants. Formulas match the pooled versions but each
// sample's ROI slice is averaged independently, and a sample with zero
// targets yields an explicit 0 entry so averaging over a fixed batch size
// stays well-defined.

// RCNNClassLossPerSample computes the classification loss of each sample of a
// packed batch, sliced by counts.
func RCNNClassLossPerSample(logits *tensor.Dense, classIDs []int, counts []int) []float32 {
	out := make([]float32, len(counts))
	if logits == nil {
		return out
	}
	classes := logits.Shape()[1]
	data := logits.Float32s()
	offset := 0
	for s, c := range counts {
		if c == 0 {
			continue
		}
		sum, n := rcnnClassSum(data, classes, classIDs, offset, offset+c)
		if n > 0 {
			out[s] = sum / float32(n)
		}
		offset += c
	}
	return out
}

// RCNNBoxLossPerSample computes the box regression loss of each sample of a
// packed batch, sliced by counts.
func RCNNBoxLossPerSample(targetDeltas []boxes.Delta, classIDs []int, predDeltas *tensor.Dense, counts []int) []float32 {
	out := make([]float32, len(counts))
	if predDeltas == nil {
		return out
	}
	classes := predDeltas.Shape()[1]
	pred := predDeltas.Float32s()
	offset := 0
	for s, c := range counts {
		if c == 0 {
			continue
		}
		sum, n := rcnnBoxSum(targetDeltas, classIDs, pred, classes, offset, offset+c)
		if n > 0 {
			out[s] = sum / float32(n)
		}
		offset += c
	}
	return out
}

// MaskLossPerSample computes the mask loss of each sample of a packed batch,
// sliced by counts.
func MaskLossPerSample(targetMasks *tensor.Dense, classIDs []int, predMasks *tensor.Dense, counts []int) []float32 {
	out := make([]float32, len(counts))
	if targetMasks == nil || predMasks == nil {
		return out
	}
	shape := predMasks.Shape()
	classes, h, w := shape[1], shape[2], shape[3]
	target := targetMasks.Float32s()
	pred := predMasks.Float32s()
	offset := 0
	for s, c := range counts {
		if c == 0 {
			continue
		}
		sum, n := maskSum(target, classIDs, pred, classes, h, w, offset, offset+c)
		if n > 0 {
			out[s] = sum / float32(n)
		}
		offset += c
	}
	return out
}

// RPNClassLossPerSample computes the proposal-network objectness loss of each
// sample independently.
func RPNClassLossPerSample(match [][]int, logits *tensor.Dense) []float32 {
	out := make([]float32, len(match))
	if logits == nil {
		return out
	}
	for s := range match {
		sum, n := rpnClassSum(match[s], logits, s)
		if n > 0 {
			out[s] = sum / float32(n)
		}
	}
	return out
}

// RPNBoxLossPerSample computes the proposal-network box loss of each sample
// independently.
func RPNBoxLossPerSample(match [][]int, targetBBox *tensor.Dense, numPos []int, predBBox *tensor.Dense) []float32 {
	out := make([]float32, len(match))
	if targetBBox == nil || predBBox == nil {
		return out
	}
	for s := range match {
		sum, n := rpnBoxSum(match[s], targetBBox, numPos[s], predBBox, s)
		if n > 0 {
			out[s] = sum / float32(n)
		}
	}
	return out
}
