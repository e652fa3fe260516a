// Package losses - classification, box regression and mask losses over
// sampled ROI targets, pooled or per sample.
//
// Every loss treats zero-length input as a valid no-op and contributes an
// explicit 0, never NaN: a sample with no targets must still average cleanly
// over a fixed batch size.
package losses

import (
	"github.com/chewxy/math32"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-mrcnn/boxes"
)

// bceEpsilon keeps predicted probabilities away from 0 and 1 before the log.
const bceEpsilon = 1e-7

// RCNNClassLoss is the softmax cross-entropy over all sampled ROIs, positive
// and negative, against their assigned class IDs (negatives carry class 0).
//
// Arguments:
//   - logits: (n, classes) predicted class logits.
//   - classIDs: Target class IDs, length n.
//
// Returns:
//   - The mean cross-entropy, or 0 for zero ROIs.
func RCNNClassLoss(logits *tensor.Dense, classIDs []int) float32 {
	if logits == nil || len(classIDs) == 0 {
		return 0
	}
	sum, n := rcnnClassSum(logits.Float32s(), logits.Shape()[1], classIDs, 0, len(classIDs))
	if n == 0 {
		return 0
	}
	return sum / float32(n)
}

// RCNNBoxLoss is the smooth-L1 loss between each positive ROI's target delta
// and the predicted delta of its target class. Negative ROIs contribute
// nothing.
//
// Arguments:
//   - targetDeltas: Encoded refinement targets, length n.
//   - classIDs: Target class IDs, length n; only IDs > 0 contribute.
//   - predDeltas: (n, classes, 4) class-specific predicted deltas.
//
// Returns:
//   - The mean smooth-L1 over contributing components, or 0 with no
//     positives.
func RCNNBoxLoss(targetDeltas []boxes.Delta, classIDs []int, predDeltas *tensor.Dense) float32 {
	if predDeltas == nil || len(classIDs) == 0 {
		return 0
	}
	sum, n := rcnnBoxSum(targetDeltas, classIDs, predDeltas.Float32s(), predDeltas.Shape()[1], 0, len(classIDs))
	if n == 0 {
		return 0
	}
	return sum / float32(n)
}

// MaskLoss is the binary cross-entropy between target masks and the predicted
// mask of each positive ROI's target class. Only the class-specific channel
// of each positive ROI contributes; no positives yields an exact 0.
//
// Arguments:
//   - targetMasks: (n, h, w) binary target grids.
//   - classIDs: Target class IDs, length n.
//   - predMasks: (n, classes, h, w) predicted mask probabilities.
func MaskLoss(targetMasks *tensor.Dense, classIDs []int, predMasks *tensor.Dense) float32 {
	if targetMasks == nil || predMasks == nil || len(classIDs) == 0 {
		return 0
	}
	shape := predMasks.Shape()
	classes, h, w := shape[1], shape[2], shape[3]
	sum, n := maskSum(targetMasks.Float32s(), classIDs, predMasks.Float32s(), classes, h, w, 0, len(classIDs))
	if n == 0 {
		return 0
	}
	return sum / float32(n)
}

// RPNClassLoss is the objectness cross-entropy of the proposal network,
// pooled over all non-neutral anchors of the batch. Anchor match values are
// 1 for positive, -1 for negative and 0 for neutral; neutral anchors never
// contribute.
//
// Arguments:
//   - match: Per-sample anchor match values.
//   - logits: (batch, anchors, 2) background/foreground logits.
func RPNClassLoss(match [][]int, logits *tensor.Dense) float32 {
	if logits == nil || len(match) == 0 {
		return 0
	}
	var sum float32
	n := 0
	for s := range match {
		sampleSum, sampleN := rpnClassSum(match[s], logits, s)
		sum += sampleSum
		n += sampleN
	}
	if n == 0 {
		return 0
	}
	return sum / float32(n)
}

// RPNBoxLoss is the smooth-L1 loss of the proposal network's box deltas,
// pooled over the positive anchors of the batch. Targets are zero-padded to a
// fixed width; numPos gives each sample's true count.
//
// Arguments:
//   - match: Per-sample anchor match values.
//   - targetBBox: (batch, maxPositive, 4) zero-padded target deltas.
//   - numPos: Per-sample count of positive anchors.
//   - predBBox: (batch, anchors, 4) predicted deltas.
func RPNBoxLoss(match [][]int, targetBBox *tensor.Dense, numPos []int, predBBox *tensor.Dense) float32 {
	if targetBBox == nil || predBBox == nil || len(match) == 0 {
		return 0
	}
	var sum float32
	n := 0
	for s := range match {
		sampleSum, sampleN := rpnBoxSum(match[s], targetBBox, numPos[s], predBBox, s)
		sum += sampleSum
		n += sampleN
	}
	if n == 0 {
		return 0
	}
	return sum / float32(n)
}

// Values bundles the five pipeline losses.
type Values struct {
	RPNClass, RPNBox, RCNNClass, RCNNBox, Mask float32
}

// Compute evaluates all five losses over a batch's packed targets and
// predictions.
func Compute(match [][]int, rpnTargetBBox *tensor.Dense, rpnNumPos []int,
	rpnLogits, rpnPredBBox *tensor.Dense,
	classLogits *tensor.Dense, classIDs []int,
	targetDeltas []boxes.Delta, predDeltas *tensor.Dense,
	targetMasks, predMasks *tensor.Dense) Values {
	return Values{
		RPNClass:  RPNClassLoss(match, rpnLogits),
		RPNBox:    RPNBoxLoss(match, rpnTargetBBox, rpnNumPos, rpnPredBBox),
		RCNNClass: RCNNClassLoss(classLogits, classIDs),
		RCNNBox:   RCNNBoxLoss(targetDeltas, classIDs, predDeltas),
		Mask:      MaskLoss(targetMasks, classIDs, predMasks),
	}
}

// rcnnClassSum accumulates cross-entropy over rows [lo, hi).
func rcnnClassSum(logits []float32, classes int, classIDs []int, lo, hi int) (float32, int) {
	var sum float32
	for i := lo; i < hi; i++ {
		row := logits[i*classes : (i+1)*classes]
		sum += crossEntropy(row, classIDs[i])
	}
	return sum, hi - lo
}

// rcnnBoxSum accumulates smooth-L1 components of positive rows in [lo, hi).
func rcnnBoxSum(targetDeltas []boxes.Delta, classIDs []int, pred []float32, classes int, lo, hi int) (float32, int) {
	var sum float32
	n := 0
	for i := lo; i < hi; i++ {
		cls := classIDs[i]
		if cls <= 0 {
			continue
		}
		p := pred[(i*classes+cls)*4 : (i*classes+cls)*4+4]
		t := targetDeltas[i]
		sum += smoothL1(p[0]-t.DY) + smoothL1(p[1]-t.DX) + smoothL1(p[2]-t.DH) + smoothL1(p[3]-t.DW)
		n += 4
	}
	return sum, n
}

// maskSum accumulates binary cross-entropy over positive rows in [lo, hi).
func maskSum(target []float32, classIDs []int, pred []float32, classes, h, w, lo, hi int) (float32, int) {
	grid := h * w
	var sum float32
	n := 0
	for i := lo; i < hi; i++ {
		cls := classIDs[i]
		if cls <= 0 {
			continue
		}
		t := target[i*grid : (i+1)*grid]
		p := pred[(i*classes+cls)*grid : (i*classes+cls+1)*grid]
		for k := 0; k < grid; k++ {
			sum += binaryCrossEntropy(p[k], t[k])
		}
		n += grid
	}
	return sum, n
}

// rpnClassSum accumulates objectness cross-entropy for one sample.
func rpnClassSum(match []int, logits *tensor.Dense, sample int) (float32, int) {
	anchors := logits.Shape()[1]
	data := logits.Float32s()
	base := sample * anchors * 2
	var sum float32
	n := 0
	for a, m := range match {
		if m == 0 {
			continue
		}
		target := 0
		if m == 1 {
			target = 1
		}
		sum += crossEntropy(data[base+a*2:base+a*2+2], target)
		n++
	}
	return sum, n
}

// rpnBoxSum accumulates smooth-L1 components for one sample's positive
// anchors.
func rpnBoxSum(match []int, targetBBox *tensor.Dense, numPos int, predBBox *tensor.Dense, sample int) (float32, int) {
	anchors := predBBox.Shape()[1]
	maxPos := targetBBox.Shape()[1]
	pred := predBBox.Float32s()
	target := targetBBox.Float32s()
	predBase := sample * anchors * 4
	targetBase := sample * maxPos * 4

	var sum float32
	n := 0
	k := 0
	for a, m := range match {
		if m != 1 {
			continue
		}
		if k >= numPos || k >= maxPos {
			break
		}
		p := pred[predBase+a*4 : predBase+a*4+4]
		t := target[targetBase+k*4 : targetBase+k*4+4]
		for c := 0; c < 4; c++ {
			sum += smoothL1(p[c] - t[c])
		}
		n += 4
		k++
	}
	return sum, n
}

// crossEntropy computes -log softmax(logits)[target] with the usual max
// shift for stability.
func crossEntropy(logits []float32, target int) float32 {
	m := logits[0]
	for _, v := range logits[1:] {
		if v > m {
			m = v
		}
	}
	var sumExp float32
	for _, v := range logits {
		sumExp += math32.Exp(v - m)
	}
	return m + math32.Log(sumExp) - logits[target]
}

// binaryCrossEntropy computes -(t*log(p) + (1-t)*log(1-p)).
func binaryCrossEntropy(p, t float32) float32 {
	if p < bceEpsilon {
		p = bceEpsilon
	}
	if p > 1-bceEpsilon {
		p = 1 - bceEpsilon
	}
	return -(t*math32.Log(p) + (1-t)*math32.Log(1-p))
}

// smoothL1 is 0.5*d^2 for |d| < 1 and |d| - 0.5 otherwise.
func smoothL1(d float32) float32 {
	d = math32.Abs(d)
	if d < 1 {
		return 0.5 * d * d
	}
	return d - 0.5
}
