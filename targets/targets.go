// Package targets - matches region proposals to ground truth and samples the
// balanced ROI set used to train the classifier, box regression and mask
// heads.
package targets

import (
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-mrcnn/batch"
	"github.com/nvr-ai/go-mrcnn/boxes"
	"github.com/nvr-ai/go-mrcnn/config"
	"github.com/nvr-ai/go-mrcnn/masks"
)

// RoIPredictions carries the classifier head's output for each proposal. The
// three tensors are either all present or all absent; a partial set is a
// programmer error. They are required when hard-negative mining is enabled
// and otherwise only ride along so the selected rows can be reused downstream.
type RoIPredictions struct {
	// ClassLogits is an (n, classes) tensor of predicted class logits.
	ClassLogits *tensor.Dense
	// ClassProbs is an (n, classes) tensor of predicted class probabilities.
	// Column 0 is the background class.
	ClassProbs *tensor.Dense
	// BoxDeltas is an (n, classes, 4) tensor of predicted box deltas.
	BoxDeltas *tensor.Dense
}

func validatePredictions(p *RoIPredictions, mining bool) error {
	if p == nil {
		if mining {
			return errors.New("hard negative mining requires classifier predictions")
		}
		return nil
	}
	if p.ClassLogits == nil || p.ClassProbs == nil || p.BoxDeltas == nil {
		return errors.New("classifier predictions must carry class logits, class probabilities and box deltas together")
	}
	return nil
}

// SampleInput is the per-sample input to target generation.
type SampleInput struct {
	// ImageHeight and ImageWidth give the pixel extent that normalized
	// coordinates refer to. Needed because the minimum mask-box border is
	// configured in pixels.
	ImageHeight, ImageWidth int
	// Proposals are the candidate boxes in normalized coordinates.
	Proposals []boxes.Box
	// Predictions optionally carries the classifier output for each proposal.
	Predictions *RoIPredictions
	// GTClassIDs are ground truth class IDs; negative marks a crowd
	// annotation, zero is padding.
	GTClassIDs []int
	// GTBoxes are ground truth boxes in normalized coordinates.
	GTBoxes []boxes.Box
	// GTMasks is an (nGT, h, w) tensor of binary masks, either at full image
	// extent or cropped to their own box when mini-masks are configured.
	GTMasks *tensor.Dense
	// HardNegativeMining selects ROIs by classifier confusion instead of
	// uniformly at random.
	HardNegativeMining bool
}

// SampleTargets is the training target set for one sample. All fields share
// the ROI axis, positives first. Negative ROIs carry class 0, zero deltas and
// zero masks by convention. A sample with no positives has zero targets.
type SampleTargets struct {
	ROIs     []boxes.Box
	ClassIDs []int
	Deltas   []boxes.Delta
	// Masks is a (len(ROIs), maskH, maskW) tensor, nil when there are no
	// targets.
	Masks *tensor.Dense
	// Selected classifier prediction rows, nil when no predictions were
	// supplied.
	ClassLogits *tensor.Dense
	ClassProbs  *tensor.Dense
	BoxDeltas   *tensor.Dense

	PositiveCount, NegativeCount int
}

// Len returns the number of sampled ROIs.
func (t *SampleTargets) Len() int { return len(t.ROIs) }

// Generator produces detection training targets under a fixed configuration.
type Generator struct {
	Cfg config.Config
}

// NewGenerator validates the configuration and returns a target generator.
func NewGenerator(cfg config.Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid target generator configuration")
	}
	return &Generator{Cfg: cfg}, nil
}

// Sample subsamples one sample's proposals and matches them with ground
// truth, producing classification, box refinement and mask targets.
//
// Data degeneracies (no proposals, no ground truth, an all-crowd image, no
// positive matches) yield an empty target set, not an error; only
// configuration-contract violations fail, and they fail before any sampling
// work.
func (g *Generator) Sample(rng *rand.Rand, in SampleInput) (*SampleTargets, error) {
	if err := validatePredictions(in.Predictions, in.HardNegativeMining); err != nil {
		return nil, err
	}

	out := &SampleTargets{}
	if len(in.Proposals) == 0 {
		return out, nil
	}

	noCrowd, gtIDs, gtBoxes, gtMasks := FilterCrowds(in.GTClassIDs, in.GTBoxes, in.GTMasks, in.Proposals)

	overlaps := boxes.Overlaps(in.Proposals, gtBoxes)
	maxIoU := boxes.MaxOverlaps(overlaps, len(in.Proposals))

	var bgProb []float32
	if in.HardNegativeMining {
		bgProb = predictionColumn(in.Predictions.ClassProbs, 0)
	}

	positive, negative := SelectSamples(rng, maxIoU, noCrowd, bgProb,
		g.Cfg.TrainROIsPerImage, g.Cfg.ROIPositiveRatio, in.HardNegativeMining)
	if len(positive) == 0 {
		return out, nil
	}
	out.PositiveCount = len(positive)
	out.NegativeCount = len(negative)

	// Assign each positive ROI to its best-overlapping ground truth.
	assignment := boxes.ArgMaxOverlaps(overlaps, positive)

	n := len(positive) + len(negative)
	out.ROIs = make([]boxes.Box, 0, n)
	out.ClassIDs = make([]int, n)
	out.Deltas = make([]boxes.Delta, n)
	for k, i := range positive {
		roi := in.Proposals[i]
		gt := gtBoxes[assignment[k]]
		out.ROIs = append(out.ROIs, roi)
		out.ClassIDs[k] = gtIDs[assignment[k]]
		delta := boxes.Refinement(roi, gt)
		if g.Cfg.BBoxUseStdDev {
			delta = delta.Normalize(g.Cfg.BBoxStdDev)
		}
		out.Deltas[k] = delta
	}
	for _, i := range negative {
		out.ROIs = append(out.ROIs, in.Proposals[i])
	}

	maskTargets, err := g.maskTargets(in, gtBoxes, gtMasks, out.ROIs[:len(positive)], assignment, n)
	if err != nil {
		return nil, err
	}
	out.Masks = maskTargets

	if in.Predictions != nil {
		selected := append(append([]int{}, positive...), negative...)
		out.ClassLogits = batch.SelectRows(in.Predictions.ClassLogits, selected)
		out.ClassProbs = batch.SelectRows(in.Predictions.ClassProbs, selected)
		out.BoxDeltas = batch.SelectRows(in.Predictions.BoxDeltas, selected)
	}
	return out, nil
}

// maskTargets crops the assigned ground truth masks to the (optionally
// enlarged) positive ROI boxes, resamples them to the configured grid and
// binarizes the result. Rows past the positives stay zero for negative ROIs.
func (g *Generator) maskTargets(in SampleInput, gtBoxes []boxes.Box, gtMasks *tensor.Dense, positiveROIs []boxes.Box, assignment []int, total int) (*tensor.Dense, error) {
	mh, mw := g.Cfg.MaskShape[0], g.Cfg.MaskShape[1]

	maskBoxes := g.enlargeNormalized(positiveROIs, in.ImageHeight, in.ImageWidth)
	if g.Cfg.UseMiniMask {
		// Ground truth masks are stored cropped to their own (equally
		// enlarged) box, so target boxes must be re-expressed in that local
		// frame before resampling.
		gtMaskBoxes := g.enlargeNormalized(gtBoxes, in.ImageHeight, in.ImageWidth)
		local := make([]boxes.Box, len(maskBoxes))
		for k, b := range maskBoxes {
			local[k] = boxes.LocalFrame(b, gtMaskBoxes[assignment[k]])
		}
		maskBoxes = local
	}

	cropped, err := masks.CropAndResize(gtMasks, maskBoxes, assignment, mh, mw)
	if err != nil {
		return nil, errors.Wrap(err, "cropping ground truth masks")
	}
	masks.Binarize(cropped, 0.5)

	data := make([]float32, total*mh*mw)
	if cropped != nil {
		copy(data, cropped.Float32s())
	}
	return tensor.New(tensor.WithShape(total, mh, mw), tensor.WithBacking(data)), nil
}

// enlargeNormalized applies the configured mask box enlargement. The minimum
// border is specified in pixels, so boxes pass through image coordinates.
func (g *Generator) enlargeNormalized(bxs []boxes.Box, imageH, imageW int) []boxes.Box {
	if g.Cfg.MaskBoxEnlarge == 1.0 && g.Cfg.MaskBoxBorderMin == 0.0 {
		return bxs
	}
	out := make([]boxes.Box, len(bxs))
	for i, b := range bxs {
		img, _ := boxes.Enlarge(b.Scale(imageH, imageW), g.Cfg.MaskBoxEnlarge, g.Cfg.MaskBoxBorderMin)
		out[i] = img.Normalize(imageH, imageW)
	}
	return out
}

// predictionColumn extracts one column of an (n, classes) prediction tensor.
func predictionColumn(t *tensor.Dense, col int) []float32 {
	shape := t.Shape()
	n, classes := shape[0], shape[1]
	data := t.Float32s()
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = data[i*classes+col]
	}
	return out
}
