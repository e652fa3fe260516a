package targets

import (
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-mrcnn/batch"
	"github.com/nvr-ai/go-mrcnn/boxes"
)

// BatchInput is the batched input to target generation. The outer slices are
// indexed by sample and may be ragged; per-sample zero lengths are valid.
type BatchInput struct {
	ImageHeight, ImageWidth int
	// Proposals per sample, normalized coordinates.
	Proposals [][]boxes.Box
	// Predictions per sample: nil for the whole batch, or one complete entry
	// per sample.
	Predictions []*RoIPredictions
	// Ground truth per sample.
	GTClassIDs [][]int
	GTBoxes    [][]boxes.Box
	GTMasks    []*tensor.Dense
	// HardNegativeMining selects ROIs by classifier confusion instead of
	// uniformly at random.
	HardNegativeMining bool
}

// BatchTargets holds the targets of a whole batch packed along the ROI axis,
// with Counts giving each sample's share. Samples that contributed nothing
// have a count of zero.
type BatchTargets struct {
	ROIs     []boxes.Box
	ClassIDs []int
	Deltas   []boxes.Delta
	Masks    *tensor.Dense
	// Selected classifier prediction rows, nil when no predictions were
	// supplied.
	ClassLogits *tensor.Dense
	ClassProbs  *tensor.Dense
	BoxDeltas   *tensor.Dense
	// Counts is the per-sample ROI count.
	Counts []int
}

// Total returns the number of ROIs across the batch.
func (t *BatchTargets) Total() int { return len(t.ROIs) }

// Batch generates detection targets for every sample of a batch and packs
// them into concatenated tensors plus a per-sample count vector.
//
// Samples are processed independently in index order, so the packed layout is
// deterministic. Samples with no proposals, no ground truth or no positive
// matches contribute zero ROIs; an all-empty batch yields zero-length
// containers, never an error.
func (g *Generator) Batch(rng *rand.Rand, in BatchInput) (*BatchTargets, error) {
	nSamples := len(in.Proposals)
	hasPreds := in.Predictions != nil
	if hasPreds && len(in.Predictions) != nSamples {
		return nil, errors.Errorf("got predictions for %d samples, want %d", len(in.Predictions), nSamples)
	}
	for i := 0; i < nSamples; i++ {
		var preds *RoIPredictions
		if hasPreds {
			preds = in.Predictions[i]
		}
		if err := validatePredictions(preds, in.HardNegativeMining); err != nil {
			return nil, errors.Wrapf(err, "sample %d", i)
		}
	}

	perROIs := make([][]boxes.Box, nSamples)
	perClassIDs := make([][]int, nSamples)
	perDeltas := make([][]boxes.Delta, nSamples)
	perMasks := make([]*tensor.Dense, nSamples)
	perLogits := make([]*tensor.Dense, nSamples)
	perProbs := make([]*tensor.Dense, nSamples)
	perBoxDeltas := make([]*tensor.Dense, nSamples)

	for i := 0; i < nSamples; i++ {
		if len(in.Proposals[i]) == 0 || len(in.GTClassIDs[i]) == 0 {
			continue
		}
		si := SampleInput{
			ImageHeight:        in.ImageHeight,
			ImageWidth:         in.ImageWidth,
			Proposals:          in.Proposals[i],
			GTClassIDs:         in.GTClassIDs[i],
			GTBoxes:            in.GTBoxes[i],
			GTMasks:            in.GTMasks[i],
			HardNegativeMining: in.HardNegativeMining,
		}
		if hasPreds {
			si.Predictions = in.Predictions[i]
		}
		st, err := g.Sample(rng, si)
		if err != nil {
			return nil, errors.Wrapf(err, "sample %d", i)
		}
		if st.Len() == 0 {
			continue
		}
		perROIs[i] = st.ROIs
		perClassIDs[i] = st.ClassIDs
		perDeltas[i] = st.Deltas
		perMasks[i] = st.Masks
		perLogits[i] = st.ClassLogits
		perProbs[i] = st.ClassProbs
		perBoxDeltas[i] = st.BoxDeltas
	}

	out := &BatchTargets{}
	out.ROIs, out.Counts = batch.PackSlices(perROIs)
	out.ClassIDs, _ = batch.PackSlices(perClassIDs)
	out.Deltas, _ = batch.PackSlices(perDeltas)

	var err error
	if out.Masks, _, err = batch.Pack(perMasks); err != nil {
		return nil, errors.Wrap(err, "packing mask targets")
	}
	if hasPreds {
		if out.ClassLogits, _, err = batch.Pack(perLogits); err != nil {
			return nil, errors.Wrap(err, "packing class logits")
		}
		if out.ClassProbs, _, err = batch.Pack(perProbs); err != nil {
			return nil, errors.Wrap(err, "packing class probabilities")
		}
		if out.BoxDeltas, _, err = batch.Pack(perBoxDeltas); err != nil {
			return nil, errors.Wrap(err, "packing predicted box deltas")
		}
	}
	return out, nil
}
