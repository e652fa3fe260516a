package targets

import (
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-mrcnn/batch"
	"github.com/nvr-ai/go-mrcnn/boxes"
)

// crowdIoUThreshold marks a proposal as crowd-covered when its best IoU
// against any crowd box reaches it.
const crowdIoUThreshold = 0.001

// FilterCrowds separates crowd annotations (class ID < 0) from real ones and
// flags which proposals stay eligible for the negative pool.
//
// A crowd box covers several indistinguishable instances, so it is excluded
// from per-instance matching entirely, and proposals overlapping one are kept
// out of the negative pool rather than being trained as background.
//
// Arguments:
//   - gtClassIDs: Ground truth class IDs; negative marks a crowd, zero is
//     padding.
//   - gtBoxes: Ground truth boxes, parallel to gtClassIDs.
//   - gtMasks: Ground truth masks as an (nGT, h, w) tensor, or nil.
//   - proposals: Proposal boxes.
//
// Returns:
//   - noCrowd: Per-proposal flag, true when the proposal is not crowd-covered.
//     All true when no crowd boxes exist.
//   - The crowd-free class IDs, boxes and masks used for all subsequent
//     matching.
func FilterCrowds(gtClassIDs []int, gtBoxes []boxes.Box, gtMasks *tensor.Dense, proposals []boxes.Box) ([]bool, []int, []boxes.Box, *tensor.Dense) {
	var crowdBoxes []boxes.Box
	var realIdx []int
	for i, id := range gtClassIDs {
		switch {
		case id < 0:
			crowdBoxes = append(crowdBoxes, gtBoxes[i])
		case id > 0:
			realIdx = append(realIdx, i)
		}
	}

	noCrowd := make([]bool, len(proposals))
	if len(crowdBoxes) == 0 {
		for i := range noCrowd {
			noCrowd[i] = true
		}
	} else {
		crowdOverlaps := boxes.Overlaps(proposals, crowdBoxes)
		crowdMax := boxes.MaxOverlaps(crowdOverlaps, len(proposals))
		for i, m := range crowdMax {
			noCrowd[i] = m < crowdIoUThreshold
		}
	}

	if len(realIdx) == len(gtClassIDs) {
		return noCrowd, gtClassIDs, gtBoxes, gtMasks
	}
	realIDs := make([]int, len(realIdx))
	realBoxes := make([]boxes.Box, len(realIdx))
	for k, i := range realIdx {
		realIDs[k] = gtClassIDs[i]
		realBoxes[k] = gtBoxes[i]
	}
	return noCrowd, realIDs, realBoxes, batch.SelectRows(gtMasks, realIdx)
}
