package inference

import (
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-mrcnn/boxes"
)

// Result is one image's detections with their masks, as plain numeric arrays
// ready for serialization.
type Result struct {
	// Boxes are detection boxes in pixel coordinates.
	Boxes []boxes.Box
	// ClassIDs are predicted class IDs.
	ClassIDs []int
	// Scores are detection confidences.
	Scores []float32
	// MaskBoxes are the (possibly enlarged) boxes the masks were generated
	// for.
	MaskBoxes []boxes.Box
	// Masks is an (n, maskH, maskW) tensor of mask probabilities, nil for an
	// image without detections.
	Masks *tensor.Dense
}

// SplitResults combines the detection inputs and mask pipeline outputs into
// one Result per image, in sample order. Images without detections produce a
// Result with zero-length fields.
func SplitResults(dets Detections, maskBoxes [][]boxes.Box, masks []*tensor.Dense) []Result {
	out := make([]Result, len(dets.Boxes))
	for s := range dets.Boxes {
		out[s] = Result{
			Boxes:     dets.Boxes[s],
			ClassIDs:  dets.ClassIDs[s],
			Scores:    dets.Scores[s],
			MaskBoxes: maskBoxes[s],
			Masks:     masks[s],
		}
	}
	return out
}
