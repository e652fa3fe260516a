// Package inference - inference-time mask generation over accepted
// detections.
package inference

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-mrcnn/batch"
	"github.com/nvr-ai/go-mrcnn/boxes"
	"github.com/nvr-ai/go-mrcnn/config"
)

// FeatureMaps holds the per-pyramid-level feature grids produced by the
// backbone, each shaped (batch, channels, levelH, levelW). The pipeline
// treats them as read-only and passes them through to the mask head
// untouched.
type FeatureMaps []*tensor.Dense

// MaskHead generates per-class mask probability grids for a packed set of
// ROIs. Implementations wrap the external mask network.
type MaskHead interface {
	// Predict returns a (totalROIs, classes, maskH, maskW) tensor for ROIs
	// packed across the batch with per-sample counts. ROI boxes arrive in
	// normalized coordinates.
	Predict(features FeatureMaps, rois *tensor.Dense, counts []int, imageH, imageW int) (*tensor.Dense, error)
}

// Detections carries the accepted detections of a batch, indexed by sample.
type Detections struct {
	// Boxes are detection boxes in image (pixel) coordinates.
	Boxes [][]boxes.Box
	// ClassIDs are the predicted class IDs, parallel to Boxes.
	ClassIDs [][]int
	// Scores are detection confidences, parallel to Boxes.
	Scores [][]float32
	// Windows give each sample's valid image region (excluding padding) in
	// pixel coordinates.
	Windows []boxes.Box
}

// Total returns the number of detections across the batch.
func (d *Detections) Total() int {
	n := 0
	for _, b := range d.Boxes {
		n += len(b)
	}
	return n
}

// Pipeline runs the mask stage of the detection pipeline.
type Pipeline struct {
	Cfg config.Config
}

// NewPipeline validates the configuration and returns a mask pipeline.
func NewPipeline(cfg config.Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid mask pipeline configuration")
	}
	return &Pipeline{Cfg: cfg}, nil
}

// GenerateMasks produces one mask per detection.
//
// Detection boxes are enlarged per the configuration; if any enlargement
// applies they are clipped back to their sample's image window and rounded to
// pixel boundaries. The resulting mask boxes are converted to normalized
// coordinates and pushed through the mask head in blocks of at most
// DetectionBlockSizeInference detections along the detection axis — all
// samples advance through the same block slice together, which bounds the
// peak memory of the crop-and-resample and convolution stages. Within each
// block the channel matching each detection's predicted class is gathered
// out of the per-class stack.
//
// Arguments:
//   - head: The external mask network.
//   - features: Backbone feature maps, passed through untouched.
//   - dets: Accepted detections in pixel coordinates.
//   - imageH, imageW: Padded image size in pixels.
//
// Returns:
//   - maskBoxes: The boxes masks were generated for, per sample, in pixel
//     coordinates. These differ from the detection boxes when enlargement is
//     configured.
//   - masks: Per-sample (n, maskH, maskW) tensors; nil entries for samples
//     without detections.
//   - An error from the head, or for a predicted class ID outside the head's
//     class range.
//
// A batch with zero detections short-circuits to empty results without
// invoking the head.
func (p *Pipeline) GenerateMasks(head MaskHead, features FeatureMaps, dets Detections, imageH, imageW int) ([][]boxes.Box, []*tensor.Dense, error) {
	nSamples := len(dets.Boxes)
	maskBoxes := make([][]boxes.Box, nSamples)
	outMasks := make([]*tensor.Dense, nSamples)
	if dets.Total() == 0 {
		return maskBoxes, outMasks, nil
	}

	// Enlarge, clip, round. The identity configuration skips clipping so
	// detection boxes pass through bit for bit.
	maxDet := 0
	normalized := make([][]boxes.Box, nSamples)
	for s, sampleBoxes := range dets.Boxes {
		mb := make([]boxes.Box, len(sampleBoxes))
		nb := make([]boxes.Box, len(sampleBoxes))
		for d, b := range sampleBoxes {
			enlarged, changed := boxes.Enlarge(b, p.Cfg.MaskBoxEnlarge, p.Cfg.MaskBoxBorderMin)
			if changed {
				enlarged = boxes.RoundPixels(boxes.ClipToWindow(enlarged, dets.Windows[s]))
			}
			mb[d] = enlarged
			nb[d] = enlarged.Normalize(imageH, imageW)
		}
		maskBoxes[s] = mb
		normalized[s] = nb
		if len(sampleBoxes) > maxDet {
			maxDet = len(sampleBoxes)
		}
	}

	// Per-sample mask rows accumulated across blocks.
	rows := make([][]float32, nSamples)
	maskH, maskW := 0, 0

	blockSize := p.Cfg.DetectionBlockSizeInference
	for lo := 0; lo < maxDet; lo += blockSize {
		hi := min(lo+blockSize, maxDet)

		blockBoxes := make([][]boxes.Box, nSamples)
		blockClasses := make([]int, 0)
		for s := range normalized {
			n := len(normalized[s])
			from := min(lo, n)
			to := min(hi, n)
			blockBoxes[s] = normalized[s][from:to]
			blockClasses = append(blockClasses, dets.ClassIDs[s][from:to]...)
		}
		packed, counts := batch.PackSlices(blockBoxes)
		if len(packed) == 0 {
			continue
		}

		pred, err := head.Predict(features, boxes.ToTensor(packed), counts, imageH, imageW)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "mask head failed on detections [%d, %d)", lo, hi)
		}
		shape := pred.Shape()
		if shape[0] != len(packed) {
			return nil, nil, errors.Errorf("mask head returned %d masks for %d ROIs", shape[0], len(packed))
		}
		classes := shape[1]
		maskH, maskW = shape[2], shape[3]

		// Gather each detection's predicted-class channel.
		data := pred.Float32s()
		grid := maskH * maskW
		row := 0
		for s, c := range counts {
			for k := 0; k < c; k++ {
				cls := blockClasses[row]
				if cls < 0 || cls >= classes {
					return nil, nil, errors.Errorf("detection class ID %d outside the mask head's %d classes", cls, classes)
				}
				channel := data[(row*classes+cls)*grid : (row*classes+cls+1)*grid]
				rows[s] = append(rows[s], channel...)
				row++
			}
		}
	}

	for s := range rows {
		if len(rows[s]) == 0 {
			continue
		}
		n := len(rows[s]) / (maskH * maskW)
		outMasks[s] = tensor.New(tensor.WithShape(n, maskH, maskW), tensor.WithBacking(rows[s]))
	}
	return maskBoxes, outMasks, nil
}
