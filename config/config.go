// Package config - shared configuration for the detection target and mask
// generation pipeline.
package config

import "github.com/pkg/errors"

// Config controls ROI sampling, mask target generation and inference-time mask
// prediction. The pipeline consumes this configuration; loading it from disk is
// the caller's concern.
type Config struct {
	// TrainROIsPerImage is the per-image cap on sampled ROIs (positives plus
	// negatives) fed to the classifier and mask heads during training.
	TrainROIsPerImage int
	// ROIPositiveRatio is the target fraction of positive ROIs in the sampled
	// set, in (0, 1].
	ROIPositiveRatio float32
	// MaskShape is the (height, width) of the fixed mask target grid.
	MaskShape [2]int
	// MaskBoxEnlarge scales mask boxes around their centre before mask
	// cropping. 1.0 disables the scaling.
	MaskBoxEnlarge float32
	// MaskBoxBorderMin is the minimum border, in pixels, added on each side of
	// a mask box. 0.0 disables it.
	MaskBoxBorderMin float32
	// UseMiniMask indicates ground truth masks are stored cropped and resized
	// to their own bounding box rather than at full image extent.
	UseMiniMask bool
	// BBoxStdDev holds per-component standard deviations applied to box
	// refinement targets when BBoxUseStdDev is set.
	BBoxStdDev [4]float32
	// BBoxUseStdDev enables variance normalization of refinement targets.
	BBoxUseStdDev bool
	// DetectionBlockSizeInference bounds how many detections per sample are
	// pushed through the mask head at a time during inference.
	DetectionBlockSizeInference int
}

// Default returns the configuration used by the reference training setup.
func Default() Config {
	return Config{
		TrainROIsPerImage:           200,
		ROIPositiveRatio:            0.33,
		MaskShape:                   [2]int{28, 28},
		MaskBoxEnlarge:              1.0,
		MaskBoxBorderMin:            0.0,
		UseMiniMask:                 true,
		BBoxStdDev:                  [4]float32{0.1, 0.1, 0.2, 0.2},
		BBoxUseStdDev:               true,
		DetectionBlockSizeInference: 50,
	}
}

// Validate reports configuration-contract violations. These are programmer
// errors and are raised before any pipeline work begins.
func (c *Config) Validate() error {
	if c.TrainROIsPerImage <= 0 {
		return errors.New("TrainROIsPerImage must be positive")
	}
	if c.ROIPositiveRatio <= 0 || c.ROIPositiveRatio > 1 {
		return errors.New("ROIPositiveRatio must be in (0, 1]")
	}
	if c.MaskShape[0] <= 0 || c.MaskShape[1] <= 0 {
		return errors.New("MaskShape dimensions must be positive")
	}
	if c.MaskBoxEnlarge < 1.0 {
		return errors.New("MaskBoxEnlarge must be >= 1.0")
	}
	if c.MaskBoxBorderMin < 0 {
		return errors.New("MaskBoxBorderMin must be >= 0")
	}
	if c.DetectionBlockSizeInference <= 0 {
		return errors.New("DetectionBlockSizeInference must be positive")
	}
	return nil
}
