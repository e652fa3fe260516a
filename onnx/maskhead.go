// Package onnx - ONNX Runtime-backed implementation of the external mask
// head consumed by the inference pipeline.
package onnx

import (
	"log"
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-mrcnn/inference"
)

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment initializes the shared ONNX Runtime environment once per
// process.
func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// MaskHeadConfig configures the ONNX mask head session.
type MaskHeadConfig struct {
	// ModelPath is the exported mask head model. It expects the packed ROI
	// boxes plus one input per feature pyramid level, and produces a
	// (rois, classes, maskH, maskW) probability stack.
	ModelPath string
	// LibraryPath optionally points at the ONNX Runtime shared library.
	LibraryPath string
	// NumClasses is the per-class channel count of the model output.
	NumClasses int
	// MaskShape is the (height, width) of the predicted mask grids.
	MaskShape [2]int
	// ROIInputName and FeatureInputNames name the model inputs; OutputName
	// names the mask output.
	ROIInputName      string
	FeatureInputNames []string
	OutputName        string
}

func (c *MaskHeadConfig) validate() error {
	if c.ModelPath == "" {
		return errors.New("ModelPath is required")
	}
	if _, err := os.Stat(c.ModelPath); err != nil {
		return errors.Wrapf(err, "mask head model not found: %s", c.ModelPath)
	}
	if c.NumClasses <= 0 {
		return errors.New("NumClasses must be positive")
	}
	if c.MaskShape[0] <= 0 || c.MaskShape[1] <= 0 {
		return errors.New("MaskShape dimensions must be positive")
	}
	if c.ROIInputName == "" || c.OutputName == "" {
		return errors.New("ROIInputName and OutputName are required")
	}
	if len(c.FeatureInputNames) == 0 {
		return errors.New("at least one feature input name is required")
	}
	return nil
}

// MaskHead runs an exported mask network through ONNX Runtime. It satisfies
// inference.MaskHead.
type MaskHead struct {
	cfg     MaskHeadConfig
	session *ort.DynamicAdvancedSession
	mu      sync.Mutex
}

// NewMaskHead validates the configuration and opens the model session.
func NewMaskHead(cfg MaskHeadConfig) (*MaskHead, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid mask head configuration")
	}
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, errors.Wrap(err, "initializing ONNX Runtime environment")
	}

	inputNames := append([]string{cfg.ROIInputName}, cfg.FeatureInputNames...)
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening mask head session for %s", cfg.ModelPath)
	}

	log.Printf("mask head initialized: model=%s classes=%d mask=%dx%d",
		cfg.ModelPath, cfg.NumClasses, cfg.MaskShape[0], cfg.MaskShape[1])

	return &MaskHead{cfg: cfg, session: session}, nil
}

// Predict runs the mask network over packed ROIs and returns the per-class
// mask probability stack.
func (h *MaskHead) Predict(features inference.FeatureMaps, rois *tensor.Dense, counts []int, imageH, imageW int) (*tensor.Dense, error) {
	if rois == nil {
		return nil, errors.New("rois tensor is nil")
	}
	if len(features) != len(h.cfg.FeatureInputNames) {
		return nil, errors.Errorf("got %d feature levels, session expects %d", len(features), len(h.cfg.FeatureInputNames))
	}
	n := rois.Shape()[0]

	inputs := make([]ort.Value, 0, 1+len(features))
	destroy := func(vals []ort.Value) {
		for _, v := range vals {
			if v != nil {
				v.Destroy()
			}
		}
	}

	roiTensor, err := ort.NewTensor(ort.NewShape(int64(n), 4), rois.Float32s())
	if err != nil {
		return nil, errors.Wrap(err, "creating ROI input tensor")
	}
	inputs = append(inputs, roiTensor)

	for i, level := range features {
		dims := make([]int64, len(level.Shape()))
		for d, v := range level.Shape() {
			dims[d] = int64(v)
		}
		levelTensor, err := ort.NewTensor(ort.NewShape(dims...), level.Float32s())
		if err != nil {
			destroy(inputs)
			return nil, errors.Wrapf(err, "creating feature input tensor %d", i)
		}
		inputs = append(inputs, levelTensor)
	}
	defer destroy(inputs)

	outShape := ort.NewShape(int64(n), int64(h.cfg.NumClasses),
		int64(h.cfg.MaskShape[0]), int64(h.cfg.MaskShape[1]))
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, errors.Wrap(err, "creating mask output tensor")
	}
	defer output.Destroy()

	if err := h.run(inputs, []ort.Value{output}); err != nil {
		return nil, errors.Wrap(err, "running mask head session")
	}

	data := make([]float32, len(output.GetData()))
	copy(data, output.GetData())
	return tensor.New(
		tensor.WithShape(n, h.cfg.NumClasses, h.cfg.MaskShape[0], h.cfg.MaskShape[1]),
		tensor.WithBacking(data),
	), nil
}

// run serializes session access; ONNX Runtime sessions are not safe for
// concurrent Run calls with shared output bindings.
func (h *MaskHead) run(inputs, outputs []ort.Value) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.Run(inputs, outputs)
}

// Close releases the underlying session.
func (h *MaskHead) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return nil
	}
	err := h.session.Destroy()
	h.session = nil
	return err
}
