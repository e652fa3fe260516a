package targets

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-mrcnn/boxes"
	"github.com/nvr-ai/go-mrcnn/config"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.TrainROIsPerImage = 6
	cfg.ROIPositiveRatio = 0.34
	cfg.MaskShape = [2]int{4, 4}
	cfg.MaskBoxEnlarge = 1.0
	cfg.MaskBoxBorderMin = 0.0
	cfg.UseMiniMask = false
	cfg.BBoxUseStdDev = false
	return cfg
}

func newTestGenerator(t *testing.T, cfg config.Config) *Generator {
	g, err := NewGenerator(cfg)
	require.NoError(t, err)
	return g
}

// constMask builds an (n, size, size) mask tensor filled with a value.
func constMask(n, size int, value float32) *tensor.Dense {
	data := make([]float32, n*size*size)
	for i := range data {
		data[i] = value
	}
	return tensor.New(tensor.WithShape(n, size, size), tensor.WithBacking(data))
}

// testPredictions builds a complete prediction triple with the given
// background-class probabilities in column 0.
func testPredictions(bgProb []float32, classes int) *RoIPredictions {
	n := len(bgProb)
	logits := make([]float32, n*classes)
	probs := make([]float32, n*classes)
	for i, p := range bgProb {
		probs[i*classes] = p
	}
	deltas := make([]float32, n*classes*4)
	return &RoIPredictions{
		ClassLogits: tensor.New(tensor.WithShape(n, classes), tensor.WithBacking(logits)),
		ClassProbs:  tensor.New(tensor.WithShape(n, classes), tensor.WithBacking(probs)),
		BoxDeltas:   tensor.New(tensor.WithShape(n, classes, 4), tensor.WithBacking(deltas)),
	}
}

func TestSample_PerfectMatch(t *testing.T) {
	g := newTestGenerator(t, testConfig())
	box := boxes.Box{Y1: 0.1, X1: 0.1, Y2: 0.5, X2: 0.5}

	out, err := g.Sample(rand.New(rand.NewSource(1)), SampleInput{
		ImageHeight: 8,
		ImageWidth:  8,
		Proposals:   []boxes.Box{box},
		GTClassIDs:  []int{1},
		GTBoxes:     []boxes.Box{box},
		GTMasks:     constMask(1, 8, 1),
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, 1, out.PositiveCount)
	assert.Equal(t, 0, out.NegativeCount)
	assert.Equal(t, box, out.ROIs[0], "the matching proposal is selected positive")
	assert.Equal(t, 1, out.ClassIDs[0])

	d := out.Deltas[0]
	assert.InDelta(t, 0.0, d.DY, 1e-5, "a perfect match encodes a zero delta")
	assert.InDelta(t, 0.0, d.DX, 1e-5)
	assert.InDelta(t, 0.0, d.DH, 1e-5)
	assert.InDelta(t, 0.0, d.DW, 1e-5)

	require.NotNil(t, out.Masks)
	assert.Equal(t, []int{1, 4, 4}, []int(out.Masks.Shape()))
	for _, v := range out.Masks.Float32s() {
		assert.Equal(t, float32(1), v, "the mask target crops the all-ones ground truth")
	}
}

func TestSample_CrowdOnlyImageYieldsZeroTargets(t *testing.T) {
	g := newTestGenerator(t, testConfig())

	out, err := g.Sample(rand.New(rand.NewSource(1)), SampleInput{
		ImageHeight: 8,
		ImageWidth:  8,
		// The proposal sits fully inside the crowd box, so it is excluded
		// from the negative pool, and there is no real ground truth to match.
		Proposals:  []boxes.Box{{Y1: 0.1, X1: 0.1, Y2: 0.2, X2: 0.2}},
		GTClassIDs: []int{-1},
		GTBoxes:    []boxes.Box{{Y1: 0, X1: 0, Y2: 1, X2: 1}},
		GTMasks:    constMask(1, 8, 1),
	})
	require.NoError(t, err, "an all-crowd image is a degenerate input, not an error")
	assert.Equal(t, 0, out.Len())
	assert.Nil(t, out.Masks)
}

func TestSample_NoPositivesMeansNoTargets(t *testing.T) {
	g := newTestGenerator(t, testConfig())

	out, err := g.Sample(rand.New(rand.NewSource(1)), SampleInput{
		ImageHeight: 8,
		ImageWidth:  8,
		Proposals: []boxes.Box{
			{Y1: 0.5, X1: 0.5, Y2: 0.6, X2: 0.6},
			{Y1: 0.7, X1: 0.7, Y2: 0.9, X2: 0.9},
		},
		GTClassIDs: []int{1},
		GTBoxes:    []boxes.Box{{Y1: 0, X1: 0, Y2: 0.1, X2: 0.1}},
		GTMasks:    constMask(1, 8, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len(), "without positives no negatives are sampled either")
}

func TestSample_NegativeTargetsAreExplicitZeros(t *testing.T) {
	g := newTestGenerator(t, testConfig())
	gtBox := boxes.Box{Y1: 0.1, X1: 0.1, Y2: 0.5, X2: 0.5}

	out, err := g.Sample(rand.New(rand.NewSource(3)), SampleInput{
		ImageHeight: 8,
		ImageWidth:  8,
		Proposals: []boxes.Box{
			gtBox,
			{Y1: 0.6, X1: 0.6, Y2: 0.9, X2: 0.9},
			{Y1: 0.7, X1: 0.1, Y2: 0.9, X2: 0.3},
		},
		GTClassIDs: []int{2},
		GTBoxes:    []boxes.Box{gtBox},
		GTMasks:    constMask(1, 8, 1),
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.PositiveCount)
	require.Equal(t, 1, out.NegativeCount, "the negative budget follows the realized positive count")
	require.Equal(t, 2, out.Len())

	assert.Equal(t, 2, out.ClassIDs[0], "positives come first")
	assert.Equal(t, 0, out.ClassIDs[1], "negatives carry the background class")
	assert.Equal(t, boxes.Delta{}, out.Deltas[1], "negative deltas are zero by convention")

	maskData := out.Masks.Float32s()
	for _, v := range maskData[:16] {
		assert.Equal(t, float32(1), v, "positive mask rows are cropped ground truth")
	}
	for _, v := range maskData[16:] {
		assert.Equal(t, float32(0), v, "negative mask rows are zero by convention")
	}
}

func TestSample_PredictionContract(t *testing.T) {
	g := newTestGenerator(t, testConfig())
	box := boxes.Box{Y1: 0.1, X1: 0.1, Y2: 0.5, X2: 0.5}
	base := SampleInput{
		ImageHeight: 8,
		ImageWidth:  8,
		Proposals:   []boxes.Box{box},
		GTClassIDs:  []int{1},
		GTBoxes:     []boxes.Box{box},
		GTMasks:     constMask(1, 8, 1),
	}

	in := base
	in.HardNegativeMining = true
	_, err := g.Sample(rand.New(rand.NewSource(1)), in)
	assert.Error(t, err, "mining without predictions is a configuration error")

	in = base
	in.Predictions = &RoIPredictions{ClassLogits: testPredictions([]float32{0.5}, 2).ClassLogits}
	_, err = g.Sample(rand.New(rand.NewSource(1)), in)
	assert.Error(t, err, "a partial prediction triple is a configuration error")

	in = base
	in.Predictions = testPredictions([]float32{0.5}, 2)
	out, err := g.Sample(rand.New(rand.NewSource(1)), in)
	require.NoError(t, err, "a complete triple without mining is valid")
	require.NotNil(t, out.ClassProbs)
	assert.Equal(t, []int{1, 2}, []int(out.ClassProbs.Shape()), "selected prediction rows ride along")
}

func TestSample_HardNegativeMiningSelection(t *testing.T) {
	g := newTestGenerator(t, testConfig())
	gtBox := boxes.Box{Y1: 0, X1: 0, Y2: 0.5, X2: 0.5}
	proposals := []boxes.Box{
		gtBox,
		{Y1: 0, X1: 0, Y2: 0.5, X2: 0.48},
		{Y1: 0, X1: 0, Y2: 0.48, X2: 0.5},
		{Y1: 0.8, X1: 0.8, Y2: 0.9, X2: 0.9},
	}
	preds := testPredictions([]float32{0.1, 0.9, 0.5, 0.3}, 2)

	out, err := g.Sample(nil, SampleInput{
		ImageHeight:        8,
		ImageWidth:         8,
		Proposals:          proposals,
		Predictions:        preds,
		GTClassIDs:         []int{1},
		GTBoxes:            []boxes.Box{gtBox},
		GTMasks:            constMask(1, 8, 1),
		HardNegativeMining: true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, out.PositiveCount)
	require.Equal(t, 1, out.NegativeCount)

	assert.Equal(t, proposals[1], out.ROIs[0], "the positive the classifier most favours as background ranks first")
	assert.Equal(t, proposals[2], out.ROIs[1])
	assert.Equal(t, proposals[3], out.ROIs[2], "the lone negative candidate is kept")

	probs := out.ClassProbs.Float32s()
	assert.InDeltaSlice(t, []float32{0.9, 0, 0.5, 0, 0.3, 0}, probs, 1e-5,
		"selected prediction rows follow the sampled order")
}

func TestSample_SameSeedIsDeterministic(t *testing.T) {
	g := newTestGenerator(t, testConfig())
	gtBox := boxes.Box{Y1: 0.2, X1: 0.2, Y2: 0.6, X2: 0.6}
	var proposals []boxes.Box
	for i := 0; i < 12; i++ {
		off := float32(i) * 0.002
		proposals = append(proposals, boxes.Box{Y1: 0.2 + off, X1: 0.2, Y2: 0.6 + off, X2: 0.6})
	}
	in := SampleInput{
		ImageHeight: 8,
		ImageWidth:  8,
		Proposals:   proposals,
		GTClassIDs:  []int{1},
		GTBoxes:     []boxes.Box{gtBox},
		GTMasks:     constMask(1, 8, 1),
	}

	a, err := g.Sample(rand.New(rand.NewSource(99)), in)
	require.NoError(t, err)
	b, err := g.Sample(rand.New(rand.NewSource(99)), in)
	require.NoError(t, err)
	assert.Equal(t, a.ROIs, b.ROIs, "sampling must be reproducible from the seed")
	assert.Equal(t, a.ClassIDs, b.ClassIDs)
}

func TestSample_MiniMaskAddressing(t *testing.T) {
	cfg := testConfig()
	cfg.UseMiniMask = true
	g := newTestGenerator(t, cfg)

	// The stored mask covers only the ground truth box: left half set.
	miniMask := tensor.New(tensor.WithShape(1, 4, 4), tensor.WithBacking([]float32{
		1, 1, 0, 0,
		1, 1, 0, 0,
		1, 1, 0, 0,
		1, 1, 0, 0,
	}))
	gtBox := boxes.Box{Y1: 0.25, X1: 0.25, Y2: 0.75, X2: 0.75}

	out, err := g.Sample(rand.New(rand.NewSource(1)), SampleInput{
		ImageHeight: 8,
		ImageWidth:  8,
		Proposals:   []boxes.Box{gtBox},
		GTClassIDs:  []int{1},
		GTBoxes:     []boxes.Box{gtBox},
		GTMasks:     miniMask,
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())

	// A proposal equal to the ground truth box maps to the full local frame,
	// so the target reproduces the stored mini-mask.
	assert.Equal(t, miniMask.Float32s(), out.Masks.Float32s())
}

func TestSample_MaskBoxEnlargementWidensTheCrop(t *testing.T) {
	// Ground truth mask set only inside the box; enlarging the mask box pulls
	// surrounding background into the crop.
	data := make([]float32, 64)
	for y := 2; y < 6; y++ {
		for x := 2; x < 6; x++ {
			data[y*8+x] = 1
		}
	}
	gtMasks := tensor.New(tensor.WithShape(1, 8, 8), tensor.WithBacking(data))
	gtBox := boxes.Box{Y1: 0.25, X1: 0.25, Y2: 0.75, X2: 0.75}
	in := SampleInput{
		ImageHeight: 8,
		ImageWidth:  8,
		Proposals:   []boxes.Box{gtBox},
		GTClassIDs:  []int{1},
		GTBoxes:     []boxes.Box{gtBox},
		GTMasks:     gtMasks,
	}

	tight := newTestGenerator(t, testConfig())
	out, err := tight.Sample(rand.New(rand.NewSource(1)), in)
	require.NoError(t, err)
	for _, v := range out.Masks.Float32s() {
		assert.Equal(t, float32(1), v, "the tight crop sees only foreground")
	}

	cfg := testConfig()
	cfg.MaskBoxEnlarge = 2.0
	wide := newTestGenerator(t, cfg)
	out, err = wide.Sample(rand.New(rand.NewSource(1)), in)
	require.NoError(t, err)
	vals := out.Masks.Float32s()
	assert.Equal(t, float32(0), vals[0], "the enlarged crop reaches background at the corner")
	assert.Equal(t, float32(1), vals[1*4+1], "the object interior stays set")
}

func TestBatch_PacksSamplesInOrder(t *testing.T) {
	g := newTestGenerator(t, testConfig())
	box := boxes.Box{Y1: 0.1, X1: 0.1, Y2: 0.5, X2: 0.5}

	out, err := g.Batch(rand.New(rand.NewSource(1)), BatchInput{
		ImageHeight: 8,
		ImageWidth:  8,
		Proposals:   [][]boxes.Box{{box}, nil},
		GTClassIDs:  [][]int{{1}, nil},
		GTBoxes:     [][]boxes.Box{{box}, nil},
		GTMasks:     []*tensor.Dense{constMask(1, 8, 1), nil},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, out.Counts, "the empty sample contributes an explicit zero count")
	assert.Equal(t, 1, out.Total())
	assert.Equal(t, []int{1}, out.ClassIDs)
	require.NotNil(t, out.Masks)
	assert.Equal(t, []int{1, 4, 4}, []int(out.Masks.Shape()))
}

func TestBatch_AllEmptyYieldsZeroLengthContainers(t *testing.T) {
	g := newTestGenerator(t, testConfig())

	out, err := g.Batch(rand.New(rand.NewSource(1)), BatchInput{
		ImageHeight: 8,
		ImageWidth:  8,
		Proposals:   [][]boxes.Box{nil, nil},
		GTClassIDs:  [][]int{nil, nil},
		GTBoxes:     [][]boxes.Box{nil, nil},
		GTMasks:     []*tensor.Dense{nil, nil},
	})
	require.NoError(t, err, "an empty batch is a valid no-op")
	assert.Equal(t, 0, out.Total())
	assert.Equal(t, []int{0, 0}, out.Counts)
	assert.Nil(t, out.Masks)
}

func TestBatch_PredictionCountMismatch(t *testing.T) {
	g := newTestGenerator(t, testConfig())
	box := boxes.Box{Y1: 0.1, X1: 0.1, Y2: 0.5, X2: 0.5}

	_, err := g.Batch(rand.New(rand.NewSource(1)), BatchInput{
		ImageHeight: 8,
		ImageWidth:  8,
		Proposals:   [][]boxes.Box{{box}, {box}},
		Predictions: []*RoIPredictions{testPredictions([]float32{0.5}, 2)},
		GTClassIDs:  [][]int{{1}, {1}},
		GTBoxes:     [][]boxes.Box{{box}, {box}},
		GTMasks:     []*tensor.Dense{constMask(1, 8, 1), constMask(1, 8, 1)},
	})
	assert.Error(t, err, "predictions must cover every sample")
}
