package boxes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnlarge_Identity(t *testing.T) {
	b := Box{0.2, 0.2, 0.6, 0.6}

	out, changed := Enlarge(b, 1.0, 0.0)
	assert.False(t, changed, "factor 1 and border 0 must report no enlargement")
	assert.Equal(t, b, out, "identity configuration must return the input unchanged")

	all, changed := EnlargeAll([]Box{b, b}, 1.0, 0.0)
	assert.False(t, changed)
	assert.Equal(t, []Box{b, b}, all)
}

func TestEnlarge_Factor(t *testing.T) {
	b := Box{0.2, 0.2, 0.6, 0.6}

	out, changed := Enlarge(b, 1.5, 0.0)
	assert.True(t, changed)
	assert.InDelta(t, 0.1, out.Y1, 1e-5, "box grows around its centre")
	assert.InDelta(t, 0.1, out.X1, 1e-5)
	assert.InDelta(t, 0.7, out.Y2, 1e-5)
	assert.InDelta(t, 0.7, out.X2, 1e-5)
	assert.InDelta(t, b.CenterY(), out.CenterY(), 1e-5, "centre must not move")
}

func TestEnlarge_BorderDominates(t *testing.T) {
	// A 0.4-wide box with a 0.2 border grows to 0.8, more than factor 1.0
	// would give.
	b := Box{0.2, 0.2, 0.6, 0.6}
	out, changed := Enlarge(b, 1.0, 0.2)
	assert.True(t, changed)
	assert.InDelta(t, 0.8, out.Height(), 1e-5, "border growth should win over factor")
	assert.InDelta(t, 0.8, out.Width(), 1e-5)
}

func TestClipToWindow(t *testing.T) {
	window := Box{10, 10, 90, 90}
	b := Box{-5, 50, 120, 200}

	out := ClipToWindow(b, window)
	assert.Equal(t, Box{10, 50, 90, 90}, out, "coordinates clamp to the window")
}

func TestRoundPixels(t *testing.T) {
	out := RoundPixels(Box{10.4, 10.6, 19.5, 20.49})
	assert.Equal(t, Box{10, 11, 20, 20}, out)
}

func TestLocalFrame(t *testing.T) {
	ref := Box{0.25, 0.25, 0.75, 0.75}

	out := LocalFrame(Box{0.25, 0.25, 0.5, 0.5}, ref)
	assert.InDelta(t, 0.0, out.Y1, 1e-5)
	assert.InDelta(t, 0.0, out.X1, 1e-5)
	assert.InDelta(t, 0.5, out.Y2, 1e-5)
	assert.InDelta(t, 0.5, out.X2, 1e-5)

	same := LocalFrame(ref, ref)
	assert.InDelta(t, 0.0, same.Y1, 1e-5, "the reference box maps to the unit box")
	assert.InDelta(t, 1.0, same.Y2, 1e-5)
}
