package terrain

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAffineMatrix_Identity(t *testing.T) {
	p := orb.Point{1.5, -2}
	assert.Equal(t, p, Identity().Apply(p))
}

func TestCreateRotationTranslation(t *testing.T) {
	m := CreateRotationTranslation(90, 1, 2)
	got := m.Apply(orb.Point{1, 0})
	assert.InDelta(t, 1.0, got[0], 1e-12)
	assert.InDelta(t, 3.0, got[1], 1e-12)
}

func TestTransformBatch(t *testing.T) {
	transforms := []FrameTransform{
		{ID: "lidar", Rotation: 180, Translation: Offset{X: 1, Y: 1}, ZOffset: 0.5},
	}
	b := Batch{Frame: "lidar", Points: []Point{{X: 0.25, Y: 0.5, Z: 0.1, Variance: 0.02}}}

	out := TransformBatch(b, "map", transforms)
	require.Len(t, out.Points, 1)
	assert.Equal(t, "map", out.Frame)
	assert.InDelta(t, 0.75, out.Points[0].X, 1e-12)
	assert.InDelta(t, 0.5, out.Points[0].Y, 1e-12)
	assert.InDelta(t, 0.6, out.Points[0].Z, 1e-12)
	assert.Equal(t, 0.02, out.Points[0].Variance)

	// the input is not modified
	assert.Equal(t, 0.25, b.Points[0].X)
}

func TestTransformBatch_PassThrough(t *testing.T) {
	b := Batch{Frame: "odom", Points: []Point{{X: 1, Y: 2, Z: 3, Variance: 0.1}}}

	assert.Equal(t, b, TransformBatch(b, "map", nil))
	assert.Equal(t, b, TransformBatch(b, "odom", []FrameTransform{{ID: "odom", Rotation: 90}}))
}

func TestTransformBatch_ThenUpdate(t *testing.T) {
	m := newUnitMap(t)
	transforms := []FrameTransform{{ID: "sensor", Translation: Offset{X: 0.5, Y: 0.5}}}

	b := TransformBatch(Batch{Frame: "sensor", Points: []Point{{X: 0.05, Y: 0.05, Z: 1, Variance: 0.01}}}, m.Frame(), transforms)
	_, err := m.Update(b)
	require.NoError(t, err)

	cs, ok := m.Cell(orb.Point{0.55, 0.55})
	require.True(t, ok)
	assert.True(t, cs.Populated)
}
