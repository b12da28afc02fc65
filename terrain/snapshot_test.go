package terrain

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populatedMap(t *testing.T) *ElevationMap {
	t.Helper()
	m := newUnitMap(t)
	_, err := m.Update(batchOf(
		Point{X: 0.15, Y: 0.25, Z: 0.4, Variance: 0.02},
		Point{X: 0.85, Y: 0.75, Z: -0.1, Variance: 0.03},
	))
	require.NoError(t, err)
	require.NoError(t, m.SetGroundPlane(0))
	return m
}

func TestSnapshot_CapturesLayers(t *testing.T) {
	m := populatedMap(t)
	s := m.Snapshot()

	assert.Equal(t, 10, s.Rows)
	assert.Equal(t, uint64(1), s.Batches)

	elev, ok := s.Layer(Elevation)
	require.True(t, ok)
	assert.Len(t, elev.Values, 100)
	assert.True(t, elev.Valid[2*10+1])
	assert.Equal(t, 0.4, elev.Values[2*10+1])

	_, ok = s.Layer(GroundHeight)
	assert.True(t, ok)
	_, ok = s.Layer(Unreliable)
	assert.False(t, ok)
	_, ok = s.Layer(MaxHeight)
	assert.False(t, ok, "scratch layers are never captured")
}

func TestSnapshot_IsDetached(t *testing.T) {
	m := populatedMap(t)
	s := m.Snapshot()

	_, err := m.Update(batchOf(Point{X: 0.55, Y: 0.55, Z: 3, Variance: 0.01}))
	require.NoError(t, err)

	elev, _ := s.Layer(Elevation)
	assert.False(t, elev.Valid[55])
}

func TestSnapshot_SaveLoadRestore(t *testing.T) {
	m := populatedMap(t)
	path := filepath.Join(t.TempDir(), "state", "terrain.json")

	require.NoError(t, SaveSnapshot(path, m.Snapshot()))
	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)

	restored := newUnitMap(t)
	require.NoError(t, restored.Restore(loaded))

	for _, p := range []orb.Point{{0.15, 0.25}, {0.85, 0.75}, {0.55, 0.55}} {
		want, _ := m.Cell(p)
		got, _ := restored.Cell(p)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("cell at %v mismatch (-want +got):\n%s", p, diff)
		}
	}
	assert.Equal(t, m.Summary().PopulatedCells, restored.Summary().PopulatedCells)
	assert.Equal(t, uint64(1), restored.Summary().Batches)
	restored.View(func(g *Grid) { assert.True(t, g.HasLayer(GroundHeight)) })
}

func TestSnapshot_RestoreGeometryMismatch(t *testing.T) {
	m := populatedMap(t)
	s := m.Snapshot()

	other, err := NewElevationMap(Geometry{Frame: "map", LengthX: 2, LengthY: 2, Resolution: 0.1}, DefaultParams())
	require.NoError(t, err)
	assert.ErrorIs(t, other.Restore(s), ErrInvalidGeometry)
}

func TestSnapshot_RestoreRejectsBadShape(t *testing.T) {
	m := populatedMap(t)
	s := m.Snapshot()
	s.Layers[0].Values = s.Layers[0].Values[:10]

	assert.ErrorIs(t, m.Restore(s), ErrLayerShape)
}

func TestLoadSnapshot_Missing(t *testing.T) {
	_, err := LoadSnapshot(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestSnapshot_RestoreWhileReadingGeometry(t *testing.T) {
	m := populatedMap(t)
	snap := m.Snapshot()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			assert.NoError(t, m.Restore(snap))
		}
	}()
	for i := 0; i < 100; i++ {
		assert.Equal(t, "map", m.Frame())
		assert.Equal(t, 0.1, m.Geometry().Resolution)
		assert.Equal(t, DefaultParams(), m.Params())
	}
	wg.Wait()
}
