package terrain

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellsFeatureCollection(t *testing.T) {
	m := populatedMap(t)

	fc := m.CellsFeatureCollection()
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "map", fc.ExtraMembers["frame"])

	f := fc.Features[0]
	assert.Equal(t, "2/1", f.ID)
	poly, ok := f.Geometry.(orb.Polygon)
	require.True(t, ok)
	assert.InDelta(t, 0.1, poly.Bound().Min[0], 1e-12)
	assert.InDelta(t, 0.3, poly.Bound().Max[1], 1e-12)

	assert.Equal(t, 0.4, f.Properties.MustFloat64("elevation"))
	assert.Equal(t, 0.0, f.Properties.MustFloat64(GroundHeight.String()))
	assert.Equal(t, 1, f.Properties.MustInt("n_sample"))
	_, flagged := f.Properties[Unreliable.String()]
	assert.False(t, flagged)
}

func TestCellsFeatureCollection_MarshalsAsGeoJSON(t *testing.T) {
	m := populatedMap(t)

	data, err := json.Marshal(m.CellsFeatureCollection())
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 2)
	assert.Equal(t, "Polygon", fc.Features[1].Geometry.GeoJSONType())
}

func TestCellsFeatureCollection_Empty(t *testing.T) {
	fc := newUnitMap(t).CellsFeatureCollection()
	assert.Empty(t, fc.Features)
}
