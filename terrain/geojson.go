package terrain

import (
	"fmt"

	"github.com/paulmach/orb/geojson"
)

// CellsFeatureCollection exports every populated cell as a square polygon
// in map coordinates. Properties carry the fused state and, when set, the
// diagnostic and input layers.
func (m *ElevationMap) CellsFeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	m.View(func(g *Grid) {
		fc.ExtraMembers = geojson.Properties{
			"frame":      g.Frame(),
			"resolution": g.Resolution(),
		}

		g.ForEachPopulated(func(idx Index) {
			cs := g.Cell(idx)
			f := geojson.NewFeature(g.CellBound(idx).ToPolygon())
			f.ID = fmt.Sprintf("%d/%d", idx.Row, idx.Col)
			f.Properties["row"] = idx.Row
			f.Properties["col"] = idx.Col
			f.Properties["elevation"] = cs.Elevation
			f.Properties["variance"] = cs.Variance
			f.Properties["n_point"] = cs.NPoint

			if cs.NSample > 0 {
				f.Properties["sample_mean"] = cs.SampleMean
				f.Properties["sample_variance"] = cs.SampleVariance
				f.Properties["n_sample"] = cs.NSample
			}
			if v, ok := g.At(GroundHeight, idx); ok {
				f.Properties[GroundHeight.String()] = v
			}
			if g.IsValid(Unreliable, idx) {
				f.Properties[Unreliable.String()] = true
			}
			fc.Append(f)
		})
	})

	return fc
}
