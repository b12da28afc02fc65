package terrain

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultSmoothingRadius      = 0.3
	DefaultSmoothingMinDistance = 0.05
	DefaultMaxHeightAboveGround = 0.15

	// keeps cells lying exactly on the radius, e.g. 3 x 0.1 against 0.3
	radiusTolerance = 1e-9
)

// SmoothingParams tunes the neighbourhood repair of unreliable cells
type SmoothingParams struct {
	Radius               float64 `yaml:"radius" json:"radius"`
	MinDistance          float64 `yaml:"minDistance" json:"minDistance"`
	MaxHeightAboveGround float64 `yaml:"maxHeightAboveGround" json:"maxHeightAboveGround"`
}

// DefaultSmoothingParams returns the standard neighbourhood and ground gate
func DefaultSmoothingParams() SmoothingParams {
	return SmoothingParams{
		Radius:               DefaultSmoothingRadius,
		MinDistance:          DefaultSmoothingMinDistance,
		MaxHeightAboveGround: DefaultMaxHeightAboveGround,
	}
}

// neighborhood returns the cell offsets whose centres lie within radius
// of a cell centre but no closer than minDistance.
func neighborhood(res float64, p SmoothingParams) []Index {
	reach := int(math.Ceil(p.Radius / res))
	origin := orb.Point{0, 0}
	var offsets []Index
	for dr := -reach; dr <= reach; dr++ {
		for dc := -reach; dc <= reach; dc++ {
			d := planar.Distance(origin, orb.Point{float64(dc) * res, float64(dr) * res})
			if d > p.Radius+radiusTolerance || d < p.MinDistance {
				continue
			}
			offsets = append(offsets, Index{Row: dr, Col: dc})
		}
	}
	return offsets
}

// smooth replaces the elevation of every populated cell flagged in the
// unreliable layer with the mean elevation of its populated neighbours,
// provided the cell sits no higher than MaxHeightAboveGround over the
// height_ground layer. Cells are visited in row-major order and written in
// place, so a cell sees the smoothed value of neighbours visited before it.
// variance and n_point are never changed.
func smooth(g *Grid, p SmoothingParams) SmoothReport {
	var r SmoothReport
	if !g.HasLayer(Unreliable) {
		return r
	}

	offsets := neighborhood(g.Resolution(), p)
	heights := make([]float64, 0, len(offsets))

	for o := 0; o < g.Size(); o++ {
		idx := g.IndexAt(o)
		elevation, ok := g.At(Elevation, idx)
		if !ok {
			continue
		}
		if marker, ok := g.At(Unreliable, idx); !ok || !finite(marker) {
			continue
		}
		r.Candidates++

		heights = heights[:0]
		for _, off := range offsets {
			n := Index{Row: idx.Row + off.Row, Col: idx.Col + off.Col}
			if !g.Contains(n) {
				continue
			}
			if z, ok := g.At(Elevation, n); ok {
				heights = append(heights, z)
			}
		}
		if len(heights) == 0 {
			r.NoNeighbors++
			continue
		}

		ground, ok := g.At(GroundHeight, idx)
		if !ok || !finite(ground) {
			r.NoGround++
			continue
		}
		if elevation-ground > p.MaxHeightAboveGround {
			r.AboveGround++
			continue
		}

		g.Set(Elevation, idx, stat.Mean(heights, nil))
		r.Smoothed++
	}
	return r
}
