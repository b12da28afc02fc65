package terrain

import "math"

// validVariance reports whether v can act as a measurement noise
func validVariance(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// downsample collapses every point of one batch that lands in the same
// cell into a single measurement: the highest return in the cell with
// its own variance, placed at the cell centre. Ties keep the first point
// seen. Output order follows the first touch of each cell.
//
// Points outside the raster or with a non-finite height are skipped and
// counted in r. Variance plays no part in choosing the highest return;
// fusion rejects an unusable one.
func downsample(g *Grid, points []Point, r *UpdateReport) []Point {
	g.AddLayer(MaxHeight)
	g.AddLayer(PointVariance)
	defer func() {
		g.RemoveLayer(MaxHeight)
		g.RemoveLayer(PointVariance)
	}()

	touched := make([]Index, 0, len(points))
	for _, p := range points {
		if !finite(p.Z) {
			r.Invalid++
			continue
		}
		idx, ok := g.ResolveIndex(p.Position())
		if !ok {
			r.OutOfBounds++
			continue
		}

		maxZ, seen := g.At(MaxHeight, idx)
		if !seen {
			g.Set(MaxHeight, idx, p.Z)
			g.Set(PointVariance, idx, p.Variance)
			touched = append(touched, idx)
			continue
		}
		if p.Z > maxZ {
			g.Set(MaxHeight, idx, p.Z)
			g.Set(PointVariance, idx, p.Variance)
		}
	}

	out := make([]Point, 0, len(touched))
	for _, idx := range touched {
		c := g.Position(idx)
		z, _ := g.At(MaxHeight, idx)
		v, ok := g.At(PointVariance, idx)
		if !ok {
			v = math.NaN()
		}
		out = append(out, Point{X: c[0], Y: c[1], Z: z, Variance: v})
	}
	return out
}
