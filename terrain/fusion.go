package terrain

import "math"

// DefaultGateThreshold is the largest height difference, in map units,
// a measurement may have from the fused elevation and still be fused.
const DefaultGateThreshold = 0.2

// FusionParams tunes the per-cell filter
type FusionParams struct {
	GateThreshold float64 `yaml:"gateThreshold" json:"gateThreshold"`
}

// DefaultFusionParams returns the standard outlier gate
func DefaultFusionParams() FusionParams {
	return FusionParams{GateThreshold: DefaultGateThreshold}
}

// fuse merges one downsampled measurement per cell into the fused layers.
//
// An empty cell takes the measurement as is. A populated cell rejects
// measurements further than the gate from its elevation, which keeps
// passing obstacles out of the terrain estimate, and otherwise applies
// a 1D Kalman update with the cell variance as prior and the point
// variance as observation noise.
func fuse(g *Grid, points []Point, params FusionParams, r *UpdateReport) {
	for _, p := range points {
		idx, ok := g.ResolveIndex(p.Position())
		if !ok {
			r.OutOfBounds++
			continue
		}
		if !finite(p.Z) {
			r.Invalid++
			continue
		}
		if !validVariance(p.Variance) {
			r.InvalidVariance++
			tracef("fuse: invalid variance %v at %v", p.Variance, idx)
			continue
		}

		if !g.IsPopulated(idx) {
			g.Set(Elevation, idx, p.Z)
			g.Set(Variance, idx, p.Variance)
			g.Set(NPoint, idx, 1)
			r.Initialized++
			continue
		}

		elevation, _ := g.At(Elevation, idx)
		variance, _ := g.At(Variance, idx)
		nPoint, _ := g.At(NPoint, idx)

		if math.Abs(elevation-p.Z) > params.GateThreshold {
			r.Outliers++
			tracef("fuse: gate rejected z=%.3f at %v (elevation %.3f)", p.Z, idx, elevation)
			continue
		}

		// A populated cell with a corrupt prior is restarted from the measurement.
		if !validVariance(variance) {
			g.Set(Elevation, idx, p.Z)
			g.Set(Variance, idx, p.Variance)
			g.Set(NPoint, idx, nPoint+1)
			r.Fused++
			continue
		}

		sum := variance + p.Variance
		g.Set(Elevation, idx, (elevation*p.Variance+p.Z*variance)/sum)
		g.Set(Variance, idx, variance*p.Variance/sum)
		g.Set(NPoint, idx, nPoint+1)
		r.Fused++
	}
}
