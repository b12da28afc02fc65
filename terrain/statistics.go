package terrain

// accumulateSamples folds every raw point of a batch into the diagnostic
// sample_mean, sample_variance and n_sample layers. It is independent of
// downsampling, fusion and the outlier gate, and never touches the fused
// layers. sample_variance is the biased (population) variance of all
// heights seen at the cell.
func accumulateSamples(g *Grid, points []Point) int {
	n := 0
	for _, p := range points {
		if !finite(p.Z) {
			continue
		}
		idx, ok := g.ResolveIndex(p.Position())
		if !ok {
			continue
		}
		n++

		count, seen := g.At(NSample, idx)
		if !seen {
			g.Set(NSample, idx, 1)
			g.Set(SampleMean, idx, p.Z)
			g.Set(SampleVariance, idx, 0)
			continue
		}

		mean, _ := g.At(SampleMean, idx)
		variance, _ := g.At(SampleVariance, idx)

		count++
		nextMean := mean + (p.Z-mean)/count
		variance += ((p.Z-mean)*(p.Z-nextMean) - variance) / count

		g.Set(NSample, idx, count)
		g.Set(SampleMean, idx, nextMean)
		g.Set(SampleVariance, idx, variance)
	}
	return n
}
