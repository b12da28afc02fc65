package terrain

import "fmt"

// Layer identifies one of the fixed raster layers
type Layer int

const (
	// Fused cell state
	Elevation Layer = iota
	Variance
	NPoint

	// Diagnostic sample statistics
	SampleMean
	SampleVariance
	NSample

	// External inputs consumed by smoothing
	Unreliable
	GroundHeight

	// Scratch layers owned by downsampling
	MaxHeight
	PointVariance

	numLayers
)

var layerNames = [numLayers]string{
	Elevation:      "elevation",
	Variance:       "variance",
	NPoint:         "n_point",
	SampleMean:     "sample_mean",
	SampleVariance: "sample_variance",
	NSample:        "n_sample",
	Unreliable:     "unreliable",
	GroundHeight:   "height_ground",
	MaxHeight:      "max_height",
	PointVariance:  "point_variance",
}

// CoreLayers are allocated when the grid is created and never removed.
var CoreLayers = []Layer{Elevation, Variance, NPoint, SampleMean, SampleVariance, NSample}

// ExternalLayers may be written by the embedding system.
var ExternalLayers = []Layer{Unreliable, GroundHeight}

func (l Layer) String() string {
	if l < 0 || l >= numLayers {
		return fmt.Sprintf("layer(%d)", int(l))
	}
	return layerNames[l]
}

// IsExternal reports whether l is an input layer owned by the embedding system
func (l Layer) IsExternal() bool {
	return l == Unreliable || l == GroundHeight
}

// ParseLayer returns the layer with the given name
func ParseLayer(name string) (Layer, error) {
	for i, n := range layerNames {
		if n == name {
			return Layer(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
}
