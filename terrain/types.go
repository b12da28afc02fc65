package terrain

import (
	"time"

	"github.com/paulmach/orb"
)

// Point is a single height measurement with its variance estimate.
// Coordinates are in the frame of the Batch that carries it.
type Point struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Variance float64 `json:"variance"`
}

// Position returns the planar part of the point
func (p Point) Position() orb.Point {
	return orb.Point{p.X, p.Y}
}

// Batch is one sensor scan worth of points sharing a coordinate frame
type Batch struct {
	Frame  string    `json:"frame"`
	Stamp  time.Time `json:"stamp"`
	Points []Point   `json:"points"`
}

// Index addresses a raster cell
type Index struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Offset is a planar offset in map units
type Offset struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Geometry fixes the raster's extent, resolution and frame.
// Center is the map position of the raster centre.
type Geometry struct {
	Frame      string  `yaml:"frame" json:"frame"`
	LengthX    float64 `yaml:"lengthX" json:"lengthX"`
	LengthY    float64 `yaml:"lengthY" json:"lengthY"`
	Resolution float64 `yaml:"resolution" json:"resolution"`
	Center     Offset  `yaml:"center" json:"center"`
}

// CellState is a read-only view of every core layer at one cell
type CellState struct {
	Index          Index   `json:"index"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Populated      bool    `json:"populated"`
	Elevation      float64 `json:"elevation"`
	Variance       float64 `json:"variance"`
	NPoint         int     `json:"nPoint"`
	SampleMean     float64 `json:"sampleMean"`
	SampleVariance float64 `json:"sampleVariance"`
	NSample        int     `json:"nSample"`
}

// UpdateReport counts what happened to each point of one batch
type UpdateReport struct {
	Frame           string `json:"frame"`
	Points          int    `json:"points"`
	Cells           int    `json:"cells"` // downsampled measurements
	OutOfBounds     int    `json:"outOfBounds"`
	Invalid         int    `json:"invalid"` // non-finite height
	InvalidVariance int    `json:"invalidVariance"`
	Initialized     int    `json:"initialized"`
	Fused           int    `json:"fused"`
	Outliers        int    `json:"outliers"`
	Samples         int    `json:"samples"`
}

// SmoothReport summarizes one smoothing pass
type SmoothReport struct {
	Candidates  int `json:"candidates"`
	Smoothed    int `json:"smoothed"`
	NoNeighbors int `json:"noNeighbors"`
	AboveGround int `json:"aboveGround"`
	NoGround    int `json:"noGround"`
}

// MapSummary describes the map as a whole for publishing
type MapSummary struct {
	Frame          string    `json:"frame"`
	Rows           int       `json:"rows"`
	Cols           int       `json:"cols"`
	Resolution     float64   `json:"resolution"`
	PopulatedCells int       `json:"populatedCells"`
	Batches        uint64    `json:"batches"`
	Rejected       uint64    `json:"rejected"`
	MinElevation   float64   `json:"minElevation"`
	MaxElevation   float64   `json:"maxElevation"`
	LastUpdate     time.Time `json:"lastUpdate"`
}
