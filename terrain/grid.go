package terrain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// layerData holds one layer's values and the validity bitmap that
// replaces a NaN "unset" marker.
type layerData struct {
	values []float64
	valid  []bool
}

func newLayerData(n int) *layerData {
	return &layerData{
		values: make([]float64, n),
		valid:  make([]bool, n),
	}
}

// Grid is a fixed-geometry raster of named layers.
// Rows run along y and columns along x; cell (0,0) holds the minimum corner.
// A Grid is not safe for concurrent use.
type Grid struct {
	geometry Geometry
	rows     int
	cols     int
	bound    orb.Bound
	layers   [numLayers]*layerData
}

// NewGrid builds a grid with every core layer allocated and unset
func NewGrid(g Geometry) (*Grid, error) {
	if g.Frame == "" {
		return nil, fmt.Errorf("%w: frame is required", ErrInvalidGeometry)
	}
	if !(g.Resolution > 0) || math.IsInf(g.Resolution, 0) {
		return nil, fmt.Errorf("%w: resolution must be positive, got %v", ErrInvalidGeometry, g.Resolution)
	}
	cols := int(math.Round(g.LengthX / g.Resolution))
	rows := int(math.Round(g.LengthY / g.Resolution))
	if cols < 1 || rows < 1 {
		return nil, fmt.Errorf("%w: length %.3fx%.3f holds no cell at resolution %.3f",
			ErrInvalidGeometry, g.LengthX, g.LengthY, g.Resolution)
	}

	// Snap lengths to whole cells.
	g.LengthX = float64(cols) * g.Resolution
	g.LengthY = float64(rows) * g.Resolution

	grid := &Grid{
		geometry: g,
		rows:     rows,
		cols:     cols,
		bound: orb.Bound{
			Min: orb.Point{g.Center.X - g.LengthX/2, g.Center.Y - g.LengthY/2},
			Max: orb.Point{g.Center.X + g.LengthX/2, g.Center.Y + g.LengthY/2},
		},
	}
	for _, l := range CoreLayers {
		grid.AddLayer(l)
	}
	return grid, nil
}

// Geometry returns the effective geometry, with lengths snapped to whole cells
func (g *Grid) Geometry() Geometry { return g.geometry }

func (g *Grid) Frame() string       { return g.geometry.Frame }
func (g *Grid) Rows() int           { return g.rows }
func (g *Grid) Cols() int           { return g.cols }
func (g *Grid) Resolution() float64 { return g.geometry.Resolution }

// Bound returns the physical extent of the raster
func (g *Grid) Bound() orb.Bound { return g.bound }

// Size returns the number of cells
func (g *Grid) Size() int { return g.rows * g.cols }

func (g *Grid) offset(idx Index) int { return idx.Row*g.cols + idx.Col }

// IndexAt converts a flat cell offset back to an Index
func (g *Grid) IndexAt(offset int) Index {
	return Index{Row: offset / g.cols, Col: offset % g.cols}
}

// Contains reports whether idx addresses a cell of this grid
func (g *Grid) Contains(idx Index) bool {
	return idx.Row >= 0 && idx.Row < g.rows && idx.Col >= 0 && idx.Col < g.cols
}

// ResolveIndex returns the cell containing p. Positions outside the
// half-open extent [min, max) resolve to nothing; they are never clamped.
func (g *Grid) ResolveIndex(p orb.Point) (Index, bool) {
	if math.IsNaN(p[0]) || math.IsNaN(p[1]) || !g.bound.Contains(p) {
		return Index{}, false
	}
	res := g.geometry.Resolution
	idx := Index{
		Row: int(math.Floor((p[1] - g.bound.Min[1]) / res)),
		Col: int(math.Floor((p[0] - g.bound.Min[0]) / res)),
	}
	if !g.Contains(idx) {
		// p sits on the max edge
		return Index{}, false
	}
	return idx, true
}

// Position returns the centre of the cell at idx
func (g *Grid) Position(idx Index) orb.Point {
	res := g.geometry.Resolution
	return orb.Point{
		g.bound.Min[0] + (float64(idx.Col)+0.5)*res,
		g.bound.Min[1] + (float64(idx.Row)+0.5)*res,
	}
}

// CellBound returns the square covered by the cell at idx
func (g *Grid) CellBound(idx Index) orb.Bound {
	half := g.geometry.Resolution / 2
	c := g.Position(idx)
	return orb.Bound{
		Min: orb.Point{c[0] - half, c[1] - half},
		Max: orb.Point{c[0] + half, c[1] + half},
	}
}

// AddLayer allocates l with every cell unset. Adding an existing layer is a no-op.
func (g *Grid) AddLayer(l Layer) {
	if g.layers[l] == nil {
		g.layers[l] = newLayerData(g.Size())
	}
}

// RemoveLayer frees l. Core layers cannot be removed; they are cleared instead.
func (g *Grid) RemoveLayer(l Layer) {
	for _, core := range CoreLayers {
		if l == core {
			g.Clear(l)
			return
		}
	}
	g.layers[l] = nil
}

// HasLayer reports whether l is allocated
func (g *Grid) HasLayer(l Layer) bool {
	return g.layers[l] != nil
}

// Clear unsets every cell of l
func (g *Grid) Clear(l Layer) {
	ld := g.layers[l]
	if ld == nil {
		return
	}
	for i := range ld.valid {
		ld.valid[i] = false
		ld.values[i] = 0
	}
}

// At returns the value of l at idx and whether it is set.
// A missing layer reads as unset. idx must come from ResolveIndex or
// lie within Rows x Cols; anything else panics.
func (g *Grid) At(l Layer, idx Index) (float64, bool) {
	ld := g.layers[l]
	if ld == nil {
		return 0, false
	}
	o := g.offset(idx)
	return ld.values[o], ld.valid[o]
}

// IsValid reports whether l is set at idx
func (g *Grid) IsValid(l Layer, idx Index) bool {
	_, ok := g.At(l, idx)
	return ok
}

// Set writes v into l at idx, allocating l if needed.
// A NaN or infinite v leaves the cell unset.
func (g *Grid) Set(l Layer, idx Index, v float64) {
	g.AddLayer(l)
	if !finite(v) {
		g.Unset(l, idx)
		return
	}
	ld := g.layers[l]
	o := g.offset(idx)
	ld.values[o] = v
	ld.valid[o] = true
}

// Unset marks l at idx as holding no value
func (g *Grid) Unset(l Layer, idx Index) {
	ld := g.layers[l]
	if ld == nil {
		return
	}
	o := g.offset(idx)
	ld.values[o] = 0
	ld.valid[o] = false
}

// IsPopulated reports whether the cell carries a fused elevation.
// Other layers do not affect it.
func (g *Grid) IsPopulated(idx Index) bool {
	return g.IsValid(Elevation, idx)
}

// PopulatedCount returns the number of populated cells
func (g *Grid) PopulatedCount() int {
	n := 0
	for _, ok := range g.layers[Elevation].valid {
		if ok {
			n++
		}
	}
	return n
}

// Cell gathers every core layer at idx
func (g *Grid) Cell(idx Index) CellState {
	p := g.Position(idx)
	cs := CellState{Index: idx, X: p[0], Y: p[1]}
	cs.Elevation, cs.Populated = g.At(Elevation, idx)
	cs.Variance, _ = g.At(Variance, idx)
	n, _ := g.At(NPoint, idx)
	cs.NPoint = int(n)
	cs.SampleMean, _ = g.At(SampleMean, idx)
	cs.SampleVariance, _ = g.At(SampleVariance, idx)
	ns, _ := g.At(NSample, idx)
	cs.NSample = int(ns)
	return cs
}

// ForEachPopulated calls fn for every populated cell in row-major order
func (g *Grid) ForEachPopulated(fn func(idx Index)) {
	for o, ok := range g.layers[Elevation].valid {
		if ok {
			fn(g.IndexAt(o))
		}
	}
}

// copyLayer returns copies of the value and validity arrays of l, or nil if l is absent
func (g *Grid) copyLayer(l Layer) ([]float64, []bool) {
	ld := g.layers[l]
	if ld == nil {
		return nil, nil
	}
	values := make([]float64, len(ld.values))
	valid := make([]bool, len(ld.valid))
	copy(values, ld.values)
	copy(valid, ld.valid)
	return values, valid
}

// loadLayer replaces l with the given arrays, which must match the grid size
func (g *Grid) loadLayer(l Layer, values []float64, valid []bool) error {
	if len(values) != g.Size() || len(valid) != g.Size() {
		return fmt.Errorf("%w: %s has %d values and %d flags, grid has %d cells",
			ErrLayerShape, l, len(values), len(valid), g.Size())
	}
	ld := newLayerData(g.Size())
	for i, v := range values {
		if valid[i] && finite(v) {
			ld.values[i] = v
			ld.valid[i] = true
		}
	}
	g.layers[l] = ld
	return nil
}
