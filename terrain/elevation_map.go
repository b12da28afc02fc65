package terrain

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
)

// Params groups the tunables of the per-cell estimator
type Params struct {
	Fusion    FusionParams    `yaml:"fusion" json:"fusion"`
	Smoothing SmoothingParams `yaml:"smoothing" json:"smoothing"`
}

// DefaultParams returns the standard gate and smoothing constants
func DefaultParams() Params {
	return Params{
		Fusion:    DefaultFusionParams(),
		Smoothing: DefaultSmoothingParams(),
	}
}

// ElevationMap owns a Grid and serializes every access to it.
//
// Update and Smooth hold the write lock for their whole run, so a batch
// is either fully applied or rejected before anything else sees the
// raster. Batches are fused in the order Update is called; callers must
// deliver them in arrival order.
type ElevationMap struct {
	mu     sync.RWMutex
	grid   *Grid
	params Params

	batches    uint64
	rejected   uint64
	lastUpdate time.Time
}

// NewElevationMap creates a map with every cell empty
func NewElevationMap(geometry Geometry, params Params) (*ElevationMap, error) {
	grid, err := NewGrid(geometry)
	if err != nil {
		return nil, err
	}
	return &ElevationMap{grid: grid, params: params}, nil
}

// Update fuses one batch into the map.
//
// A batch in another frame, or without points, is rejected as a whole
// and leaves the map untouched. Otherwise the batch is downsampled to one
// measurement per cell and fused, and every raw point then feeds the
// diagnostic sample statistics.
func (m *ElevationMap) Update(batch Batch) (UpdateReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := UpdateReport{Frame: batch.Frame, Points: len(batch.Points)}

	if batch.Frame != m.grid.Frame() {
		m.rejected++
		opsf("batch frame is %q but elevation map has %q, skipping update", batch.Frame, m.grid.Frame())
		return report, fmt.Errorf("%w: got %q, want %q", ErrFrameMismatch, batch.Frame, m.grid.Frame())
	}
	if len(batch.Points) == 0 {
		m.rejected++
		opsf("batch is empty, skipping update")
		return report, ErrEmptyBatch
	}

	measurements := downsample(m.grid, batch.Points, &report)
	report.Cells = len(measurements)

	// downsample already counted non-finite and out-of-bounds points
	var fusion UpdateReport
	fuse(m.grid, measurements, m.params.Fusion, &fusion)
	report.InvalidVariance = fusion.InvalidVariance
	report.Initialized = fusion.Initialized
	report.Fused = fusion.Fused
	report.Outliers = fusion.Outliers

	report.Samples = accumulateSamples(m.grid, batch.Points)

	m.batches++
	m.lastUpdate = time.Now()
	diagf("batch %d: %d points -> %d cells, %d new, %d fused, %d outliers, %d out of bounds, %d invalid variance",
		m.batches, report.Points, report.Cells, report.Initialized, report.Fused,
		report.Outliers, report.OutOfBounds, report.InvalidVariance)
	return report, nil
}

// Smooth runs one smoothing pass over the whole raster
func (m *ElevationMap) Smooth() SmoothReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := smooth(m.grid, m.params.Smoothing)
	diagf("smoothing: %d candidates, %d smoothed, %d without neighbours, %d above ground, %d without ground",
		r.Candidates, r.Smoothed, r.NoNeighbors, r.AboveGround, r.NoGround)
	return r
}

// MarkUnreliable rebuilds the unreliable layer: a populated cell is flagged
// when its sample variance exceeds maxSampleVariance. It returns the
// number of flagged cells.
func (m *ElevationMap) MarkUnreliable(maxSampleVariance float64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.grid
	g.AddLayer(Unreliable)
	g.Clear(Unreliable)

	flagged := 0
	g.ForEachPopulated(func(idx Index) {
		v, ok := g.At(SampleVariance, idx)
		if ok && v > maxSampleVariance {
			g.Set(Unreliable, idx, 1)
			flagged++
		}
	})
	return flagged
}

// SetGroundPlane sets the ground reference of every cell to height
func (m *ElevationMap) SetGroundPlane(height float64) error {
	if !finite(height) {
		return fmt.Errorf("%w: ground height %v", ErrInvalidValue, height)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.grid
	g.AddLayer(GroundHeight)
	for o := 0; o < g.Size(); o++ {
		g.Set(GroundHeight, g.IndexAt(o), height)
	}
	return nil
}

// SetLayer replaces an external input layer. values and valid are in
// row-major order and must match the grid size.
func (m *ElevationMap) SetLayer(l Layer, values []float64, valid []bool) error {
	if !l.IsExternal() {
		return fmt.Errorf("%w: %s is not an input layer", ErrUnknownLayer, l)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grid.loadLayer(l, values, valid)
}

// Reset empties every cell. Geometry and frame are kept.
func (m *ElevationMap) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range CoreLayers {
		m.grid.Clear(l)
	}
	for _, l := range ExternalLayers {
		m.grid.RemoveLayer(l)
	}
	m.batches = 0
	m.rejected = 0
	m.lastUpdate = time.Time{}
}

// View runs fn with shared access to the grid. fn must not keep the grid
// or modify it.
func (m *ElevationMap) View(fn func(g *Grid)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.grid)
}

// Cell returns the state of the cell containing p
func (m *ElevationMap) Cell(p orb.Point) (CellState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.grid.ResolveIndex(p)
	if !ok {
		return CellState{}, false
	}
	return m.grid.Cell(idx), true
}

// Geometry returns the effective raster geometry
func (m *ElevationMap) Geometry() Geometry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grid.Geometry()
}

// Frame returns the coordinate frame batches must be expressed in
func (m *ElevationMap) Frame() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grid.Frame()
}

// Params returns the estimator tunables
func (m *ElevationMap) Params() Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params
}

// Summary describes the current map state
func (m *ElevationMap) Summary() MapSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g := m.grid
	s := MapSummary{
		Frame:        g.Frame(),
		Rows:         g.Rows(),
		Cols:         g.Cols(),
		Resolution:   g.Resolution(),
		Batches:      m.batches,
		Rejected:     m.rejected,
		LastUpdate:   m.lastUpdate,
		MinElevation: math.Inf(1),
		MaxElevation: math.Inf(-1),
	}
	g.ForEachPopulated(func(idx Index) {
		s.PopulatedCells++
		z, _ := g.At(Elevation, idx)
		s.MinElevation = math.Min(s.MinElevation, z)
		s.MaxElevation = math.Max(s.MaxElevation, z)
	})
	if s.PopulatedCells == 0 {
		s.MinElevation, s.MaxElevation = 0, 0
	}
	return s
}
