package terrain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LayerSnapshot is one layer in row-major order with its validity flags
type LayerSnapshot struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
	Valid  []bool    `json:"valid"`
}

// Snapshot is a detached deep copy of an ElevationMap
type Snapshot struct {
	Geometry Geometry        `json:"geometry"`
	Rows     int             `json:"rows"`
	Cols     int             `json:"cols"`
	Batches  uint64          `json:"batches"`
	Rejected uint64          `json:"rejected"`
	TakenAt  time.Time       `json:"takenAt"`
	Layers   []LayerSnapshot `json:"layers"`
}

// Snapshot copies every allocated core and external layer
func (m *ElevationMap) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g := m.grid
	s := &Snapshot{
		Geometry: g.Geometry(),
		Rows:     g.Rows(),
		Cols:     g.Cols(),
		Batches:  m.batches,
		Rejected: m.rejected,
		TakenAt:  time.Now(),
	}
	for _, l := range append(append([]Layer{}, CoreLayers...), ExternalLayers...) {
		values, valid := g.copyLayer(l)
		if values == nil {
			continue
		}
		s.Layers = append(s.Layers, LayerSnapshot{Name: l.String(), Values: values, Valid: valid})
	}
	return s
}

// LayerSnapshot copies a single layer, if it is allocated
func (m *ElevationMap) LayerSnapshot(l Layer) (LayerSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	values, valid := m.grid.copyLayer(l)
	if values == nil {
		return LayerSnapshot{}, false
	}
	return LayerSnapshot{Name: l.String(), Values: values, Valid: valid}, true
}

// Layer returns the snapshot of l, if it was captured
func (s *Snapshot) Layer(l Layer) (*LayerSnapshot, bool) {
	for i := range s.Layers {
		if s.Layers[i].Name == l.String() {
			return &s.Layers[i], true
		}
	}
	return nil, false
}

// Grid rebuilds a standalone grid from the snapshot
func (s *Snapshot) Grid() (*Grid, error) {
	g, err := NewGrid(s.Geometry)
	if err != nil {
		return nil, err
	}
	if g.Rows() != s.Rows || g.Cols() != s.Cols {
		return nil, fmt.Errorf("%w: snapshot is %dx%d, geometry gives %dx%d",
			ErrLayerShape, s.Rows, s.Cols, g.Rows(), g.Cols())
	}
	for _, ls := range s.Layers {
		l, err := ParseLayer(ls.Name)
		if err != nil {
			return nil, err
		}
		if err := g.loadLayer(l, ls.Values, ls.Valid); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Restore replaces the map content with a snapshot taken from a map of
// the same geometry.
func (m *ElevationMap) Restore(s *Snapshot) error {
	g, err := s.Grid()
	if err != nil {
		return fmt.Errorf("rebuilding grid from snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if g.Geometry() != m.grid.Geometry() {
		return fmt.Errorf("%w: snapshot geometry %+v differs from map geometry %+v",
			ErrInvalidGeometry, g.Geometry(), m.grid.Geometry())
	}
	m.grid = g
	m.batches = s.Batches
	m.rejected = s.Rejected
	m.lastUpdate = s.TakenAt
	return nil
}

// SaveSnapshot writes a snapshot to disk as JSON
func SaveSnapshot(path string, s *Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &s, nil
}
