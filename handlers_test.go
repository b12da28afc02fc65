package main

import (
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kwv/terramesh/terrain"
	"github.com/paulmach/orb/geojson"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func testGeometry() terrain.Geometry {
	return terrain.Geometry{Frame: "map", LengthX: 1, LengthY: 1, Resolution: 0.1, Center: terrain.Offset{X: 0.5, Y: 0.5}}
}

// populatedElevationMap returns a 10x10 map with two fused cells.
func populatedElevationMap(t *testing.T) *terrain.ElevationMap {
	t.Helper()
	m, err := terrain.NewElevationMap(testGeometry(), terrain.DefaultParams())
	if err != nil {
		t.Fatalf("NewElevationMap failed: %v", err)
	}
	_, err = m.Update(terrain.Batch{Frame: "map", Points: []terrain.Point{
		{X: 0.15, Y: 0.25, Z: 0.4, Variance: 0.02},
		{X: 0.85, Y: 0.75, Z: -0.1, Variance: 0.03},
	}})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	return m
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// JSON endpoints
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	h := newHTTPServer(populatedElevationMap(t), nil)
	w := get(t, h, "/health")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if body["populatedCells"] != float64(2) {
		t.Errorf("expected 2 populated cells, got %v", body["populatedCells"])
	}
	if _, ok := body["timestamp"]; !ok {
		t.Error("expected timestamp field")
	}
}

func TestSummaryEndpoint(t *testing.T) {
	h := newHTTPServer(populatedElevationMap(t), nil)
	w := get(t, h, "/summary.json")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var s terrain.MapSummary
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if s.Rows != 10 || s.Cols != 10 {
		t.Errorf("expected 10x10, got %dx%d", s.Cols, s.Rows)
	}
	if s.Batches != 1 {
		t.Errorf("expected 1 batch, got %d", s.Batches)
	}
	if s.MaxElevation != 0.4 || s.MinElevation != -0.1 {
		t.Errorf("unexpected elevation range %v .. %v", s.MinElevation, s.MaxElevation)
	}
}

func TestCellEndpoint(t *testing.T) {
	h := newHTTPServer(populatedElevationMap(t), nil)

	t.Run("populated", func(t *testing.T) {
		w := get(t, h, "/cell?x=0.15&y=0.25")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var cs terrain.CellState
		if err := json.Unmarshal(w.Body.Bytes(), &cs); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if !cs.Populated || cs.Elevation != 0.4 || cs.Variance != 0.02 {
			t.Errorf("unexpected cell %+v", cs)
		}
		if cs.Index != (terrain.Index{Row: 2, Col: 1}) {
			t.Errorf("expected index 2/1, got %+v", cs.Index)
		}
	})

	t.Run("empty", func(t *testing.T) {
		w := get(t, h, "/cell?x=0.5&y=0.5")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var cs terrain.CellState
		if err := json.Unmarshal(w.Body.Bytes(), &cs); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if cs.Populated {
			t.Error("expected unpopulated cell")
		}
	})

	t.Run("outside", func(t *testing.T) {
		if w := get(t, h, "/cell?x=5&y=0.5"); w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("bad params", func(t *testing.T) {
		for _, target := range []string{"/cell", "/cell?x=0.1", "/cell?x=a&y=0.1"} {
			if w := get(t, h, target); w.Code != http.StatusBadRequest {
				t.Errorf("%s: expected 400, got %d", target, w.Code)
			}
		}
	})
}

func TestCellsGeoJSONEndpoint(t *testing.T) {
	h := newHTTPServer(populatedElevationMap(t), nil)
	w := get(t, h, "/cells.geojson")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("expected application/geo+json, got %q", ct)
	}
	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	if err != nil {
		t.Fatalf("invalid GeoJSON: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Errorf("expected 2 features, got %d", len(fc.Features))
	}
}

// ---------------------------------------------------------------------------
// images
// ---------------------------------------------------------------------------

func TestElevationPNGEndpoint(t *testing.T) {
	h := newHTTPServer(populatedElevationMap(t), nil)

	for _, target := range []string{"/elevation.png", "/elevation.png?layer=variance"} {
		w := get(t, h, target)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("%s: expected image/png, got %q", target, ct)
		}
		if _, err := png.Decode(w.Body); err != nil {
			t.Errorf("%s: invalid PNG: %v", target, err)
		}
	}
}

func TestElevationSVGEndpoint(t *testing.T) {
	h := newHTTPServer(populatedElevationMap(t), nil)
	w := get(t, h, "/elevation.svg")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("expected image/svg+xml, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "<svg") {
		t.Error("expected SVG document")
	}
}

func TestImageEndpoints_LayerErrors(t *testing.T) {
	h := newHTTPServer(populatedElevationMap(t), nil)

	tests := []struct {
		target string
		want   int
	}{
		{"/elevation.png?layer=nope", http.StatusBadRequest},
		{"/elevation.svg?layer=nope", http.StatusBadRequest},
		{"/elevation.png?layer=unreliable", http.StatusNotFound},
		{"/elevation.svg?layer=height_ground", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			if w := get(t, h, tt.target); w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// smoothing
// ---------------------------------------------------------------------------

func TestSmoothEndpoint(t *testing.T) {
	calls := 0
	smooth := func() terrain.SmoothReport {
		calls++
		return terrain.SmoothReport{Candidates: 3, Smoothed: 2, NoGround: 1}
	}
	h := newHTTPServer(populatedElevationMap(t), smooth)

	req := httptest.NewRequest(http.MethodPost, "/smooth", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if calls != 1 {
		t.Errorf("expected one smoothing pass, got %d", calls)
	}
	var r terrain.SmoothReport
	if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if r.Smoothed != 2 || r.NoGround != 1 {
		t.Errorf("unexpected report %+v", r)
	}
}

func TestSmoothEndpoint_MethodNotAllowed(t *testing.T) {
	calls := 0
	h := newHTTPServer(populatedElevationMap(t), func() terrain.SmoothReport {
		calls++
		return terrain.SmoothReport{}
	})

	w := get(t, h, "/smooth")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
	if w.Header().Get("Allow") != http.MethodPost {
		t.Errorf("expected Allow: POST, got %q", w.Header().Get("Allow"))
	}
	if calls != 0 {
		t.Error("smoothing should not run on GET")
	}
}

func TestSmoothEndpoint_Disabled(t *testing.T) {
	h := newHTTPServer(populatedElevationMap(t), nil)
	req := httptest.NewRequest(http.MethodPost, "/smooth", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}
