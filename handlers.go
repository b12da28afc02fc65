package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/terramesh/terrain"
	"github.com/paulmach/orb"
)

// newHTTPServer creates an HTTP server with all endpoints.
// smooth runs one smoothing pass; nil disables POST /smooth.
func newHTTPServer(m *terrain.ElevationMap, smooth func() terrain.SmoothReport) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		s := m.Summary()
		status := struct {
			Status         string    `json:"status"`
			Timestamp      time.Time `json:"timestamp"`
			PopulatedCells int       `json:"populatedCells"`
			Batches        uint64    `json:"batches"`
		}{
			Status:         "ok",
			Timestamp:      time.Now(),
			PopulatedCells: s.PopulatedCells,
			Batches:        s.Batches,
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("/summary.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, m.Summary())
	})

	mux.HandleFunc("/cell", func(w http.ResponseWriter, r *http.Request) {
		x, errX := strconv.ParseFloat(r.URL.Query().Get("x"), 64)
		y, errY := strconv.ParseFloat(r.URL.Query().Get("y"), 64)
		if errX != nil || errY != nil {
			http.Error(w, "x and y query parameters are required", http.StatusBadRequest)
			return
		}
		cs, ok := m.Cell(orb.Point{x, y})
		if !ok {
			http.Error(w, "position outside the map", http.StatusNotFound)
			return
		}
		writeJSON(w, cs)
	})

	mux.HandleFunc("/elevation.png", func(w http.ResponseWriter, r *http.Request) {
		layer, ok := layerParam(w, r)
		if !ok {
			return
		}
		var buf bytes.Buffer
		if err := terrain.NewHeatmapRenderer(m, layer).WritePNG(&buf); err != nil {
			renderError(w, "/elevation.png", err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(buf.Bytes()); err != nil {
			log.Printf("[HTTP] Error writing PNG: %v", err)
		}
	})

	mux.HandleFunc("/elevation.svg", func(w http.ResponseWriter, r *http.Request) {
		layer, ok := layerParam(w, r)
		if !ok {
			return
		}
		var buf bytes.Buffer
		if err := terrain.NewVectorRenderer(m, layer).RenderToSVG(&buf); err != nil {
			renderError(w, "/elevation.svg", err)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(buf.Bytes()); err != nil {
			log.Printf("[HTTP] Error writing SVG: %v", err)
		}
	})

	mux.HandleFunc("/cells.geojson", func(w http.ResponseWriter, r *http.Request) {
		data, err := json.Marshal(m.CellsFeatureCollection())
		if err != nil {
			log.Printf("[HTTP] Error encoding cells: %v", err)
			http.Error(w, "encoding failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		if _, err := w.Write(data); err != nil {
			log.Printf("[HTTP] Error writing GeoJSON: %v", err)
		}
	})

	mux.HandleFunc("/smooth", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if smooth == nil {
			http.Error(w, "smoothing disabled", http.StatusServiceUnavailable)
			return
		}
		log.Printf("[HTTP] /smooth request from %s", r.RemoteAddr)
		writeJSON(w, smooth())
	})

	return mux
}

// layerParam parses ?layer=, defaulting to elevation
func layerParam(w http.ResponseWriter, r *http.Request) (terrain.Layer, bool) {
	name := r.URL.Query().Get("layer")
	if name == "" {
		return terrain.Elevation, true
	}
	layer, err := terrain.ParseLayer(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return layer, true
}

func renderError(w http.ResponseWriter, endpoint string, err error) {
	if errors.Is(err, terrain.ErrUnknownLayer) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	log.Printf("[HTTP] Error rendering %s: %v", endpoint, err)
	http.Error(w, "rendering failed", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Error encoding JSON: %v", err)
	}
}
