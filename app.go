package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/terramesh/terrain"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *terrain.Config
	Map        *terrain.ElevationMap
	MQTTClient *terrain.MQTTClient
	Publisher  *terrain.Publisher
	Out        io.Writer

	ConfigFile   string
	ReplayFile   string
	SnapshotPath string
	OutputFile   string
	Layer        string
	Format       string
	SmoothAfter  bool
	HttpPort     int
	MqttMode     bool
	HttpMode     bool
	Verbose      bool
	Trace        bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{Out: os.Stdout, Layer: "elevation", Format: "png"}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.ReplayFile = opts.ReplayFile
	a.SnapshotPath = opts.SnapshotPath
	a.OutputFile = opts.OutputFile
	a.Layer = opts.Layer
	a.Format = opts.Format
	a.SmoothAfter = opts.SmoothAfter
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
	a.Verbose = opts.Verbose
	a.Trace = opts.Trace
}

// configureLogging routes the terrain log streams: ops always, diag and
// trace on request.
func (a *App) configureLogging() {
	var diag, trace io.Writer
	if a.Verbose || a.Trace {
		diag = os.Stderr
	}
	if a.Trace {
		trace = os.Stderr
	}
	terrain.SetLogWriters(os.Stderr, diag, trace)
}

// loadConfig reads the config file. A missing default config.yaml falls
// back to the built-in defaults; an explicitly named file must exist.
func (a *App) loadConfig() error {
	path := a.ConfigFile
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == "config.yaml" {
		log.Printf("No config at %s, using defaults", path)
		a.Config = terrain.DefaultConfig()
	} else {
		config, err := terrain.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		a.Config = config
		log.Printf("Loaded config from %s", path)
	}

	if a.SnapshotPath == "" {
		a.SnapshotPath = a.Config.SnapshotPath
	}
	return nil
}

// initMap builds the elevation map, applies the configured ground plane
// and restores the snapshot if one exists.
func (a *App) initMap() error {
	m, err := terrain.NewElevationMap(a.Config.Map, a.Config.Params())
	if err != nil {
		return fmt.Errorf("creating elevation map: %w", err)
	}
	a.Map = m

	g := m.Geometry()
	log.Printf("Elevation map %.2fm x %.2fm at %.3fm in frame %q", g.LengthX, g.LengthY, g.Resolution, g.Frame)

	if a.SnapshotPath != "" {
		if _, err := os.Stat(a.SnapshotPath); err == nil {
			snap, err := terrain.LoadSnapshot(a.SnapshotPath)
			if err != nil {
				return err
			}
			if err := m.Restore(snap); err != nil {
				log.Printf("Warning: ignoring snapshot %s: %v", a.SnapshotPath, err)
			} else {
				log.Printf("Restored snapshot from %s (%d batches)", a.SnapshotPath, snap.Batches)
			}
		}
	}

	if h := a.Config.Schedule.GroundHeight; h != nil {
		if err := m.SetGroundPlane(*h); err != nil {
			return fmt.Errorf("setting ground plane: %w", err)
		}
	}
	return nil
}

// setup runs the steps shared by every mode
func (a *App) setup() error {
	a.configureLogging()
	if err := a.loadConfig(); err != nil {
		return err
	}
	return a.initMap()
}

// HandleBatch brings a batch into the map frame, fuses it and publishes
// the outcome. Rejected batches are reported, never fatal.
func (a *App) HandleBatch(sourceID string, batch terrain.Batch) (terrain.UpdateReport, error) {
	batch = terrain.TransformBatch(batch, a.Map.Frame(), a.Config.Frames)

	report, err := a.Map.Update(batch)
	if err != nil {
		return report, fmt.Errorf("batch from %s rejected: %w", sourceID, err)
	}

	if a.Publisher != nil {
		if err := a.Publisher.PublishUpdate(sourceID, report); err != nil {
			log.Printf("[MQTT] Error publishing update for %s: %v", sourceID, err)
		}
		if err := a.Publisher.PublishSummary(a.Map.Summary()); err != nil {
			log.Printf("[MQTT] Error publishing summary: %v", err)
		}
	}
	return report, nil
}

// smoothOnce flags noisy cells when configured, then runs one smoothing pass
func (a *App) smoothOnce() terrain.SmoothReport {
	if v := a.Config.Schedule.UnreliableSampleVariance; v != nil {
		a.Map.MarkUnreliable(*v)
	}
	report := a.Map.Smooth()

	if a.Publisher != nil && report.Smoothed > 0 {
		if err := a.Publisher.PublishLayer(a.Map, terrain.Elevation); err != nil {
			log.Printf("[MQTT] Error publishing elevation layer: %v", err)
		}
	}
	return report
}

// RunReplay fuses a recorded batch log, then optionally smooths, saves the
// snapshot and renders the result.
func (a *App) RunReplay() error {
	if err := a.setup(); err != nil {
		return err
	}

	f, err := os.Open(a.ReplayFile)
	if err != nil {
		return fmt.Errorf("opening replay file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var rejected int
	var total terrain.UpdateReport
	n, err := terrain.ReadBatches(f, a.Map.Frame(), func(b terrain.Batch) error {
		r, err := a.HandleBatch("replay", b)
		if err != nil {
			rejected++
			log.Printf("Skipping batch: %v", err)
			return nil
		}
		total.Points += r.Points
		total.Initialized += r.Initialized
		total.Fused += r.Fused
		total.Outliers += r.Outliers
		total.OutOfBounds += r.OutOfBounds
		return nil
	})
	if err != nil {
		return fmt.Errorf("replaying %s: %w", a.ReplayFile, err)
	}

	_, _ = fmt.Fprintf(a.Out, "Replayed %d batches (%d rejected): %d points, %d new cells, %d fused, %d outliers, %d out of bounds\n",
		n, rejected, total.Points, total.Initialized, total.Fused, total.Outliers, total.OutOfBounds)

	if a.SmoothAfter {
		r := a.smoothOnce()
		_, _ = fmt.Fprintf(a.Out, "Smoothing: %d of %d unreliable cells smoothed\n", r.Smoothed, r.Candidates)
	}

	a.printSummary()

	if a.SnapshotPath != "" {
		if err := terrain.SaveSnapshot(a.SnapshotPath, a.Map.Snapshot()); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(a.Out, "Saved snapshot to %s\n", a.SnapshotPath)
	}

	if a.OutputFile != "" {
		return a.renderTo(a.OutputFile)
	}
	return nil
}

// RunRender renders the saved snapshot
func (a *App) RunRender() error {
	if err := a.setup(); err != nil {
		return err
	}
	if a.SnapshotPath == "" {
		return fmt.Errorf("--render needs a snapshot (--snapshot or snapshotPath in config)")
	}
	if a.Map.Summary().Batches == 0 && a.Map.Summary().PopulatedCells == 0 {
		log.Printf("Warning: snapshot %s holds no data", a.SnapshotPath)
	}

	output := a.OutputFile
	if output == "" {
		output = a.Layer + "." + a.Format
	}
	return a.renderTo(output)
}

func (a *App) printSummary() {
	s := a.Map.Summary()
	_, _ = fmt.Fprintf(a.Out, "Map %dx%d in %q: %d populated cells, elevation %.3f .. %.3f\n",
		s.Cols, s.Rows, s.Frame, s.PopulatedCells, s.MinElevation, s.MaxElevation)
}

// renderTo writes the selected layer to path in the selected format
func (a *App) renderTo(path string) error {
	layer, err := terrain.ParseLayer(a.Layer)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	switch strings.ToLower(a.Format) {
	case "png", "":
		err = terrain.NewHeatmapRenderer(a.Map, layer).WritePNG(&buf)
	case "svg":
		err = terrain.NewVectorRenderer(a.Map, layer).RenderToSVG(&buf)
	default:
		return fmt.Errorf("unknown format %q (want png or svg)", a.Format)
	}
	if err != nil {
		return fmt.Errorf("rendering %s: %w", layer, err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	_, _ = fmt.Fprintf(a.Out, "Rendered %s to %s\n", layer, path)
	return nil
}

// RunService runs until SIGINT or SIGTERM
func (a *App) RunService() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.serve(ctx)
}

// serve starts MQTT ingest, the HTTP server and the smoothing schedule as
// enabled, and blocks until ctx is done. The snapshot is saved on the way out.
func (a *App) serve(ctx context.Context) error {
	_, _ = fmt.Fprintln(a.Out, "Starting terramesh service...")
	if err := a.setup(); err != nil {
		return err
	}

	if a.MqttMode {
		handler := func(sourceID string, batch terrain.Batch, err error) {
			if err != nil {
				log.Printf("[MQTT] Error receiving batch from %s: %v", sourceID, err)
				return
			}
			if _, err := a.HandleBatch(sourceID, batch); err != nil {
				log.Printf("[MQTT] %v", err)
			}
		}

		mqttClient, err := terrain.InitMQTT(a.Config, handler)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if mqttClient == nil {
			return fmt.Errorf("MQTT broker not configured in %s", a.ConfigFile)
		}
		a.MQTTClient = mqttClient
		a.Publisher = terrain.NewPublisher(mqttClient.GetClient(), a.Config.MQTT.PublishPrefix)
		_, _ = fmt.Fprintln(a.Out, "MQTT publisher initialized")
	}

	var server *http.Server
	if a.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.Map, a.smoothOnce),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
			}
		}()
	}

	done := make(chan struct{})
	go a.runSchedule(ctx, done)

	a.printServiceInfo()

	<-ctx.Done()

	_, _ = fmt.Fprintln(a.Out, "\nShutting down service...")
	<-done
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if a.SnapshotPath != "" {
		if err := terrain.SaveSnapshot(a.SnapshotPath, a.Map.Snapshot()); err != nil {
			return err
		}
		log.Printf("Saved snapshot to %s", a.SnapshotPath)
	}
	_, _ = fmt.Fprintln(a.Out, "Service stopped")
	return nil
}

// runSchedule runs a smoothing pass every Schedule.Interval until ctx is
// done. A zero interval disables scheduled smoothing.
func (a *App) runSchedule(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	interval := a.Config.Schedule.Interval
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.smoothOnce()
		}
	}
}

func (a *App) printServiceInfo() {
	_, _ = fmt.Fprintln(a.Out, "\nService Running")
	_, _ = fmt.Fprintln(a.Out, "===============")

	if a.MqttMode {
		_, _ = fmt.Fprintln(a.Out, "\nMQTT:")
		_, _ = fmt.Fprintln(a.Out, "  Subscribed topics:")
		for _, sc := range a.Config.Sources {
			_, _ = fmt.Fprintf(a.Out, "    - %s (%s)\n", sc.Topic, sc.ID)
		}
		prefix := a.Publisher.Prefix()
		_, _ = fmt.Fprintf(a.Out, "  Publishing to: %s/{source}/update, %s/summary, %s/layers/{layer}\n", prefix, prefix, prefix)
	}

	if a.HttpMode {
		_, _ = fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		_, _ = fmt.Fprintln(a.Out, "  GET  /health                - Health check")
		_, _ = fmt.Fprintln(a.Out, "  GET  /summary.json          - Map summary")
		_, _ = fmt.Fprintln(a.Out, "  GET  /cell?x=&y=            - One cell")
		_, _ = fmt.Fprintln(a.Out, "  GET  /elevation.png?layer=  - Raster heatmap")
		_, _ = fmt.Fprintln(a.Out, "  GET  /elevation.svg?layer=  - Vector heatmap")
		_, _ = fmt.Fprintln(a.Out, "  GET  /cells.geojson         - Populated cells")
		_, _ = fmt.Fprintln(a.Out, "  POST /smooth                - Run one smoothing pass")
	}

	_, _ = fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}
