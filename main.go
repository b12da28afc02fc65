package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile   string
	ReplayFile   string
	SnapshotPath string
	OutputFile   string
	Layer        string
	Format       string
	SmoothAfter  bool
	HttpPort     int
	ReplayOnly   bool
	RenderOnly   bool
	MqttMode     bool
	HttpMode     bool
	Verbose      bool
	Trace        bool
}

// Application is the set of modes main can dispatch to
type Application interface {
	ApplyOptions(opts AppOptions)
	RunReplay() error
	RunRender() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func run(args []string, stdout io.Writer, app Application) error {
	fs := flag.NewFlagSet("terramesh", flag.ContinueOnError)
	fs.SetOutput(stdout)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.ReplayFile, "replay", "", "Fuse the batches in this newline-delimited JSON file and exit")
	fs.StringVar(&opts.SnapshotPath, "snapshot", "", "Snapshot file to restore from and save to (overrides snapshotPath in config)")
	fs.StringVar(&opts.OutputFile, "output", "", "Image written by --replay and --render")
	fs.StringVar(&opts.Layer, "layer", "elevation", "Layer to render")
	fs.StringVar(&opts.Format, "format", "png", "Render format: png or svg")
	fs.BoolVar(&opts.SmoothAfter, "smooth", false, "Run one smoothing pass after --replay")
	fs.BoolVar(&opts.RenderOnly, "render", false, "Render the saved snapshot and exit")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode: fuse batches from the configured sources")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server for map images and summaries")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Log per-batch and per-pass summaries")
	fs.BoolVar(&opts.Trace, "trace", false, "Log per-point decisions (very noisy)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	opts.ReplayOnly = opts.ReplayFile != ""

	_, _ = fmt.Fprintf(stdout, "terramesh version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.ReplayOnly:
		return app.RunReplay()
	case opts.RenderOnly:
		return app.RunRender()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	_, _ = fmt.Fprintln(stdout, "terramesh: online terrain elevation mapping")
	_, _ = fmt.Fprintln(stdout, "Use --replay=FILE to fuse recorded batches")
	_, _ = fmt.Fprintln(stdout, "Use --render to output the saved map as PNG or SVG")
	_, _ = fmt.Fprintln(stdout, "Use --mqtt to fuse live batches from MQTT")
	_, _ = fmt.Fprintln(stdout, "Use --http to serve map images and summaries")
	_, _ = fmt.Fprintln(stdout, "\nConfiguration:")
	_, _ = fmt.Fprintln(stdout, "  config.yaml - map geometry, estimator tunables, MQTT sources")
	return nil
}
