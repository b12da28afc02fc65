package main

import (
	"bytes"
	"errors"
	"flag"
	"strings"
	"testing"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	err    error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunReplay() error             { m.called["RunReplay"] = true; return m.err }
func (m *mockApp) RunRender() error             { m.called["RunRender"] = true; return m.err }
func (m *mockApp) RunService() error            { m.called["RunService"] = true; return m.err }

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Replay",
			args:           []string{"--replay", "scans.ndjson", "--snapshot", "map.json", "--smooth"},
			expectedCalled: "RunReplay",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ReplayFile != "scans.ndjson" {
					t.Errorf("expected ReplayFile scans.ndjson, got %s", opts.ReplayFile)
				}
				if !opts.ReplayOnly {
					t.Error("expected ReplayOnly true")
				}
				if opts.SnapshotPath != "map.json" {
					t.Errorf("expected SnapshotPath map.json, got %s", opts.SnapshotPath)
				}
				if !opts.SmoothAfter {
					t.Error("expected SmoothAfter true")
				}
			},
		},
		{
			name:           "Render",
			args:           []string{"--render", "--output", "out.svg", "--format", "svg", "--layer", "variance"},
			expectedCalled: "RunRender",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.OutputFile != "out.svg" {
					t.Errorf("expected OutputFile out.svg, got %s", opts.OutputFile)
				}
				if opts.Format != "svg" {
					t.Errorf("expected Format svg, got %s", opts.Format)
				}
				if opts.Layer != "variance" {
					t.Errorf("expected Layer variance, got %s", opts.Layer)
				}
				if !opts.RenderOnly {
					t.Error("expected RenderOnly true")
				}
			},
		},
		{
			name:           "Replay wins over render",
			args:           []string{"--render", "--replay", "scans.ndjson"},
			expectedCalled: "RunReplay",
		},
		{
			name:           "MQTT",
			args:           []string{"--mqtt", "--verbose"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.MqttMode {
					t.Error("expected MqttMode true")
				}
				if !opts.Verbose {
					t.Error("expected Verbose true")
				}
			},
		},
		{
			name:           "HTTP",
			args:           []string{"--http", "--http-port", "9090", "--trace"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.HttpMode {
					t.Error("expected HttpMode true")
				}
				if opts.HttpPort != 9090 {
					t.Errorf("expected HttpPort 9090, got %d", opts.HttpPort)
				}
				if !opts.Trace {
					t.Error("expected Trace true")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			if err := run(tt.args, &out, app); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called, got %v", tt.expectedCalled, app.called)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one mode, got %v", app.called)
			}
			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_Defaults(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run(nil, &out, app); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(app.called) != 0 {
		t.Errorf("expected no mode to run, got %v", app.called)
	}
	if app.opts.ConfigFile != "config.yaml" {
		t.Errorf("expected default config.yaml, got %s", app.opts.ConfigFile)
	}
	if app.opts.Layer != "elevation" {
		t.Errorf("expected default layer elevation, got %s", app.opts.Layer)
	}
	if app.opts.Format != "png" {
		t.Errorf("expected default format png, got %s", app.opts.Format)
	}
	if app.opts.HttpPort != 8080 {
		t.Errorf("expected default port 8080, got %d", app.opts.HttpPort)
	}

	output := out.String()
	if !strings.Contains(output, "terramesh version: "+Version) {
		t.Errorf("expected version line, got %q", output)
	}
	if !strings.Contains(output, "terramesh: online terrain elevation mapping") {
		t.Errorf("expected usage hints, got %q", output)
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected flag.ErrHelp, got %v", err)
	}
	if !strings.Contains(out.String(), "Usage of terramesh") {
		t.Errorf("expected usage output, got %q", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("expected no mode to run, got %v", app.called)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--parse-only"}, &out, newMockApp()); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestRun_PropagatesModeError(t *testing.T) {
	app := newMockApp()
	app.err = errors.New("boom")
	var out bytes.Buffer
	if err := run([]string{"--render"}, &out, app); err == nil || err.Error() != "boom" {
		t.Errorf("expected boom, got %v", err)
	}
}
