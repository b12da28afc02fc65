package terrain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// SourceConfig is a sensor publishing point batches on an MQTT topic.
// Frame is used for payloads that do not name their own frame.
type SourceConfig struct {
	ID    string `yaml:"id" json:"id"`
	Topic string `yaml:"topic" json:"topic"`
	Frame string `yaml:"frame,omitempty" json:"frame,omitempty"`
}

// ScheduleConfig controls the smoothing pass run by the service
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval"`
	// Cells whose sample variance exceeds this are flagged unreliable
	// before each pass. Nil leaves the unreliable layer to other writers.
	UnreliableSampleVariance *float64 `yaml:"unreliableSampleVariance,omitempty" json:"unreliableSampleVariance,omitempty"`
	// Flat ground reference. Nil leaves height_ground to other writers.
	GroundHeight *float64 `yaml:"groundHeight,omitempty" json:"groundHeight,omitempty"`
}

// Config represents the full configuration file
type Config struct {
	Map          Geometry         `yaml:"map" json:"map"`
	Fusion       FusionParams     `yaml:"fusion" json:"fusion"`
	Smoothing    SmoothingParams  `yaml:"smoothing" json:"smoothing"`
	Schedule     ScheduleConfig   `yaml:"schedule" json:"schedule"`
	MQTT         MQTTConfig       `yaml:"mqtt" json:"mqtt"`
	Sources      []SourceConfig   `yaml:"sources" json:"sources"`
	Frames       []FrameTransform `yaml:"frames,omitempty" json:"frames,omitempty"`
	SnapshotPath string           `yaml:"snapshotPath,omitempty" json:"snapshotPath,omitempty"`
}

// DefaultConfig returns a 12 m x 12 m map at 0.1 m in frame "map" with
// the standard estimator constants and no sources.
func DefaultConfig() *Config {
	return &Config{
		Map: Geometry{
			Frame:      "map",
			LengthX:    12,
			LengthY:    12,
			Resolution: 0.1,
		},
		Fusion:    DefaultFusionParams(),
		Smoothing: DefaultSmoothingParams(),
		Schedule:  ScheduleConfig{Interval: time.Second},
		MQTT: MQTTConfig{
			PublishPrefix: "terramesh",
			ClientID:      "terramesh",
		},
	}
}

// Params returns the estimator tunables from the config
func (c *Config) Params() Params {
	return Params{Fusion: c.Fusion, Smoothing: c.Smoothing}
}

// GetSourceByID returns the source config for the given ID
func (c *Config) GetSourceByID(id string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].ID == id {
			return &c.Sources[i]
		}
	}
	return nil
}

// LoadConfig loads the configuration from a YAML file. Fields missing
// from the file keep their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the geometry, tunables and sources
func (c *Config) Validate() error {
	if c.Map.Frame == "" {
		return fmt.Errorf("map.frame is required")
	}
	if c.Map.Resolution <= 0 {
		return fmt.Errorf("map.resolution must be positive")
	}
	if c.Map.LengthX < c.Map.Resolution || c.Map.LengthY < c.Map.Resolution {
		return fmt.Errorf("map.lengthX and map.lengthY must be at least one cell")
	}
	if c.Fusion.GateThreshold <= 0 {
		return fmt.Errorf("fusion.gateThreshold must be positive")
	}
	if c.Smoothing.Radius <= 0 || c.Smoothing.MinDistance < 0 || c.Smoothing.MinDistance >= c.Smoothing.Radius {
		return fmt.Errorf("smoothing requires 0 <= minDistance < radius")
	}
	if c.Schedule.Interval < 0 {
		return fmt.Errorf("schedule.interval must not be negative")
	}
	if h := c.Schedule.GroundHeight; h != nil && !finite(*h) {
		return fmt.Errorf("schedule.groundHeight must be finite")
	}

	if len(c.Sources) > 0 && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when sources are defined")
	}
	for i, sc := range c.Sources {
		if sc.ID == "" {
			return fmt.Errorf("sources[%d].id is required", i)
		}
		if sc.Topic == "" {
			return fmt.Errorf("sources[%d].topic is required for %s", i, sc.ID)
		}
	}
	for i, ft := range c.Frames {
		if ft.ID == "" {
			return fmt.Errorf("frames[%d].id is required", i)
		}
		if ft.ID == c.Map.Frame {
			return fmt.Errorf("frames[%d] redefines the map frame %q", i, ft.ID)
		}
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
