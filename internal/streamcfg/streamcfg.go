// Package streamcfg loads the per-camera configuration file for the live
// streaming relay.
package streamcfg

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes one camera's live stream.
type Config struct {
	StreamID     string `yaml:"stream_id"`
	StreamType   string `yaml:"stream_type"` // dimension value for metrics, default "camera"
	RTSPURL      string `yaml:"rtsp_url"`
	WebsocketURL string `yaml:"websocket_url"`

	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"` // remote prefix run dirs nest under
	Region     string `yaml:"region"`
	CWNamespace string `yaml:"cloudwatch_namespace"`

	SegmentSeconds int      `yaml:"segment_seconds"`
	PlaylistSize   int      `yaml:"playlist_size"`
	Retention      Duration `yaml:"retention"` // remote segment retention window
}

// Duration unmarshals Go duration strings ("24h", "90s") from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads and validates a stream config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StreamType == "" {
		c.StreamType = "camera"
	}
	if c.S3Prefix == "" {
		c.S3Prefix = "live-stream"
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.CWNamespace == "" {
		c.CWNamespace = "CameraStream"
	}
	if c.SegmentSeconds <= 0 {
		c.SegmentSeconds = 2
	}
	if c.PlaylistSize <= 0 {
		c.PlaylistSize = 6
	}
	if c.Retention <= 0 {
		c.Retention = Duration(24 * time.Hour)
	}
}

func (c *Config) validate() error {
	if c.StreamID == "" {
		return fmt.Errorf("stream_id is required")
	}
	if c.RTSPURL == "" {
		return fmt.Errorf("rtsp_url is required")
	}
	if c.WebsocketURL == "" {
		return fmt.Errorf("websocket_url is required")
	}
	if c.S3Bucket == "" {
		return fmt.Errorf("s3_bucket is required")
	}
	return nil
}
