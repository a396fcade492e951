package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/voc/tsmon/capture"
	"github.com/voc/tsmon/pipeline"
)

// DefaultPaths are searched when no config file is given
var DefaultPaths = []string{"config.toml", "/etc/tsmon/config.toml"}

type Config struct {
	App     AppConfig     `toml:"app"`
	Queue   QueueConfig   `toml:"queue"`
	Capture CaptureConfig `toml:"capture"`
	Output  OutputConfig  `toml:"output"`
	API     APIConfig     `toml:"api"`
	Log     LogConfig     `toml:"log"`
}

type AppConfig struct {
	PacketSize           int      `toml:"packet_size"`
	PayloadOffset        int      `toml:"payload_offset"`
	BatchSize            int      `toml:"batch_size"`
	PollInterval         Duration `toml:"poll_interval"`
	NullPacketThreshold  uint64   `toml:"null_packet_threshold"`
	Hexdump              bool     `toml:"hexdump"`
	ShowTR101290         bool     `toml:"show_tr101290"`
	StickyClassification bool     `toml:"sticky_classification"`
}

type QueueConfig struct {
	Capacity uint   `toml:"capacity"`
	Policy   string `toml:"policy"`
}

// CaptureConfig selects the packet source. A ReadSize of 0 picks the
// default of the source type.
type CaptureConfig struct {
	Type       string   `toml:"type"`
	Address    string   `toml:"address"`
	Interface  string   `toml:"interface"`
	File       string   `toml:"file"`
	Loop       bool     `toml:"loop"`
	ReadSize   int      `toml:"read_size"`
	LatencyMs  uint     `toml:"latency_ms"`
	LossMaxTTL uint32   `toml:"loss_max_ttl"`
	Allow      []string `toml:"allow"`
}

type OutputConfig struct {
	JSONFile string `toml:"json_file"`
}

type APIConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	// Hostname reported by /status, looked up when empty
	Hostname string `toml:"hostname"`
}

type LogConfig struct {
	Level      slog.Level `toml:"level"`
	Format     string     `toml:"format"`
	File       string     `toml:"file"`
	MaxSizeMB  int        `toml:"max_size_mb"`
	MaxBackups int        `toml:"max_backups"`
	MaxAgeDays int        `toml:"max_age_days"`
}

// Duration is a time.Duration read from strings like "500ms"
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	x, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(x)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the configuration used when no file is found
func Default() *Config {
	return &Config{
		App: AppConfig{
			PacketSize:           188,
			PayloadOffset:        0,
			BatchSize:            1000,
			PollInterval:         Duration(time.Second),
			NullPacketThreshold:  1000,
			StickyClassification: true,
		},
		Queue: QueueConfig{
			Capacity: 1_000_000,
			Policy:   "block",
		},
		Capture: CaptureConfig{
			Type:      "udp",
			Address:   "0.0.0.0:5000",
			LatencyMs: 200,
			// Allow everything by default
			Allow: []string{"*"},
		},
		API: APIConfig{
			Enabled: true,
			Address: ":8080",
		},
		Log: LogConfig{
			Level:      slog.LevelInfo,
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Parse tries to find and parse config from paths in order
func Parse(paths []string) (*Config, error) {
	config := Default()

	var data []byte
	var err error

	// try to read file from given paths
	for _, path := range paths {
		data, err = os.ReadFile(path)
		if err == nil {
			slog.Info("read config", "path", path)
			break
		}
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return nil, err
	}

	// parse toml
	if data != nil {
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	} else {
		slog.Info("config file not found, using defaults")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that cannot be fixed by defaults
func (c *Config) Validate() error {
	if c.App.PacketSize < 188 {
		return fmt.Errorf("config: packet_size %d below 188", c.App.PacketSize)
	}
	if c.App.PayloadOffset < 0 {
		return fmt.Errorf("config: negative payload_offset %d", c.App.PayloadOffset)
	}
	if _, err := capture.ParsePolicy(c.Queue.Policy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Capture.Type {
	case "udp", "srt":
	case "file":
		if c.Capture.File == "" {
			return errors.New("config: capture type file needs capture.file")
		}
	default:
		return fmt.Errorf("config: unknown capture type %q", c.Capture.Type)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// Pipeline returns the processing settings
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		PacketSize:           c.App.PacketSize,
		PayloadOffset:        c.App.PayloadOffset,
		BatchSize:            c.App.BatchSize,
		PollInterval:         time.Duration(c.App.PollInterval),
		NullPacketThreshold:  c.App.NullPacketThreshold,
		Hexdump:              c.App.Hexdump,
		ShowTR101290:         c.App.ShowTR101290,
		StickyClassification: c.App.StickyClassification,
	}
}

// Source returns the capture settings
func (c *Config) Source() capture.Config {
	return capture.Config{
		Type:       c.Capture.Type,
		Address:    c.Capture.Address,
		Interface:  c.Capture.Interface,
		File:       c.Capture.File,
		Loop:       c.Capture.Loop,
		ReadSize:   c.Capture.ReadSize,
		LatencyMs:  c.Capture.LatencyMs,
		LossMaxTTL: c.Capture.LossMaxTTL,
		Allow:      c.Capture.Allow,
	}
}

// NewQueue creates the capture queue
func (c *Config) NewQueue() (*capture.Queue, error) {
	policy, err := capture.ParsePolicy(c.Queue.Policy)
	if err != nil {
		return nil, err
	}
	return capture.NewQueue(c.Queue.Capacity, policy), nil
}
