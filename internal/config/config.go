package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

type Config struct {
	LogLevel    string       `json:"log_level"`
	MetricsAddr string       `json:"metrics_addr"` // empty disables the /metrics listener
	OutputDir   string       `json:"output_dir"`
	Audio       AudioConfig  `json:"audio"`
	Video       VideoConfig  `json:"video"`
	Platform    PlatformHint `json:"platform"`
}

type AudioConfig struct {
	TargetSampleRate int     `json:"target_sample_rate"` // transcription services expect 16 kHz mono
	FramesPerBuffer  int     `json:"frames_per_buffer"`
	MicGain          float64 `json:"mic_gain"`
	SystemGain       float64 `json:"system_gain"`
	QueueDepth       int     `json:"queue_depth"`
}

type VideoConfig struct {
	Enabled       bool          `json:"enabled"`
	ChunkInterval time.Duration `json:"chunk_interval_ns"`
	FrameRate     int           `json:"frame_rate"`
	JPEGQuality   int           `json:"jpeg_quality"`
	QueueDepth    int           `json:"queue_depth"`
}

// PlatformHint identifies the meeting application whose window should be
// captured. An empty hint falls back to full-display capture.
type PlatformHint struct {
	Hint string `json:"hint"` // e.g. "zoom", "meet", "teams"
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	path := configPath()

	cfg := Default()

	// Load existing config if it exists
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Default returns the built-in defaults without touching disk.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		OutputDir: defaultOutputDir(),
		Audio: AudioConfig{
			TargetSampleRate: 16000,
			FramesPerBuffer:  512,
			MicGain:          1.0,
			SystemGain:       1.0,
			QueueDepth:       64,
		},
		Video: VideoConfig{
			Enabled:       false,
			ChunkInterval: time.Second,
			FrameRate:     10,
			JPEGQuality:   80,
			QueueDepth:    32,
		},
	}
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := configPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "meetcap", "config.json")
}

// defaultOutputDir returns the platform-specific recordings directory path
func defaultOutputDir() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, "meetcap", "recordings")
}
