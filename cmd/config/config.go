package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the capture daemon
type Config struct {
	// Server configuration
	Port int `envconfig:"PORT" default:"10011"`

	// Recording configuration
	Width          int    `envconfig:"CAPTURE_WIDTH" default:"1920"`
	Height         int    `envconfig:"CAPTURE_HEIGHT" default:"1080"`
	FrameRate      int    `envconfig:"FRAME_RATE" default:"30"`
	Quality        int    `envconfig:"QUALITY" default:"80"`
	DisplayNum     int    `envconfig:"DISPLAY_NUM" default:"0"`
	CaptureCursor  bool   `envconfig:"CAPTURE_CURSOR" default:"true"`
	CaptureMic     bool   `envconfig:"CAPTURE_MICROPHONE" default:"true"`
	MicDeviceID    string `envconfig:"MICROPHONE_DEVICE_ID" default:""`
	OutputRoot     string `envconfig:"OUTPUT_ROOT" default:""`
	DefaultProject string `envconfig:"DEFAULT_PROJECT" default:""`

	// Absolute or relative path to the ffmpeg binary; a bare name such as the default "ffmpeg" is looked up on $PATH. An empty value is rejected by validate.
	PathToFFmpeg string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`

	// Pre-init idle shutdown. Zero disables the idle timer.
	PreInitIdleTimeout time.Duration `envconfig:"PRE_INIT_IDLE_TIMEOUT" default:"3m"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, err
	}
	if config.OutputRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("OUTPUT_ROOT not set and home directory unknown: %w", err)
		}
		config.OutputRoot = filepath.Join(home, "Videos", "PulseDesktop")
	}
	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(config *Config) error {
	if config.Width <= 0 || config.Height <= 0 {
		return fmt.Errorf("CAPTURE_WIDTH and CAPTURE_HEIGHT must be greater than 0")
	}
	if config.FrameRate <= 0 || config.FrameRate > 120 {
		return fmt.Errorf("FRAME_RATE must be greater than 0 and less than or equal to 120")
	}
	if config.Quality < 0 || config.Quality > 100 {
		return fmt.Errorf("QUALITY must be between 0 and 100")
	}
	if config.DisplayNum < 0 {
		return fmt.Errorf("DISPLAY_NUM must be greater than or equal to 0")
	}
	if config.PathToFFmpeg == "" {
		return fmt.Errorf("FFMPEG_PATH is required")
	}
	if config.PreInitIdleTimeout < 0 {
		return fmt.Errorf("PRE_INIT_IDLE_TIMEOUT must not be negative")
	}

	return nil
}
