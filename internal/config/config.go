// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrMaxSourcesOutOfRange is returned when MAX_SOURCES is outside 1..20.
	ErrMaxSourcesOutOfRange = errors.New("config: MAX_SOURCES must be between 1 and 20")
	// ErrSampleSizeOutOfRange is returned when DEFAULT_SAMPLE_SIZE is outside 1..MAX_SOURCES.
	ErrSampleSizeOutOfRange = errors.New("config: DEFAULT_SAMPLE_SIZE must be between 1 and MAX_SOURCES")
	// ErrListingWindowOutOfRange is returned when LISTING_WINDOW is outside 1..500.
	ErrListingWindowOutOfRange = errors.New("config: LISTING_WINDOW must be between 1 and 500")
	// ErrNegativeBuildTimeout is returned when BUILD_TIMEOUT is negative.
	ErrNegativeBuildTimeout = errors.New("config: BUILD_TIMEOUT must not be negative")
)

// sourceLimit is the hard cap on sources per trailer.
const sourceLimit = 20

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Workspace settings
	WorkDir string `env:"WORK_DIR, default=/tmp/channel-trailer" json:"work_dir"`

	// External tools
	YTDLPPath  string `env:"YTDLP_PATH, default=yt-dlp" json:"ytdlp_path"`
	FFmpegPath string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`

	// KeepToolOutput stores yt-dlp and ffmpeg stdout/stderr in the job workspace.
	// Set to false to keep only the status log.
	KeepToolOutput bool `env:"KEEP_TOOL_OUTPUT, default=true" json:"keep_tool_output"`

	// YouTube Data API settings. Channel trailers are disabled without a key.
	YouTubeAPIKey  string `env:"YOUTUBE_API_KEY" json:"-"` // Masked in JSON
	YouTubeBaseURL string `env:"YOUTUBE_BASE_URL" json:"youtube_base_url,omitempty"`

	// Build settings
	MaxSources        int           `env:"MAX_SOURCES, default=20" json:"max_sources"`
	DefaultSampleSize int           `env:"DEFAULT_SAMPLE_SIZE, default=10" json:"default_sample_size"`
	ListingWindow     int           `env:"LISTING_WINDOW, default=50" json:"listing_window"`
	BuildTimeout      time.Duration `env:"BUILD_TIMEOUT, default=15m" json:"build_timeout"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// ChannelsEnabled returns true if a YouTube Data API key is configured.
func (c *Config) ChannelsEnabled() bool {
	return c.YouTubeAPIKey != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that numeric settings are within range.
func (c *Config) Validate() error {
	if c.MaxSources < 1 || c.MaxSources > sourceLimit {
		return ErrMaxSourcesOutOfRange
	}
	if c.DefaultSampleSize < 1 || c.DefaultSampleSize > c.MaxSources {
		return ErrSampleSizeOutOfRange
	}
	if c.ListingWindow < 1 || c.ListingWindow > 500 {
		return ErrListingWindowOutOfRange
	}
	if c.BuildTimeout < 0 {
		return ErrNegativeBuildTimeout
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	apiKey := "unset"
	if c.YouTubeAPIKey != "" {
		apiKey = "***"
	}
	return fmt.Sprintf(
		"Config{Port: %d, WorkDir: %s, YTDLPPath: %s, FFmpegPath: %s, YouTubeAPIKey: %s, MaxSources: %d, DefaultSampleSize: %d, ListingWindow: %d, BuildTimeout: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.WorkDir,
		c.YTDLPPath,
		c.FFmpegPath,
		apiKey,
		c.MaxSources,
		c.DefaultSampleSize,
		c.ListingWindow,
		c.BuildTimeout,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
