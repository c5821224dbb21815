package config

import (
	"os"
	"path/filepath"
	"time"

	"media-ingest/internal/domain"
)

const (
	// EnvPrefix namespaces environment overrides, e.g. MEDIA_INGEST_API_BASE_URL.
	EnvPrefix = "MEDIA_INGEST"

	keyAPIBaseURL     = "api_base_url"
	keyRequestTimeout = "request_timeout"
	keyFFmpegPath     = "ffmpeg_path"
	keyLogLevel       = "log_level"
	keyLogFormat      = "log_format"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		APIBaseURL:     "http://localhost:3333",
		RequestTimeout: 5 * time.Minute,
		FFmpegPath:     "ffmpeg",
		LogLevel:       "info",
		LogFormat:      "auto",
	}
}

// DefaultDir is the per-user directory holding settings and the optional .env file.
func DefaultDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".media-ingest")
}

// LocalBinDir is searched ahead of PATH for user-provided tools such as a
// static ffmpeg build.
func LocalBinDir() string {
	return filepath.Join(DefaultDir(), "bin")
}

// DefaultPath is the settings file used when no explicit path is given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "settings.yaml")
}
