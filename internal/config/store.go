package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"media-ingest/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// FileStore persists settings in a single YAML file and layers env overrides on load.
type FileStore struct {
	path    string
	envFile string
}

// NewFileStore creates a settings store backed by path. An .env file next to it is
// loaded on every Load when present.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:    path,
		envFile: filepath.Join(filepath.Dir(path), ".env"),
	}
}

// Path returns the settings file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads settings from disk, applies environment overrides and validates them.
// A missing file yields defaults.
func (s *FileStore) Load() (domain.Settings, error) {
	if err := loadEnvFile(s.envFile); err != nil {
		return domain.Settings{}, err
	}

	v := newViper()
	if _, err := os.Stat(s.path); err == nil {
		v.SetConfigFile(s.path)
		if err := v.ReadInConfig(); err != nil {
			return domain.Settings{}, fmt.Errorf("read settings %s: %w", s.path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return domain.Settings{}, fmt.Errorf("stat settings %s: %w", s.path, err)
	}

	var cfg domain.Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	cfg = Normalize(cfg)

	if err := Validate(cfg); err != nil {
		return domain.Settings{}, err
	}
	return cfg, nil
}

// Save validates cfg and writes it as YAML, creating parent directories.
func (s *FileStore) Save(cfg domain.Settings) error {
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	v := viper.New()
	v.Set(keyAPIBaseURL, cfg.APIBaseURL)
	v.Set(keyRequestTimeout, cfg.RequestTimeout.String())
	v.Set(keyFFmpegPath, cfg.FFmpegPath)
	v.Set(keyLogLevel, cfg.LogLevel)
	v.Set(keyLogFormat, cfg.LogFormat)
	v.SetConfigType("yaml")

	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	return nil
}

// Normalize trims user input and fills empty values with defaults.
func Normalize(cfg domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.FFmpegPath = strings.TrimSpace(cfg.FFmpegPath)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = defaults.FFmpegPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaults.LogFormat
	}
	return cfg
}

func newViper() *viper.Viper {
	defaults := DefaultSettings()

	v := viper.New()
	v.SetDefault(keyAPIBaseURL, defaults.APIBaseURL)
	v.SetDefault(keyRequestTimeout, defaults.RequestTimeout.String())
	v.SetDefault(keyFFmpegPath, defaults.FFmpegPath)
	v.SetDefault(keyLogLevel, defaults.LogLevel)
	v.SetDefault(keyLogFormat, defaults.LogFormat)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
