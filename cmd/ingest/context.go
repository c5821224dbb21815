package main

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"media-ingest/internal/config"
	"media-ingest/internal/domain"
	"media-ingest/internal/logging"
)

type commandContext struct {
	configFlag *string

	settingsOnce sync.Once
	settings     domain.Settings
	settingsErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) store() *config.FileStore {
	path := config.DefaultPath()
	if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
		path = strings.TrimSpace(*c.configFlag)
	}
	return config.NewFileStore(path)
}

func (c *commandContext) ensureSettings() (domain.Settings, error) {
	c.settingsOnce.Do(func() {
		c.settings, c.settingsErr = c.store().Load()
	})
	return c.settings, c.settingsErr
}

// logger writes to stderr so stdout stays clean for results.
func (c *commandContext) logger(errOut io.Writer) zerolog.Logger {
	settings, _ := c.ensureSettings()
	return logging.New(logging.Config{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
		Output: errOut,
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
