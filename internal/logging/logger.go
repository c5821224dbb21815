// Package logging builds the zerolog loggers shared by the desktop app and the CLI.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

const (
	FormatAuto    = "auto"
	FormatJSON    = "json"
	FormatConsole = "console"

	FieldComponent     = "component"
	FieldRunID         = "run_id"
	FieldPhase         = "phase"
	FieldRemoteMediaID = "remote_media_id"
)

// Config selects level, format and destination for a logger.
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// New returns a logger for cfg. Unknown levels fall back to info.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if useConsole(cfg.Format, out) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: !isTerminal(out)}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str(FieldComponent, name).Logger()
}

// Nop returns a disabled logger for tests and optional wiring.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func useConsole(format string, out io.Writer) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatConsole:
		return true
	case FormatJSON:
		return false
	default:
		return isTerminal(out)
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
