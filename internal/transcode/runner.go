package transcode

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// command describes one process invocation. Line callbacks see output as it arrives.
type command struct {
	Name     string
	Args     []string
	Dir      string
	OnStdout func(line string)
	OnStderr func(line string)
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, cmd command) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, c command) (commandResult, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	outWriter := &lineWriter{buf: &stdout, onLine: c.OnStdout}
	errWriter := &lineWriter{buf: &stderr, onLine: c.OnStderr}
	cmd.Stdout = outWriter
	cmd.Stderr = errWriter

	err := cmd.Run()
	outWriter.flush()
	errWriter.flush()

	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// lineWriter buffers everything written and forwards complete lines to onLine.
type lineWriter struct {
	buf     *bytes.Buffer
	onLine  func(string)
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if w.onLine == nil {
		return len(p), nil
	}

	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			break
		}
		w.onLine(strings.TrimRight(string(w.pending[:idx]), "\r"))
		w.pending = w.pending[idx+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if w.onLine == nil || len(w.pending) == 0 {
		return
	}
	w.onLine(strings.TrimRight(string(w.pending), "\r"))
	w.pending = nil
}
