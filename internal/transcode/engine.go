package transcode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Engine is a media transcoding engine with a private workspace of named slots.
// Slot names are plain file names; they never leave the engine.
type Engine interface {
	Init(ctx context.Context) error
	WriteFile(name string, data []byte) error
	Exec(ctx context.Context, args []string, onProgress func(Progress)) (CommandLog, error)
	ReadFile(name string) ([]byte, error)
	DeleteFile(name string) error
	Close() error
}

// FFmpegEngine runs the ffmpeg binary inside a temporary workspace that exists
// between Init and Close.
type FFmpegEngine struct {
	binary    string
	runner    commandRunner
	lookPath  func(file string) (string, error)
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error

	mu       sync.Mutex
	resolved string
	workDir  string
}

// NewFFmpegEngine constructs an engine for the given ffmpeg binary name or path.
func NewFFmpegEngine(binary string) *FFmpegEngine {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpegEngine{
		binary:    binary,
		runner:    &execRunner{},
		lookPath:  exec.LookPath,
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
	}
}

// Init resolves the binary and creates the workspace. Calling Init twice is a no-op.
func (e *FFmpegEngine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.workDir != "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	resolved, err := e.lookPath(e.binary)
	if err != nil {
		return fmt.Errorf("locate %s: %w", e.binary, err)
	}

	dir, err := e.mkdirTemp("", "media-ingest-*")
	if err != nil {
		return fmt.Errorf("create engine workspace: %w", err)
	}

	e.resolved = resolved
	e.workDir = dir
	return nil
}

// WriteFile stores data in a named slot.
func (e *FFmpegEngine) WriteFile(name string, data []byte) error {
	path, err := e.slotPath(name)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ReadFile returns the contents of a named slot.
func (e *FFmpegEngine) ReadFile(name string) ([]byte, error) {
	path, err := e.slotPath(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// DeleteFile removes a named slot. Missing slots are ignored.
func (e *FFmpegEngine) DeleteFile(name string) error {
	path, err := e.slotPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exec runs ffmpeg with args relative to the workspace. onProgress may be nil.
func (e *FFmpegEngine) Exec(ctx context.Context, args []string, onProgress func(Progress)) (CommandLog, error) {
	e.mu.Lock()
	binary, dir := e.resolved, e.workDir
	e.mu.Unlock()

	if dir == "" {
		return CommandLog{}, ErrEngineNotReady
	}

	fullArgs := append([]string{
		"-hide_banner",
		"-nostdin",
		"-nostats",
		"-y",
		"-progress", "pipe:1",
	}, args...)

	tracker := newProgressTracker(onProgress)
	result, runErr := e.runner.Run(ctx, command{
		Name:     binary,
		Args:     fullArgs,
		Dir:      dir,
		OnStdout: tracker.stdoutLine,
		OnStderr: tracker.stderrLine,
	})

	log := CommandLog{
		Command:  binary,
		Args:     fullArgs,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	return log, runErr
}

// Close removes the workspace and every slot in it.
func (e *FFmpegEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.workDir == "" {
		return nil
	}
	if err := e.removeAll(e.workDir); err != nil {
		return fmt.Errorf("remove engine workspace: %w", err)
	}
	e.workDir = ""
	return nil
}

// Ready reports whether Init succeeded and Close has not been called.
func (e *FFmpegEngine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workDir != ""
}

func (e *FFmpegEngine) slotPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid slot name %q", name)
	}

	e.mu.Lock()
	dir := e.workDir
	e.mu.Unlock()

	if dir == "" {
		return "", ErrEngineNotReady
	}
	return filepath.Join(dir, name), nil
}

// newFFmpegEngineForTests constructs an engine with injectable dependencies.
func newFFmpegEngineForTests(
	binary string,
	runner commandRunner,
	lookPath func(string) (string, error),
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
) *FFmpegEngine {
	return &FFmpegEngine{
		binary:    binary,
		runner:    runner,
		lookPath:  lookPath,
		mkdirTemp: mkdirTemp,
		removeAll: removeAll,
	}
}
