package transcode

import (
	"errors"
	"fmt"
	"strings"
)

// Operations reported by TranscodeError.
const (
	OpInit   = "init"
	OpLoad   = "load"
	OpEncode = "encode"
	OpRead   = "read"
)

var (
	// ErrEngineNotReady is returned when the engine is used before Init or after Close.
	ErrEngineNotReady = errors.New("transcoding engine is not initialized")

	// ErrNoAudioStream is returned when the source has no audio stream to extract.
	ErrNoAudioStream = errors.New("source has no audio stream")

	// ErrEmptySource is returned when the source payload has no bytes.
	ErrEmptySource = errors.New("source payload is empty")

	// ErrEmptyOutput is returned when the engine finished without producing audio.
	ErrEmptyOutput = errors.New("engine produced an empty audio payload")
)

// TranscodeError is an operation-aware conversion failure with optional command context.
type TranscodeError struct {
	Op         string     `json:"op"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats conversion failures for logs and UI.
func (e *TranscodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("transcode %s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf(
		"transcode %s: %s (cmd=%s exit=%d)",
		e.Op,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *TranscodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// noAudioMarkers are ffmpeg diagnostics printed when "-map 0:a" selects nothing.
var noAudioMarkers = []string{
	"matches no streams",
	"does not contain any stream",
	"Output file #0 does not contain any stream",
}

// classifyEncodeFailure turns an engine failure into the error the caller can match on.
func classifyEncodeFailure(log CommandLog, runErr error) error {
	for _, marker := range noAudioMarkers {
		if strings.Contains(log.Stderr, marker) {
			return fmt.Errorf("%w: %v", ErrNoAudioStream, runErr)
		}
	}
	return runErr
}
