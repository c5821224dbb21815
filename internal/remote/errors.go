package remote

import (
	"fmt"

	"media-ingest/internal/domain"
)

// UploadError reports a failed POST /videos.
type UploadError struct {
	StatusCode int    `json:"statusCode,omitempty"`
	Body       string `json:"body,omitempty"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

// Error formats upload failures for logs and UI.
func (e *UploadError) Error() string {
	if e == nil {
		return ""
	}
	return formatError("upload audio", e.Message, e.StatusCode, e.Err)
}

// Unwrap exposes the underlying transport or decode error.
func (e *UploadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TranscriptionRequestError reports a failed POST /videos/{id}/transcription.
type TranscriptionRequestError struct {
	MediaID    domain.RemoteMediaID `json:"mediaId"`
	StatusCode int                  `json:"statusCode,omitempty"`
	Body       string               `json:"body,omitempty"`
	Message    string               `json:"message"`
	Err        error                `json:"-"`
}

// Error formats transcription request failures for logs and UI.
func (e *TranscriptionRequestError) Error() string {
	if e == nil {
		return ""
	}
	return formatError(fmt.Sprintf("request transcription for %s", e.MediaID), e.Message, e.StatusCode, e.Err)
}

// Unwrap exposes the underlying transport error.
func (e *TranscriptionRequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func formatError(op, message string, status int, err error) string {
	switch {
	case status != 0 && err != nil:
		return fmt.Sprintf("%s: %s (status=%d): %v", op, message, status, err)
	case status != 0:
		return fmt.Sprintf("%s: %s (status=%d)", op, message, status)
	case err != nil:
		return fmt.Sprintf("%s: %s: %v", op, message, err)
	default:
		return fmt.Sprintf("%s: %s", op, message)
	}
}
