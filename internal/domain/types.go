package domain

import "time"

// Phase tracks where a single ingestion run currently is.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseConverting   Phase = "converting"
	PhaseUploading    Phase = "uploading"
	PhaseTranscribing Phase = "transcribing"
	PhaseDone         Phase = "done"
	PhaseFailed       Phase = "failed"
)

// IsTerminal reports whether no further transition can happen within the run.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// IsActive reports whether a run is between start and a terminal phase.
func (p Phase) IsActive() bool {
	switch p {
	case PhaseConverting, PhaseUploading, PhaseTranscribing:
		return true
	default:
		return false
	}
}

// RemoteMediaID is the identifier assigned by the remote service after upload.
type RemoteMediaID string

// MediaSelection is the source video chosen by the user.
type MediaSelection struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	MediaType  string    `json:"mediaType"`
	Size       int64     `json:"size"`
	SelectedAt time.Time `json:"selectedAt"`
	Data       []byte    `json:"-"`
}

// TranscodeResult is the audio payload derived from a MediaSelection.
type TranscodeResult struct {
	FileName  string `json:"fileName"`
	MediaType string `json:"mediaType"`
	Data      []byte `json:"-"`
}

// Run is a snapshot of the current pipeline run.
type Run struct {
	ID            string        `json:"id"`
	Phase         Phase         `json:"phase"`
	RemoteMediaID RemoteMediaID `json:"remoteMediaId,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	APIBaseURL     string        `json:"apiBaseUrl" mapstructure:"api_base_url" validate:"required,url"`
	RequestTimeout time.Duration `json:"requestTimeout" mapstructure:"request_timeout" validate:"gte=0"`
	FFmpegPath     string        `json:"ffmpegPath" mapstructure:"ffmpeg_path" validate:"required"`
	LogLevel       string        `json:"logLevel" mapstructure:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	LogFormat      string        `json:"logFormat" mapstructure:"log_format" validate:"omitempty,oneof=auto json console"`
}
