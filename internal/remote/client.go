// Package remote talks to the media service that stores uploads and runs transcriptions.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"media-ingest/internal/domain"
)

const (
	uploadField     = "file"
	maxErrorBodyLen = 512
)

// Client issues the two calls the ingestion pipeline needs. Neither call is retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout >= 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New builds a client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", baseURL)
	}

	c := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized service root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// createVideoResponse is the body of a successful POST /videos.
type createVideoResponse struct {
	Video struct {
		ID string `json:"id"`
	} `json:"video"`
}

// UploadAudio creates a media record from the encoded audio and returns its id.
func (c *Client) UploadAudio(ctx context.Context, audio domain.TranscodeResult) (domain.RemoteMediaID, error) {
	body, contentType, err := encodeAudioForm(audio)
	if err != nil {
		return "", &UploadError{Message: "cannot build multipart body", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/videos", body)
	if err != nil {
		return "", &UploadError{Message: "cannot build request", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	c.log.Debug().Int("bytes", len(audio.Data)).Msg("uploading audio")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &UploadError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UploadError{StatusCode: resp.StatusCode, Message: "cannot read response", Err: err}
	}
	if !isSuccess(resp.StatusCode) {
		return "", &UploadError{
			StatusCode: resp.StatusCode,
			Body:       truncate(payload),
			Message:    "service rejected upload",
		}
	}

	var decoded createVideoResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", &UploadError{
			StatusCode: resp.StatusCode,
			Body:       truncate(payload),
			Message:    "malformed response",
			Err:        err,
		}
	}

	id := strings.TrimSpace(decoded.Video.ID)
	if id == "" {
		return "", &UploadError{
			StatusCode: resp.StatusCode,
			Body:       truncate(payload),
			Message:    "response has no video id",
		}
	}

	c.log.Info().Str("remote_media_id", id).Msg("audio uploaded")
	return domain.RemoteMediaID(id), nil
}

// transcriptionRequest is the JSON body of POST /videos/{id}/transcription.
// A nil prompt omits the key entirely.
type transcriptionRequest struct {
	Prompt *string `json:"prompt,omitempty"`
}

// RequestTranscription asks the service to transcribe a previously uploaded record.
func (c *Client) RequestTranscription(ctx context.Context, id domain.RemoteMediaID, prompt *string) error {
	if strings.TrimSpace(string(id)) == "" {
		return &TranscriptionRequestError{MediaID: id, Message: "remote media id is empty"}
	}

	body, err := json.Marshal(transcriptionRequest{Prompt: prompt})
	if err != nil {
		return &TranscriptionRequestError{MediaID: id, Message: "cannot encode body", Err: err}
	}

	endpoint := c.baseURL + "/videos/" + url.PathEscape(string(id)) + "/transcription"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &TranscriptionRequestError{MediaID: id, Message: "cannot build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug().Str("remote_media_id", string(id)).Bool("has_prompt", prompt != nil).Msg("requesting transcription")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TranscriptionRequestError{MediaID: id, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	if !isSuccess(resp.StatusCode) {
		return &TranscriptionRequestError{
			MediaID:    id,
			StatusCode: resp.StatusCode,
			Body:       truncate(payload),
			Message:    "service rejected transcription request",
		}
	}
	return nil
}

// encodeAudioForm builds a multipart/form-data body with the audio under "file".
func encodeAudioForm(audio domain.TranscodeResult) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fileName := audio.FileName
	if fileName == "" {
		fileName = "audio.mp3"
	}
	contentType := audio.MediaType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		`form-data; name="`+escapeQuotes(uploadField)+`"; filename="`+escapeQuotes(fileName)+`"`)
	header.Set("Content-Type", contentType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// escapeQuotes makes s safe inside a quoted Content-Disposition parameter.
func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBodyLen {
		return s[:maxErrorBodyLen] + "..."
	}
	return s
}
