// Package transcode extracts the audio track of a video into a small MP3 payload.
package transcode

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"media-ingest/internal/domain"
)

const (
	// OutputMediaType is the media type of every successful conversion.
	OutputMediaType = "audio/mpeg"
	// OutputFileName is the name the audio payload is uploaded under.
	OutputFileName = "audio.mp3"

	inputSlot    = "input.mp4"
	outputSlot   = "output.mp3"
	audioBitrate = "20k"
	audioCodec   = "libmp3lame"
)

// Adapter converts source media to audio using an Engine. The engine's lifecycle
// belongs to the caller: Init it before Convert and Close it on shutdown.
type Adapter struct {
	engine Engine
	log    zerolog.Logger

	convertMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]func(Progress)
	nextSub int
}

// NewAdapter wraps an initialized (or soon to be initialized) engine.
func NewAdapter(engine Engine, log zerolog.Logger) *Adapter {
	return &Adapter{
		engine: engine,
		log:    log,
		subs:   make(map[int]func(Progress)),
	}
}

// Subscribe registers an advisory progress observer and returns a func that removes it.
func (a *Adapter) Subscribe(fn func(Progress)) func() {
	if fn == nil {
		return func() {}
	}

	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.subMu.Unlock()

	return func() {
		a.subMu.Lock()
		delete(a.subs, id)
		a.subMu.Unlock()
	}
}

// Convert demuxes the audio stream of source, discards video and re-encodes it
// as a low bitrate MP3. Every failure is a *TranscodeError.
func (a *Adapter) Convert(ctx context.Context, source []byte, mediaType string) (domain.TranscodeResult, error) {
	a.convertMu.Lock()
	defer a.convertMu.Unlock()

	if len(source) == 0 {
		return domain.TranscodeResult{}, &TranscodeError{
			Op:      OpLoad,
			Message: "source payload is empty",
			Err:     ErrEmptySource,
		}
	}

	log := a.log.With().Str("source_media_type", mediaType).Int("source_bytes", len(source)).Logger()
	log.Debug().Msg("convert started")

	if err := a.engine.WriteFile(inputSlot, source); err != nil {
		return domain.TranscodeResult{}, loadError(err)
	}
	defer a.cleanup(log, inputSlot, outputSlot)

	args := buildEncodeArgs(inputSlot, outputSlot)
	cmdLog, runErr := a.engine.Exec(ctx, args, a.publish)
	if runErr != nil {
		if errors.Is(runErr, ErrEngineNotReady) {
			return domain.TranscodeResult{}, &TranscodeError{Op: OpInit, Message: "engine is not initialized", Err: runErr}
		}
		err := classifyEncodeFailure(cmdLog, runErr)
		message := "audio encode failed"
		if errors.Is(err, ErrNoAudioStream) {
			message = "source has no audio stream"
		}
		return domain.TranscodeResult{}, &TranscodeError{
			Op:         OpEncode,
			Message:    message,
			CommandLog: cmdLog,
			Err:        err,
		}
	}

	data, err := a.engine.ReadFile(outputSlot)
	if err != nil {
		return domain.TranscodeResult{}, &TranscodeError{
			Op:         OpRead,
			Message:    "engine completed but output is missing",
			CommandLog: cmdLog,
			Err:        err,
		}
	}
	if len(data) == 0 {
		return domain.TranscodeResult{}, &TranscodeError{
			Op:         OpRead,
			Message:    "engine completed but output is empty",
			CommandLog: cmdLog,
			Err:        ErrEmptyOutput,
		}
	}

	log.Debug().Int("audio_bytes", len(data)).Msg("convert finished")
	return domain.TranscodeResult{
		FileName:  OutputFileName,
		MediaType: OutputMediaType,
		Data:      data,
	}, nil
}

func (a *Adapter) publish(p Progress) {
	a.subMu.Lock()
	subs := make([]func(Progress), 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	a.subMu.Unlock()

	for _, fn := range subs {
		fn(p)
	}
}

func (a *Adapter) cleanup(log zerolog.Logger, slots ...string) {
	for _, slot := range slots {
		if err := a.engine.DeleteFile(slot); err != nil && !errors.Is(err, ErrEngineNotReady) {
			log.Warn().Err(err).Str("slot", slot).Msg("failed to release engine slot")
		}
	}
}

func loadError(err error) *TranscodeError {
	if errors.Is(err, ErrEngineNotReady) {
		return &TranscodeError{Op: OpInit, Message: "engine is not initialized", Err: err}
	}
	return &TranscodeError{Op: OpLoad, Message: "cannot load source into engine", Err: err}
}

// buildEncodeArgs keeps only the first input's audio and encodes it as MP3.
func buildEncodeArgs(input, output string) []string {
	return []string{
		"-i", input,
		"-map", "0:a",
		"-b:a", audioBitrate,
		"-acodec", audioCodec,
		output,
	}
}
