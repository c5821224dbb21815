// Package pipeline runs one video through convert, upload and transcription
// request, exposing the current phase to observers.
package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"media-ingest/internal/domain"
	"media-ingest/internal/logging"
)

var (
	// ErrRunActive is returned when Start or Reset is called while a run is in a
	// phase that does not allow it.
	ErrRunActive = errors.New("a pipeline run is not idle")

	// ErrMissingMediaID is returned when an upload succeeded without an identifier.
	ErrMissingMediaID = errors.New("upload returned no remote media id")

	// ErrNoSelection is returned by Begin when there is nothing to run.
	ErrNoSelection = errors.New("no video selected")
)

// Transcoder converts a source payload to an audio payload.
type Transcoder interface {
	Convert(ctx context.Context, source []byte, mediaType string) (domain.TranscodeResult, error)
}

// RemoteClient is the remote service as seen by the pipeline.
type RemoteClient interface {
	UploadAudio(ctx context.Context, audio domain.TranscodeResult) (domain.RemoteMediaID, error)
	RequestTranscription(ctx context.Context, id domain.RemoteMediaID, prompt *string) error
}

// Pipeline drives one run at a time. Start blocks the caller until the run is
// done or failed; Phase and Current may be read from any goroutine.
type Pipeline struct {
	transcoder Transcoder
	remote     RemoteClient
	events     *EventBus
	log        zerolog.Logger
	newRunID   func() string

	mu  sync.RWMutex
	run domain.Run

	obsMu      sync.Mutex
	onPhase    []func(domain.Run)
	onUploaded []func(domain.RemoteMediaID)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithEventBus shares an existing event bus, e.g. with progress publishers.
func WithEventBus(bus *EventBus) Option {
	return func(p *Pipeline) {
		if bus != nil {
			p.events = bus
		}
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(next func() string) Option {
	return func(p *Pipeline) {
		if next != nil {
			p.newRunID = next
		}
	}
}

// New builds an idle pipeline around its two collaborators.
func New(transcoder Transcoder, remote RemoteClient, opts ...Option) *Pipeline {
	p := &Pipeline{
		transcoder: transcoder,
		remote:     remote,
		events:     NewEventBus(1000),
		log:        zerolog.Nop(),
		newRunID:   uuid.NewString,
		run:        domain.Run{Phase: domain.PhaseIdle},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnPhase registers an observer called after every phase change.
func (p *Pipeline) OnPhase(fn func(domain.Run)) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.onPhase = append(p.onPhase, fn)
}

// OnUploaded registers an observer called once per run when it reaches done.
func (p *Pipeline) OnUploaded(fn func(domain.RemoteMediaID)) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.onUploaded = append(p.onUploaded, fn)
}

// Phase returns the current phase.
func (p *Pipeline) Phase() domain.Phase {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.run.Phase
}

// Current returns a snapshot of the current run.
func (p *Pipeline) Current() domain.Run {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.run
}

// Events returns the bus receiving status, result and error events.
func (p *Pipeline) Events() *EventBus {
	return p.events
}

// Start runs sel through the pipeline and returns the remote media id on success.
// A nil selection is a silent no-op. Starting while the pipeline is not idle
// returns ErrRunActive and has no other effect. Collaborator errors are returned
// unchanged after the run moves to failed.
func (p *Pipeline) Start(ctx context.Context, sel *domain.MediaSelection, prompt *string) (domain.RemoteMediaID, error) {
	if sel == nil {
		p.log.Debug().Msg("start ignored: no video selected")
		return "", nil
	}

	run, err := p.Begin(sel, prompt)
	if err != nil {
		return "", err
	}
	return run(ctx)
}

// Begin claims the idle pipeline for sel and moves it to converting before
// returning. The returned func performs the run and must be called once;
// until it returns the pipeline reports an active phase.
func (p *Pipeline) Begin(sel *domain.MediaSelection, prompt *string) (func(context.Context) (domain.RemoteMediaID, error), error) {
	if sel == nil {
		return nil, ErrNoSelection
	}

	runID := p.newRunID()
	if err := p.begin(runID); err != nil {
		return nil, err
	}

	var captured *string
	if prompt != nil {
		value := *prompt
		captured = &value
	}

	log := p.log.With().Str(logging.FieldRunID, runID).Logger()
	log.Info().Str("file", sel.Name).Bool("has_prompt", captured != nil).Msg("run started")

	return func(ctx context.Context) (domain.RemoteMediaID, error) {
		return p.execute(ctx, log, runID, sel, captured)
	}, nil
}

func (p *Pipeline) execute(ctx context.Context, log zerolog.Logger, runID string, sel *domain.MediaSelection, prompt *string) (domain.RemoteMediaID, error) {
	audio, err := p.transcoder.Convert(ctx, sel.Data, sel.MediaType)
	if err != nil {
		return "", p.fail(log, err)
	}
	p.advance(log, TriggerConverted, "")

	id, err := p.remote.UploadAudio(ctx, audio)
	if err != nil {
		return "", p.fail(log, err)
	}
	if id == "" {
		return "", p.fail(log, ErrMissingMediaID)
	}
	p.advance(log, TriggerUploaded, id)

	if err := p.remote.RequestTranscription(ctx, id, prompt); err != nil {
		return "", p.fail(log, err)
	}
	p.advance(log, TriggerTranscriptionRequested, id)

	p.events.Publish(Event{
		RunID:         runID,
		Type:          EventTypeResult,
		Phase:         domain.PhaseDone,
		Message:       "Transcription requested",
		RemoteMediaID: id,
	})
	p.notifyUploaded(id)
	return id, nil
}

// Reset returns a finished pipeline to idle so a new run may start.
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	next, ok := Next(p.run.Phase, TriggerReset)
	if !ok {
		p.mu.Unlock()
		return ErrRunActive
	}
	p.run = domain.Run{Phase: next}
	snapshot := p.run
	p.mu.Unlock()

	p.publishStatus(snapshot, "Ready")
	return nil
}

func (p *Pipeline) begin(runID string) error {
	p.mu.Lock()
	next, ok := Next(p.run.Phase, TriggerStart)
	if !ok {
		phase := p.run.Phase
		p.mu.Unlock()
		p.log.Debug().Str(logging.FieldPhase, string(phase)).Msg("start ignored: run not idle")
		return ErrRunActive
	}
	p.run = domain.Run{ID: runID, Phase: next}
	snapshot := p.run
	p.mu.Unlock()

	p.publishStatus(snapshot, "Converting video")
	return nil
}

func (p *Pipeline) advance(log zerolog.Logger, t Trigger, id domain.RemoteMediaID) {
	p.mu.Lock()
	next, ok := Next(p.run.Phase, t)
	if !ok {
		from := p.run.Phase
		p.mu.Unlock()
		log.Error().Str(logging.FieldPhase, string(from)).Str("trigger", string(t)).Msg("invalid transition")
		return
	}
	p.run.Phase = next
	if id != "" {
		p.run.RemoteMediaID = id
	}
	snapshot := p.run
	p.mu.Unlock()

	log.Info().Str(logging.FieldPhase, string(next)).Str(logging.FieldRemoteMediaID, string(snapshot.RemoteMediaID)).Msg("phase changed")
	p.publishStatus(snapshot, statusMessage(next))
}

// fail moves the run to failed and hands err back to the caller.
func (p *Pipeline) fail(log zerolog.Logger, err error) error {
	p.mu.Lock()
	next, ok := Next(p.run.Phase, TriggerFail)
	if ok {
		p.run.Phase = next
		p.run.Error = err.Error()
	}
	snapshot := p.run
	p.mu.Unlock()

	log.Error().Err(err).Msg("run failed")
	if ok {
		p.publishStatus(snapshot, "Run failed")
		p.events.Publish(Event{
			RunID:         snapshot.ID,
			Type:          EventTypeError,
			Phase:         domain.PhaseFailed,
			Message:       err.Error(),
			RemoteMediaID: snapshot.RemoteMediaID,
		})
	}
	return err
}

func (p *Pipeline) publishStatus(run domain.Run, message string) {
	p.events.Publish(Event{
		RunID:         run.ID,
		Type:          EventTypeStatus,
		Phase:         run.Phase,
		Message:       message,
		RemoteMediaID: run.RemoteMediaID,
	})

	p.obsMu.Lock()
	observers := append([]func(domain.Run){}, p.onPhase...)
	p.obsMu.Unlock()
	for _, fn := range observers {
		fn(run)
	}
}

func (p *Pipeline) notifyUploaded(id domain.RemoteMediaID) {
	p.obsMu.Lock()
	observers := append([]func(domain.RemoteMediaID){}, p.onUploaded...)
	p.obsMu.Unlock()
	for _, fn := range observers {
		fn(id)
	}
}

func statusMessage(phase domain.Phase) string {
	switch phase {
	case domain.PhaseUploading:
		return "Uploading audio"
	case domain.PhaseTranscribing:
		return "Requesting transcription"
	case domain.PhaseDone:
		return "Upload finished"
	default:
		return string(phase)
	}
}
