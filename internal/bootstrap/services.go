package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"media-ingest/internal/domain"
	"media-ingest/internal/logging"
	"media-ingest/internal/pipeline"
	"media-ingest/internal/remote"
	"media-ingest/internal/transcode"
)

// Services is one wired ingest stack built from a settings snapshot. The desktop
// App and the CLI share it.
type Services struct {
	Settings domain.Settings
	Pipeline *pipeline.Pipeline
	Events   *pipeline.EventBus

	engine      transcode.Engine
	unsubscribe func()
}

// NewServices builds the ffmpeg engine, remote client and pipeline for settings.
// The engine is not started; call Init before the first run.
func NewServices(settings domain.Settings, events *pipeline.EventBus, log zerolog.Logger) (*Services, error) {
	client, err := remote.New(
		settings.APIBaseURL,
		remote.WithTimeout(settings.RequestTimeout),
		remote.WithLogger(logging.Component(log, "remote")),
	)
	if err != nil {
		return nil, fmt.Errorf("build remote client: %w", err)
	}

	engine := transcode.NewFFmpegEngine(settings.FFmpegPath)
	return assembleServices(settings, engine, client, events, log), nil
}

// assembleServices connects an engine and a remote client through the pipeline
// and forwards conversion progress to the event bus.
func assembleServices(
	settings domain.Settings,
	engine transcode.Engine,
	client pipeline.RemoteClient,
	events *pipeline.EventBus,
	log zerolog.Logger,
) *Services {
	if events == nil {
		events = pipeline.NewEventBus(1000)
	}

	adapter := transcode.NewAdapter(engine, logging.Component(log, "transcode"))
	p := pipeline.New(
		adapter,
		client,
		pipeline.WithLogger(logging.Component(log, "pipeline")),
		pipeline.WithEventBus(events),
	)

	s := &Services{
		Settings: settings,
		Pipeline: p,
		Events:   events,
		engine:   engine,
	}
	s.unsubscribe = adapter.Subscribe(func(progress transcode.Progress) {
		run := p.Current()
		events.Publish(pipeline.Event{
			RunID:   run.ID,
			Type:    pipeline.EventTypeProgress,
			Phase:   run.Phase,
			Message: progressMessage(progress),
			Ratio:   progress.Ratio,
		})
	})
	return s
}

// Init starts the transcoding engine.
func (s *Services) Init(ctx context.Context) error {
	if err := s.engine.Init(ctx); err != nil {
		return fmt.Errorf("start transcoder: %w", err)
	}
	return nil
}

// Close stops progress forwarding and tears the engine down.
func (s *Services) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if err := s.engine.Close(); err != nil {
		return fmt.Errorf("stop transcoder: %w", err)
	}
	return nil
}

// logFailure adds the failed ffmpeg invocation to the log when err carries one.
func logFailure(log zerolog.Logger, err error) {
	var tErr *transcode.TranscodeError
	if errors.As(err, &tErr) && tErr.CommandLog.Command != "" {
		log.Error().
			Err(err).
			Str("command", tErr.CommandLog.Command).
			Strs("args", tErr.CommandLog.Args).
			Int("exit_code", tErr.CommandLog.ExitCode).
			Str("stderr", tErr.CommandLog.Stderr).
			Msg("transcoder command failed")
		return
	}
	log.Error().Err(err).Msg("ingest run failed")
}

func progressMessage(p transcode.Progress) string {
	if p.Done {
		return "Conversion finished"
	}
	if p.Total > 0 {
		return fmt.Sprintf("Converting %.0f%%", p.Ratio*100)
	}
	return "Converting " + p.Processed.Truncate(time.Second).String()
}
