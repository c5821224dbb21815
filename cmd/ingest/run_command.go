package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"media-ingest/internal/bootstrap"
	"media-ingest/internal/domain"
	"media-ingest/internal/logging"
	"media-ingest/internal/pipeline"
	"media-ingest/internal/selection"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var prompt string

	cmd := &cobra.Command{
		Use:   "run <video.mp4>",
		Short: "Convert a video, upload its audio and request a transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Interrupts cancel the run so deferred cleanup removes the workspace.
			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			log := ctx.logger(cmd.ErrOrStderr())

			previews := selection.NewPreviews()
			selector := selection.NewHelper(previews, logging.Component(log, "selection"))
			defer selector.Close()

			sel, err := selector.Select([]string{strings.TrimSpace(args[0])})
			if err != nil {
				return fmt.Errorf("select video: %w", err)
			}

			services, err := bootstrap.NewServices(settings, nil, log)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := services.Close(); cerr != nil {
					log.Warn().Err(cerr).Msg("cleanup failed")
				}
			}()
			if err := services.Init(runCtx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			progress := newProgressPrinter(out, isTerminal(out))
			stop := services.Events.Subscribe(progress.handle)
			defer stop()

			var promptArg *string
			if cmd.Flags().Changed("prompt") {
				promptArg = &prompt
			}

			id, err := services.Pipeline.Start(runCtx, sel, promptArg)
			progress.finish()
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Transcription requested for media %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Keywords or context passed to the transcription service")
	return cmd
}

// progressPrinter renders run events as a rewritten line on terminals and as
// one line per phase change elsewhere.
type progressPrinter struct {
	mu          sync.Mutex
	out         io.Writer
	interactive bool
	dirty       bool
}

func newProgressPrinter(out io.Writer, interactive bool) *progressPrinter {
	return &progressPrinter{out: out, interactive: interactive}
}

func (p *progressPrinter) handle(event pipeline.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch event.Type {
	case pipeline.EventTypeProgress:
		if !p.interactive {
			return
		}
		fmt.Fprintf(p.out, "\r%-40s", event.Message)
		p.dirty = true
	case pipeline.EventTypeStatus:
		p.clearLine()
		fmt.Fprintf(p.out, "[%s] %s\n", phaseLabel(event.Phase), event.Message)
	case pipeline.EventTypeError:
		p.clearLine()
		fmt.Fprintf(p.out, "[error] %s\n", event.Message)
	}
}

func (p *progressPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLine()
}

func (p *progressPrinter) clearLine() {
	if p.dirty {
		fmt.Fprintf(p.out, "\r%-40s\r", "")
		p.dirty = false
	}
}

func phaseLabel(phase domain.Phase) string {
	if phase == "" {
		return "-"
	}
	return string(phase)
}
