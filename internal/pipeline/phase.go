package pipeline

import "media-ingest/internal/domain"

// Trigger is the completion signal that moves a run between phases.
type Trigger string

const (
	TriggerStart                  Trigger = "start"
	TriggerConverted              Trigger = "converted"
	TriggerUploaded               Trigger = "uploaded"
	TriggerTranscriptionRequested Trigger = "transcription_requested"
	TriggerFail                   Trigger = "fail"
	TriggerReset                  Trigger = "reset"
)

// Next is the pure transition function of the pipeline. It returns the phase
// reached from "from" on trigger t and whether the edge exists.
func Next(from domain.Phase, t Trigger) (domain.Phase, bool) {
	switch t {
	case TriggerStart:
		if from == domain.PhaseIdle {
			return domain.PhaseConverting, true
		}
	case TriggerConverted:
		if from == domain.PhaseConverting {
			return domain.PhaseUploading, true
		}
	case TriggerUploaded:
		if from == domain.PhaseUploading {
			return domain.PhaseTranscribing, true
		}
	case TriggerTranscriptionRequested:
		if from == domain.PhaseTranscribing {
			return domain.PhaseDone, true
		}
	case TriggerFail:
		if from.IsActive() {
			return domain.PhaseFailed, true
		}
	case TriggerReset:
		if from == domain.PhaseIdle || from.IsTerminal() {
			return domain.PhaseIdle, true
		}
	}
	return from, false
}
