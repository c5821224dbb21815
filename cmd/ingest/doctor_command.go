package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"media-ingest/internal/diagnostics"
	"media-ingest/internal/domain"
)

var errChecksFailed = errors.New("one or more checks failed")

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check ffmpeg, the mp3 encoder, the service address and the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			report := diagnostics.NewChecker().Run(settings)
			fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
			if report.HasFailures {
				return errChecksFailed
			}
			return nil
		},
	}
}

func renderReport(report domain.DiagnosticReport) string {
	rows := make([][]string, 0, len(report.Checks))
	for _, check := range report.Checks {
		rows = append(rows, []string{check.Name, string(check.Status), check.Message, check.Hint})
	}
	return renderTable([]string{"Check", "Status", "Message", "Hint"}, rows)
}
