package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"media-ingest/internal/config"
	"media-ingest/internal/domain"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand(ctx))

	return configCmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print effective settings after file, .env and environment overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Settings file: %s\n", ctx.store().Path())
			fmt.Fprintln(out, renderSettings(settings))
			return nil
		},
	}
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a settings file with default values",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			store := ctx.store()
			target := store.Path()

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("settings file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check settings path: %w", err)
				}
			}

			if err := store.Save(config.DefaultSettings()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default settings to %s\n", target)
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing settings if present")
	return cmd
}

func renderSettings(settings domain.Settings) string {
	return renderTable([]string{"Key", "Value"}, [][]string{
		{"api_base_url", settings.APIBaseURL},
		{"request_timeout", settings.RequestTimeout.String()},
		{"ffmpeg_path", settings.FFmpegPath},
		{"log_level", settings.LogLevel},
		{"log_format", settings.LogFormat},
	})
}
