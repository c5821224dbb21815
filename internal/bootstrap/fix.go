package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"media-ingest/internal/config"
	"media-ingest/internal/diagnostics"
	"media-ingest/internal/domain"
)

const installCommandTimeout = 30 * time.Minute

type installOption struct {
	manager  string
	commands [][]string
}

// installer runs package manager commands; its OS hooks are swappable in tests.
type installer struct {
	goos     string
	lookPath func(string) (string, error)
	run      func(name string, args ...string) error
}

func newInstaller() *installer {
	return &installer{
		goos:     goruntime.GOOS,
		lookPath: exec.LookPath,
		run:      runCommand,
	}
}

// FixDiagnostic applies an automatic remedy for one failed check and returns
// the refreshed report.
func (a *App) FixDiagnostic(checkID string) (domain.DiagnosticReport, error) {
	return a.fixDiagnostic(newInstaller(), checkID)
}

func (a *App) fixDiagnostic(inst *installer, checkID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(checkID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic check id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	var fixErr error
	switch id {
	case diagnostics.CheckFFmpeg, diagnostics.CheckEncoder:
		fixErr = inst.installFFmpeg()
	case diagnostics.CheckAPIBaseURL:
		settings.APIBaseURL = config.DefaultSettings().APIBaseURL
		if saveErr := a.Store.Save(settings); saveErr != nil {
			return a.refreshDiagnosticsFromSettings(settings), fmt.Errorf("save settings after fix: %w", saveErr)
		}
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("no automatic fix for diagnostic check: %s", id)
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	a.reconfigure()
	if fixErr == nil && (id == diagnostics.CheckFFmpeg || id == diagnostics.CheckEncoder) {
		if err := a.ensureEngine(); err != nil {
			a.log.Warn().Err(err).Msg("transcoder still unavailable after fix")
		}
	}
	return report, fixErr
}

// installFFmpeg tries each package manager known for the OS until one succeeds.
func (i *installer) installFFmpeg() error {
	if err := i.runFirstSuccessful(ffmpegInstallOptions(i.goos)); err != nil {
		return fmt.Errorf("install ffmpeg: %w", err)
	}
	if _, err := i.lookPath("ffmpeg"); err != nil {
		return fmt.Errorf("verify ffmpeg on PATH: %w", err)
	}
	return nil
}

func ffmpegInstallOptions(goos string) []installOption {
	switch goos {
	case "windows":
		return []installOption{
			{manager: "winget", commands: [][]string{
				{"winget", "install", "--id", "Gyan.FFmpeg", "--exact", "--accept-source-agreements", "--accept-package-agreements"},
			}},
			{manager: "choco", commands: [][]string{{"choco", "install", "ffmpeg", "-y"}}},
			{manager: "scoop", commands: [][]string{{"scoop", "install", "ffmpeg"}}},
		}
	case "darwin":
		return []installOption{
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	default:
		return []installOption{
			{manager: "apt-get", commands: [][]string{
				{"apt-get", "update"},
				{"apt-get", "install", "-y", "ffmpeg"},
			}},
			{manager: "dnf", commands: [][]string{{"dnf", "install", "-y", "ffmpeg"}}},
			{manager: "pacman", commands: [][]string{{"pacman", "-Sy", "--noconfirm", "ffmpeg"}}},
			{manager: "zypper", commands: [][]string{{"zypper", "install", "-y", "ffmpeg"}}},
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	}
}

func (i *installer) runFirstSuccessful(options []installOption) error {
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", i.goos)
	}

	var attempts []string
	for _, option := range options {
		if !i.available(option.manager) {
			continue
		}
		err := i.runAll(option.commands)
		if err == nil {
			return nil
		}
		attempts = append(attempts, fmt.Sprintf("%s: %v", option.manager, err))
	}

	if len(attempts) == 0 {
		return fmt.Errorf("no supported package manager found for %s", i.goos)
	}
	return errors.New(strings.Join(attempts, " | "))
}

func (i *installer) runAll(commands [][]string) error {
	for _, command := range commands {
		if err := i.runWithPossibleElevation(command); err != nil {
			return err
		}
	}
	return nil
}

// runWithPossibleElevation retries Linux system package managers through pkexec or sudo.
func (i *installer) runWithPossibleElevation(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{command}
	if i.goos == "linux" && requiresElevation(command[0]) {
		if i.available("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if i.available("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	var attempts []string
	for _, candidate := range candidates {
		err := i.run(candidate[0], candidate[1:]...)
		if err == nil {
			return nil
		}
		attempts = append(attempts, err.Error())
	}
	return errors.New(strings.Join(attempts, " | "))
}

func (i *installer) available(name string) bool {
	_, err := i.lookPath(name)
	return err == nil
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}

func runCommand(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), installCommandTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err == nil {
		return nil
	}

	command := strings.Join(append([]string{name}, args...), " ")
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", command, installCommandTimeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	if trimmed == "" {
		return fmt.Errorf("%s failed: %w", command, err)
	}
	return fmt.Errorf("%s failed: %w (%s)", command, err, trimmed)
}

// ensureLocalBinOnPATH prepends binDir to PATH so a static ffmpeg build
// dropped there is found by diagnostics and the transcoder.
func ensureLocalBinOnPATH(binDir string) error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}
