package diagnostics

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"media-ingest/internal/config"
	"media-ingest/internal/domain"
)

// Check identifiers shared with the UI fix actions and the CLI doctor command.
const (
	CheckFFmpeg     = "tool_ffmpeg"
	CheckEncoder    = "encoder_libmp3lame"
	CheckAPIBaseURL = "api_base_url"
	CheckWorkspace  = "workspace"
)

const encoderListTimeout = 10 * time.Second

// Checker validates the transcoder binary, its mp3 encoder, the remote
// service address and the temporary workspace.
type Checker struct {
	lookPath   func(string) (string, error)
	output     func(ctx context.Context, name string, args ...string) ([]byte, error)
	tempDir    func() string
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	now        func() time.Time
	localBin   string
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		output:     commandOutput,
		tempDir:    os.TempDir,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		now:        time.Now,
		localBin:   config.LocalBinDir(),
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	ffmpeg, binary := c.checkFFmpeg(settings.FFmpegPath)
	checks := []domain.CheckResult{
		ffmpeg,
		c.checkEncoder(binary),
		c.checkAPIBaseURL(settings.APIBaseURL),
		c.checkWorkspace(),
	}

	hasFailures := false
	for _, check := range checks {
		if check.Status == domain.CheckFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: c.now().UTC(),
		HasFailures: hasFailures,
		Checks:      checks,
	}
}

// checkFFmpeg resolves the configured binary and returns its absolute path on success.
func (c *Checker) checkFFmpeg(name string) (domain.CheckResult, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "ffmpeg"
	}

	path, err := c.lookPath(name)
	if err != nil {
		return domain.CheckResult{
			ID:      CheckFFmpeg,
			Name:    "ffmpeg",
			Status:  domain.CheckFail,
			Message: fmt.Sprintf("Tool not found in PATH: %s", name),
			Hint:    c.ffmpegHint(),
		}, ""
	}

	return domain.CheckResult{
		ID:      CheckFFmpeg,
		Name:    "ffmpeg",
		Status:  domain.CheckPass,
		Message: fmt.Sprintf("Found at %s", path),
	}, path
}

func (c *Checker) ffmpegHint() string {
	hint := "Install ffmpeg or set ffmpeg_path to the full path of the binary."
	if c.localBin != "" {
		hint += fmt.Sprintf(" A static build placed in %s is also picked up.", c.localBin)
	}
	return hint
}

// checkEncoder asks ffmpeg for its encoder list and looks for libmp3lame.
func (c *Checker) checkEncoder(binary string) domain.CheckResult {
	result := domain.CheckResult{
		ID:   CheckEncoder,
		Name: "MP3 encoder",
	}

	if binary == "" {
		result.Status = domain.CheckWarn
		result.Message = "Skipped: ffmpeg is not available."
		return result
	}

	ctx, cancel := context.WithTimeout(context.Background(), encoderListTimeout)
	defer cancel()

	out, err := c.output(ctx, binary, "-hide_banner", "-encoders")
	if err != nil {
		result.Status = domain.CheckFail
		result.Message = fmt.Sprintf("Cannot list ffmpeg encoders: %v", err)
		result.Hint = "Check that the ffmpeg binary runs from a terminal."
		return result
	}

	if !hasEncoder(string(out), "libmp3lame") {
		result.Status = domain.CheckFail
		result.Message = "ffmpeg was built without libmp3lame."
		result.Hint = "Install an ffmpeg build that includes the LAME mp3 encoder."
		return result
	}

	result.Status = domain.CheckPass
	result.Message = "libmp3lame is available."
	return result
}

// checkAPIBaseURL validates the address of the remote media service.
func (c *Checker) checkAPIBaseURL(raw string) domain.CheckResult {
	result := domain.CheckResult{
		ID:   CheckAPIBaseURL,
		Name: "API base URL",
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		result.Status = domain.CheckFail
		result.Message = "API base URL is empty."
		result.Hint = "Set api_base_url to the media service address, e.g. http://localhost:3333."
		return result
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		result.Status = domain.CheckFail
		result.Message = fmt.Sprintf("API base URL is not a valid http(s) address: %s", raw)
		result.Hint = "Use a full URL including scheme and host."
		return result
	}

	if parsed.Scheme == "http" && !isLoopback(parsed.Hostname()) {
		result.Status = domain.CheckWarn
		result.Message = fmt.Sprintf("Media will be sent unencrypted to %s", parsed.Host)
		result.Hint = "Prefer https for services outside this machine."
		return result
	}

	result.Status = domain.CheckPass
	result.Message = fmt.Sprintf("Using %s", raw)
	return result
}

// checkWorkspace validates that the transcoder can create its temporary files.
func (c *Checker) checkWorkspace() domain.CheckResult {
	result := domain.CheckResult{
		ID:   CheckWorkspace,
		Name: "Temporary workspace",
	}

	dir := c.tempDir()
	tmpFile, err := c.createTemp(dir, ".media-ingest-check-*")
	if err != nil {
		result.Status = domain.CheckFail
		result.Message = fmt.Sprintf("Temporary directory is not writable: %s", dir)
		result.Hint = "Set TMPDIR to a writable directory with room for one video and its audio."
		return result
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	result.Status = domain.CheckPass
	result.Message = fmt.Sprintf("Writable directory: %s", dir)
	return result
}

// hasEncoder scans `ffmpeg -encoders` output, where each row is "<flags> <name> <description>".
func hasEncoder(listing, name string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

func isLoopback(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func commandOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	output func(ctx context.Context, name string, args ...string) ([]byte, error),
	tempDir func() string,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		output:     output,
		tempDir:    tempDir,
		createTemp: createTemp,
		remove:     remove,
		now:        time.Now,
		localBin:   config.LocalBinDir(),
	}
}
