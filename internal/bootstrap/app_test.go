package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"media-ingest/internal/config"
	"media-ingest/internal/diagnostics"
	"media-ingest/internal/domain"
	"media-ingest/internal/pipeline"
	"media-ingest/internal/remote"
	"media-ingest/internal/selection"
	"media-ingest/internal/transcode"
)

// fakeStore returns deterministic settings for App tests.
type fakeStore struct {
	mu       sync.Mutex
	settings domain.Settings
	saved    int
}

// Load returns preconfigured settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

// Save records the settings.
func (s *fakeStore) Save(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.saved++
	return nil
}

// fakeEngine keeps slots in memory and "encodes" by writing a fixed payload.
// Like the real engine it refuses work before Init and after Close.
type fakeEngine struct {
	mu      sync.Mutex
	slots   map[string][]byte
	initErr error
	ready   bool
	inits   int
	closes  int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{slots: make(map[string][]byte)}
}

func (e *fakeEngine) Init(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inits++
	if e.initErr != nil {
		return e.initErr
	}
	e.ready = true
	return nil
}

func (e *fakeEngine) WriteFile(name string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return transcode.ErrEngineNotReady
	}
	e.slots[name] = data
	return nil
}

func (e *fakeEngine) Exec(_ context.Context, args []string, onProgress func(transcode.Progress)) (transcode.CommandLog, error) {
	e.mu.Lock()
	ready := e.ready
	e.mu.Unlock()
	if !ready {
		return transcode.CommandLog{}, transcode.ErrEngineNotReady
	}
	if onProgress != nil {
		onProgress(transcode.Progress{Processed: 5 * time.Second, Total: 10 * time.Second, Ratio: 0.5})
	}
	e.mu.Lock()
	e.slots[args[len(args)-1]] = []byte("mp3-audio")
	e.mu.Unlock()
	return transcode.CommandLog{Command: "ffmpeg", Args: args}, nil
}

func (e *fakeEngine) ReadFile(name string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.slots[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (e *fakeEngine) DeleteFile(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.slots, name)
	return nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	e.ready = false
	return nil
}

func (e *fakeEngine) setInitErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initErr = err
}

func (e *fakeEngine) isReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

func (e *fakeEngine) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inits, e.closes
}

// fakeRemote records calls; uploads block while gate is non-nil and open.
type fakeRemote struct {
	mu        sync.Mutex
	uploadID  domain.RemoteMediaID
	uploadErr error
	gate      chan struct{}
	uploads   int
	prompt    *string
}

func (r *fakeRemote) UploadAudio(context.Context, domain.TranscodeResult) (domain.RemoteMediaID, error) {
	r.mu.Lock()
	r.uploads++
	gate := r.gate
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uploadID, r.uploadErr
}

func (r *fakeRemote) RequestTranscription(_ context.Context, _ domain.RemoteMediaID, prompt *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompt = prompt
	return nil
}

// emitRecorder captures runtime push events.
type emitRecorder struct {
	mu     sync.Mutex
	events map[string][]interface{}
}

func (r *emitRecorder) emit(_ context.Context, name string, data ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string][]interface{})
	}
	r.events[name] = append(r.events[name], data...)
}

func (r *emitRecorder) get(name string) []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interface{}(nil), r.events[name]...)
}

type testApp struct {
	*App
	engine  *fakeEngine
	remote  *fakeRemote
	store   *fakeStore
	emitted *emitRecorder
	builds  int
}

func newTestApp(t *testing.T, client *fakeRemote) *testApp {
	t.Helper()

	settings := config.DefaultSettings()
	events := pipeline.NewEventBus(100)
	previews := selection.NewPreviews()
	ta := &testApp{
		engine:  newFakeEngine(),
		remote:  client,
		store:   &fakeStore{settings: settings},
		emitted: &emitRecorder{},
	}
	ta.App = &App{
		Settings: settings,
		Store:    ta.store,
		log:      zerolog.Nop(),
		previews: previews,
		selector: selection.NewHelper(previews, zerolog.Nop()),
		events:   events,
		emit:     ta.emitted.emit,
	}
	ta.build = func(s domain.Settings) (*Services, error) {
		ta.builds++
		ta.engine = newFakeEngine()
		return assembleServices(s, ta.engine, ta.remote, events, zerolog.Nop()), nil
	}

	services, err := ta.build(settings)
	if err != nil {
		t.Fatalf("build services: %v", err)
	}
	ta.attach(services)
	ta.stopEvents = events.Subscribe(ta.pushEvent)
	ta.runtimeCtx = context.Background()
	return ta
}

func mp4Fixture() []byte {
	box := []byte{
		0x00, 0x00, 0x00, 0x20, 'f', 't', 'y', 'p',
		'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00,
		'i', 's', 'o', 'm', 'i', 's', 'o', '2',
		'a', 'v', 'c', '1', 'm', 'p', '4', '1',
	}
	return append(box, bytes.Repeat([]byte{0}, 64)...)
}

func selectFixture(t *testing.T, app *App) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, mp4Fixture(), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}
	if _, err := app.SelectVideo(path); err != nil {
		t.Fatalf("select video: %v", err)
	}
}

// TestStartIngestWithoutSelectionIsNoop checks nothing runs before a video is picked.
func TestStartIngestWithoutSelectionIsNoop(t *testing.T) {
	client := &fakeRemote{uploadID: "abc123"}
	app := newTestApp(t, client)

	if err := app.StartIngest(nil); err != nil {
		t.Fatalf("StartIngest() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if app.CurrentRun().Phase != domain.PhaseIdle {
		t.Fatalf("phase = %s, want idle", app.CurrentRun().Phase)
	}
	if len(app.RunEvents(0)) != 0 {
		t.Fatal("no events expected")
	}
}

// TestStartIngestPublishesProgressAndResult checks the full event flow of a run.
func TestStartIngestPublishesProgressAndResult(t *testing.T) {
	client := &fakeRemote{uploadID: "abc123"}
	app := newTestApp(t, client)
	selectFixture(t, app.App)

	prompt := "hello, world"
	if err := app.StartIngest(&prompt); err != nil {
		t.Fatalf("StartIngest() error = %v", err)
	}
	prompt = "changed after start"
	waitForPhase(t, app.App, domain.PhaseDone)
	waitFor(t, "upload notification", func() bool { return len(app.emitted.get(EventUploaded)) > 0 })

	if run := app.CurrentRun(); run.RemoteMediaID != "abc123" {
		t.Fatalf("run = %+v, want remote id abc123", run)
	}
	client.mu.Lock()
	got := client.prompt
	client.mu.Unlock()
	if got == nil || *got != "hello, world" {
		t.Fatalf("prompt = %v, want hello, world", got)
	}

	events := app.RunEvents(0)
	assertEventTypeExists(t, events, pipeline.EventTypeStatus)
	assertEventTypeExists(t, events, pipeline.EventTypeProgress)
	assertEventTypeExists(t, events, pipeline.EventTypeResult)

	if pushed := app.emitted.get(EventIngest); len(pushed) != len(events) {
		t.Fatalf("pushed %d events, stored %d", len(pushed), len(events))
	}
	uploaded := app.emitted.get(EventUploaded)
	if len(uploaded) != 1 || uploaded[0] != domain.RemoteMediaID("abc123") {
		t.Fatalf("uploaded pushes = %v, want one abc123", uploaded)
	}
}

// TestStartIngestRejectsWhileRunning checks the single-run guard.
func TestStartIngestRejectsWhileRunning(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeRemote{uploadID: "abc123", gate: gate}
	app := newTestApp(t, client)
	selectFixture(t, app.App)

	if err := app.StartIngest(nil); err != nil {
		t.Fatalf("start first run: %v", err)
	}
	waitForPhase(t, app.App, domain.PhaseUploading)

	if err := app.StartIngest(nil); !errors.Is(err, pipeline.ErrRunActive) {
		t.Fatalf("second start error = %v, want %v", err, pipeline.ErrRunActive)
	}

	close(gate)
	waitForPhase(t, app.App, domain.PhaseDone)
	client.mu.Lock()
	uploads := client.uploads
	client.mu.Unlock()
	if uploads != 1 {
		t.Fatalf("uploads = %d, want 1", uploads)
	}
}

// TestFailedRunNeedsReset checks a failed run keeps the pipeline closed until reset.
func TestFailedRunNeedsReset(t *testing.T) {
	client := &fakeRemote{uploadErr: &remote.UploadError{StatusCode: 500, Message: "service rejected upload"}}
	app := newTestApp(t, client)
	selectFixture(t, app.App)

	if err := app.StartIngest(nil); err != nil {
		t.Fatalf("StartIngest() error = %v", err)
	}
	waitForPhase(t, app.App, domain.PhaseFailed)
	waitFor(t, "error event", func() bool {
		for _, event := range app.RunEvents(0) {
			if event.Type == pipeline.EventTypeError {
				return true
			}
		}
		return false
	})

	if err := app.StartIngest(nil); !errors.Is(err, pipeline.ErrRunActive) {
		t.Fatalf("start from failed error = %v, want %v", err, pipeline.ErrRunActive)
	}
	if err := app.ResetIngest(); err != nil {
		t.Fatalf("ResetIngest() error = %v", err)
	}
	if app.CurrentRun().Phase != domain.PhaseIdle {
		t.Fatalf("phase = %s, want idle", app.CurrentRun().Phase)
	}
	if len(app.emitted.get(EventUploaded)) != 0 {
		t.Fatal("failed run must not report an upload")
	}
}

// TestSaveSettingsRebuildsIdleStack checks new settings replace the transcoder and client.
func TestSaveSettingsRebuildsIdleStack(t *testing.T) {
	app := newTestApp(t, &fakeRemote{uploadID: "abc123"})
	previous := app.engine

	next := config.DefaultSettings()
	next.APIBaseURL = "https://media.example.com/"
	saved, err := app.SaveSettings(next)
	if err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	if saved.APIBaseURL != "https://media.example.com" {
		t.Fatalf("saved url = %q, want normalized", saved.APIBaseURL)
	}
	if app.builds != 2 {
		t.Fatalf("builds = %d, want 2", app.builds)
	}
	if app.currentServices().Settings.APIBaseURL != "https://media.example.com" {
		t.Fatal("current services still use the old settings")
	}
	if _, closes := previous.counts(); closes != 1 {
		t.Fatalf("previous engine closes = %d, want 1", closes)
	}
	if inits, _ := app.engine.counts(); inits != 1 {
		t.Fatalf("new engine inits = %d, want 1", inits)
	}

	if _, err := app.SaveSettings(next); err != nil {
		t.Fatalf("SaveSettings() again error = %v", err)
	}
	if app.builds != 2 {
		t.Fatalf("unchanged settings rebuilt the stack: builds = %d", app.builds)
	}
}

// TestStartIngestHoldsStackAgainstSettingsSave checks a save right after a
// start neither swaps nor closes the transcoder the accepted run uses.
func TestStartIngestHoldsStackAgainstSettingsSave(t *testing.T) {
	for i := 0; i < 20; i++ {
		app := newTestApp(t, &fakeRemote{uploadID: "abc123"})
		selectFixture(t, app.App)
		original := app.engine

		if err := app.StartIngest(nil); err != nil {
			t.Fatalf("StartIngest() error = %v", err)
		}
		if phase := app.CurrentRun().Phase; phase == domain.PhaseIdle {
			t.Fatal("pipeline still idle after StartIngest returned")
		}

		next := config.DefaultSettings()
		next.LogLevel = "debug"
		if _, err := app.SaveSettings(next); err != nil {
			t.Fatalf("SaveSettings() error = %v", err)
		}

		waitForPhase(t, app.App, domain.PhaseDone)
		if app.builds != 1 {
			t.Fatalf("builds during run = %d, want 1", app.builds)
		}
		if _, closes := original.counts(); closes != 0 {
			t.Fatalf("engine closed during run: closes = %d", closes)
		}

		if err := app.ResetIngest(); err != nil {
			t.Fatalf("ResetIngest() error = %v", err)
		}
		if app.builds != 2 {
			t.Fatalf("builds after reset = %d, want 2", app.builds)
		}
		if app.currentServices().Settings.LogLevel != "debug" {
			t.Fatal("saved settings not applied after reset")
		}
	}
}

// TestFixFFmpegRestartsTranscoder checks an ffmpeg fix revives an engine that
// failed to start, so the next run completes.
func TestFixFFmpegRestartsTranscoder(t *testing.T) {
	app := newTestApp(t, &fakeRemote{uploadID: "abc123"})
	engine := app.engine
	engine.setInitErr(errors.New("ffmpeg not found"))

	app.Startup(context.Background())
	if engine.isReady() {
		t.Fatal("engine should not be ready before the fix")
	}
	assertEventTypeExists(t, app.RunEvents(0), pipeline.EventTypeError)

	tools := map[string]bool{"brew": true}
	inst := fakeInstaller("darwin", tools, func(name string, args ...string) error {
		tools["ffmpeg"] = true
		engine.setInitErr(nil)
		return nil
	})
	if _, err := app.fixDiagnostic(inst, diagnostics.CheckFFmpeg); err != nil {
		t.Fatalf("fixDiagnostic() error = %v", err)
	}
	if !engine.isReady() {
		t.Fatal("engine not restarted after ffmpeg fix")
	}
	if app.builds != 1 {
		t.Fatalf("builds = %d, want the original stack kept", app.builds)
	}

	selectFixture(t, app.App)
	if err := app.StartIngest(nil); err != nil {
		t.Fatalf("StartIngest() error = %v", err)
	}
	waitForPhase(t, app.App, domain.PhaseDone)
	if run := app.CurrentRun(); run.RemoteMediaID != "abc123" {
		t.Fatalf("run = %+v, want remote id abc123", run)
	}
}

// TestStartIngestReportsUnavailableTranscoder checks a start without a
// working transcoder fails up front and leaves the pipeline idle.
func TestStartIngestReportsUnavailableTranscoder(t *testing.T) {
	app := newTestApp(t, &fakeRemote{uploadID: "abc123"})
	app.engine.setInitErr(errors.New("ffmpeg not found"))
	selectFixture(t, app.App)

	if err := app.StartIngest(nil); err == nil {
		t.Fatal("expected start error without a transcoder")
	}
	if phase := app.CurrentRun().Phase; phase != domain.PhaseIdle {
		t.Fatalf("phase = %s, want idle", phase)
	}
}

// TestAssetHandlerServesPreviews checks preview references route to the registry.
func TestAssetHandlerServesPreviews(t *testing.T) {
	app := newTestApp(t, &fakeRemote{uploadID: "abc123"})
	selectFixture(t, app.App)

	frontend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "frontend")
	})
	server := httptest.NewServer(app.assetHandler(frontend))
	defer server.Close()

	resp, err := http.Get(server.URL + app.PreviewURL())
	if err != nil {
		t.Fatalf("get preview: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, mp4Fixture()) {
		t.Fatalf("preview status = %d, body %d bytes", resp.StatusCode, len(body))
	}

	resp, err = http.Get(server.URL + "/index.html")
	if err != nil {
		t.Fatalf("get index: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "frontend" {
		t.Fatalf("index body = %q, want frontend", body)
	}
}

// waitForPhase polls until the run reaches desired phase or times out.
func waitForPhase(t *testing.T, app *App, want domain.Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if app.CurrentRun().Phase == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("phase = %s, want %s", app.CurrentRun().Phase, want)
}

// waitFor polls cond until it holds or times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// assertEventTypeExists verifies at least one event of given type exists.
func assertEventTypeExists(t *testing.T, events []pipeline.Event, want pipeline.EventType) {
	t.Helper()
	for _, event := range events {
		if event.Type == want {
			return
		}
	}
	t.Fatalf("event type %s not found", want)
}
