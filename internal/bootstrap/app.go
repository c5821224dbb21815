package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"media-ingest/internal/config"
	"media-ingest/internal/diagnostics"
	"media-ingest/internal/domain"
	"media-ingest/internal/logging"
	"media-ingest/internal/pipeline"
	"media-ingest/internal/selection"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// Push event names consumed by the frontend.
const (
	EventIngest   = "ingest:event"
	EventUploaded = "ingest:uploaded"
)

var videoDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "MP4 video",
		Pattern:     "*.mp4",
	},
}

// App wires configuration, selection, the ingest pipeline and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Diagnostics domain.DiagnosticReport
	checker     *diagnostics.Checker
	log         zerolog.Logger

	previews *selection.Previews
	selector *selection.Helper
	events   *pipeline.EventBus
	build    func(domain.Settings) (*Services, error)
	emit     func(ctx context.Context, name string, data ...interface{})

	// opMu orders run starts against stack swaps.
	opMu sync.Mutex

	mu         sync.Mutex
	services   *Services
	runtimeCtx context.Context
	stopEvents func()
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	if err := ensureLocalBinOnPATH(config.LocalBinDir()); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewFileStore(config.DefaultPath())
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	log := logging.Component(logging.New(logging.Config{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
	}), "app")

	events := pipeline.NewEventBus(1000)
	previews := selection.NewPreviews()
	checker := diagnostics.NewChecker()

	app := &App{
		Settings:    settings,
		Store:       store,
		Diagnostics: checker.Run(settings),
		checker:     checker,
		log:         log,
		previews:    previews,
		selector:    selection.NewHelper(previews, logging.Component(log, "selection")),
		events:      events,
		build: func(s domain.Settings) (*Services, error) {
			return NewServices(s, events, log)
		},
		emit: wailsruntime.EventsEmit,
	}

	services, err := app.build(settings)
	if err != nil {
		return nil, err
	}
	app.attach(services)
	app.stopEvents = events.Subscribe(app.pushEvent)

	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	return wails.Run(&options.App{
		Title:  "Media Ingest",
		Width:  960,
		Height: 720,
		AssetServer: &assetserver.Options{
			Handler: a.assetHandler(http.FileServer(http.Dir("./frontend"))),
		},
		OnStartup:  a.Startup,
		OnShutdown: a.Shutdown,
		Bind:       []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events and starts the transcoder.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	services := a.services
	a.mu.Unlock()

	if err := services.Init(ctx); err != nil {
		a.log.Error().Err(err).Msg("transcoder unavailable")
		a.events.Publish(pipeline.Event{
			Type:    pipeline.EventTypeError,
			Message: err.Error(),
		})
	}
}

// Shutdown releases the preview reference and the transcoder workspace.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = nil
	services := a.services
	stop := a.stopEvents
	a.mu.Unlock()

	if stop != nil {
		stop()
	}
	a.selector.Close()
	if err := services.Close(); err != nil {
		a.log.Warn().Err(err).Msg("shutdown cleanup failed")
	}
}

// PickVideoFile opens a native file dialog and selects the chosen video.
// Cancelling the dialog keeps the current selection.
func (a *App) PickVideoFile() (*domain.MediaSelection, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select video",
		Filters: videoDialogFilter,
	})
	if err != nil {
		return nil, err
	}

	return a.SelectVideo(path)
}

// SelectVideo replaces the selection with the file at path. An empty path is a no-op.
func (a *App) SelectVideo(path string) (*domain.MediaSelection, error) {
	var paths []string
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		paths = append(paths, trimmed)
	}
	return a.selector.Select(paths)
}

// CurrentSelection returns the selected video, or nil.
func (a *App) CurrentSelection() *domain.MediaSelection {
	return a.selector.Current()
}

// PreviewURL returns the playable reference for the current selection, or "".
func (a *App) PreviewURL() string {
	return a.selector.PreviewURL()
}

// StartIngest launches a run for the current selection and returns once the
// pipeline has left idle. Progress and outcome are pushed as events. Without a
// selection it does nothing.
func (a *App) StartIngest(prompt *string) error {
	sel := a.selector.Current()
	if sel == nil {
		return nil
	}

	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.reconfigureLocked()
	services := a.currentServices()
	if err := services.Init(a.initContext()); err != nil {
		return err
	}

	run, err := services.Pipeline.Begin(sel, prompt)
	if err != nil {
		return err
	}

	go a.runIngest(run)
	return nil
}

// ResetIngest returns a finished pipeline to idle and applies saved settings.
func (a *App) ResetIngest() error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	if err := a.currentServices().Pipeline.Reset(); err != nil {
		return err
	}
	a.reconfigureLocked()
	return nil
}

// CurrentRun returns the phase and outcome of the latest run.
func (a *App) CurrentRun() domain.Run {
	return a.currentServices().Pipeline.Current()
}

// RunEvents returns all events with sequence greater than sinceSeq.
func (a *App) RunEvents(sinceSeq int64) []pipeline.Event {
	return a.events.Since(sinceSeq)
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
// The new settings take effect once the pipeline is idle.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.refreshDiagnosticsFromSettings(normalized)
	a.reconfigure()
	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	return a.Diagnostics
}

// runIngest executes one claimed run and reports its outcome.
func (a *App) runIngest(run func(context.Context) (domain.RemoteMediaID, error)) {
	id, err := run(context.Background())
	if err != nil {
		logFailure(a.log, err)
		return
	}
	a.log.Info().Str(logging.FieldRemoteMediaID, string(id)).Msg("ingest finished")
}

// attach makes services current and forwards its uploads to the UI.
func (a *App) attach(services *Services) {
	services.Pipeline.OnUploaded(func(id domain.RemoteMediaID) {
		a.pushUploaded(id)
	})

	a.mu.Lock()
	a.services = services
	a.mu.Unlock()
}

// reconfigure swaps in a stack built from the latest settings while idle.
func (a *App) reconfigure() {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	a.reconfigureLocked()
}

// reconfigureLocked is reconfigure for callers holding opMu.
func (a *App) reconfigureLocked() {
	a.mu.Lock()
	current := a.services
	settings := a.Settings
	ctx := a.runtimeCtx
	a.mu.Unlock()

	if current.Settings == settings || current.Pipeline.Phase() != domain.PhaseIdle {
		return
	}

	next, err := a.build(settings)
	if err != nil {
		a.log.Warn().Err(err).Msg("keeping previous settings")
		return
	}
	if ctx != nil {
		if err := next.Init(ctx); err != nil {
			a.log.Warn().Err(err).Msg("keeping previous settings")
			_ = next.Close()
			return
		}
	}

	a.attach(next)
	if err := current.Close(); err != nil {
		a.log.Warn().Err(err).Msg("release previous transcoder")
	}
	a.log.Info().Str("api_base_url", settings.APIBaseURL).Msg("settings applied")
}

// ensureEngine starts the current transcoder if an earlier start failed.
func (a *App) ensureEngine() error {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	return a.currentServices().Init(a.initContext())
}

func (a *App) initContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx != nil {
		return a.runtimeCtx
	}
	return context.Background()
}

func (a *App) currentServices() *Services {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.services
}

// assetHandler serves preview references and falls back to frontend assets.
func (a *App) assetHandler(frontend http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if selection.Handles(r.URL.Path) {
			a.previews.ServeHTTP(w, r)
			return
		}
		frontend.ServeHTTP(w, r)
	})
}

// pushEvent emits one bus event to the UI when the runtime is up.
func (a *App) pushEvent(event pipeline.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil && a.emit != nil {
		a.emit(ctx, EventIngest, event)
	}
}

func (a *App) pushUploaded(id domain.RemoteMediaID) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil && a.emit != nil {
		a.emit(ctx, EventUploaded, id)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}
