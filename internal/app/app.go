// Package app wires camera, detector, overlay, interaction layer, store and
// viewer into the Pinchball application.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/ayusman/pinchball/internal/action"
	"github.com/ayusman/pinchball/internal/capture"
	"github.com/ayusman/pinchball/internal/detector"
	"github.com/ayusman/pinchball/internal/interaction"
	"github.com/ayusman/pinchball/internal/overlay"
	"github.com/ayusman/pinchball/internal/server"
	"github.com/ayusman/pinchball/internal/store"
	"github.com/ayusman/pinchball/internal/tracker"
)

// DefaultCommandTimeoutMs bounds a pinch command run.
const DefaultCommandTimeoutMs = 5000

// Config holds configuration options for the application.
type Config struct {
	// DataDir holds the settings database and cached model assets.
	DataDir string
	// Store overrides the database opened under DataDir.
	Store *store.Store

	Tracker     tracker.Config
	Interaction interaction.Config
	Detector    detector.Config

	// PinchCommand runs on every pinch with the event as JSON on stdin.
	PinchCommand     string
	PinchArgs        []string
	CommandTimeoutMs int

	Addr      string
	StaticDir string

	// Camera and Load replace the device camera and MediaPipe loader.
	Camera capture.Camera
	Load   tracker.LoadFunc
}

// DefaultConfig returns the configuration used by the command.
func DefaultConfig() Config {
	return Config{
		Tracker:          tracker.DefaultConfig(),
		Interaction:      interaction.DefaultConfig(),
		Detector:         detector.DefaultConfig(),
		CommandTimeoutMs: DefaultCommandTimeoutMs,
		Addr:             "127.0.0.1:8080",
	}
}

// App is the main application that owns the tracking session and viewer.
type App struct {
	config    Config
	store     *store.Store
	ownsStore bool
	surface   *overlay.Surface
	layer     *interaction.Layer
	tracker   *tracker.Tracker
	server    *server.Server
	pipeline  *pinchPipeline
	mu        sync.Mutex
}

// New creates a new App. Nothing touches the camera until Start.
func New(config Config) (*App, error) {
	a := &App{config: config}

	a.store = config.Store
	if a.store == nil {
		if config.DataDir == "" {
			return nil, fmt.Errorf("data directory is required")
		}
		if err := os.MkdirAll(config.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		st, err := store.New(filepath.Join(config.DataDir, "pinchball.db"))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.store = st
		a.ownsStore = true
	}

	a.pipeline = newPinchPipeline(action.LogAction{})
	if config.PinchCommand != "" {
		timeout := config.CommandTimeoutMs
		if timeout <= 0 {
			timeout = DefaultCommandTimeoutMs
		}
		cmd := action.NewCommandAction(config.PinchCommand, timeout, config.PinchArgs...)
		a.pipeline.Add(action.Async{Action: cmd})
	}

	a.layer = interaction.New(config.Interaction)
	a.layer.SetAction(a.pipeline)
	if err := a.layer.SetStore(a.store.Cooldown()); err != nil {
		// A corrupt value only loses the previous cooldown.
		log.Printf("Failed to restore pinch cooldown: %v", err)
	}

	cam := config.Camera
	if cam == nil {
		cam = capture.NewCamera()
	}
	load := config.Load
	if load == nil {
		dcfg := config.Detector
		if dcfg.CacheDir == "" && config.DataDir != "" {
			dcfg.CacheDir = filepath.Join(config.DataDir, "models")
		}
		load = detector.Loader(dcfg)
	}

	a.surface = overlay.NewSurface()
	a.tracker = tracker.New(config.Tracker, cam, load, a.surface, a.layer)

	a.server = server.New(server.Config{
		StaticDir: config.StaticDir,
		Store:     a.store,
		Tracker:   a.tracker,
		LastPinch: a.layer.LastTrigger,
	})

	return a, nil
}

// AddAction registers another action to fire on every pinch.
func (a *App) AddAction(act action.Action) {
	a.pipeline.Add(act)
}

// Start begins tracking.
func (a *App) Start(ctx context.Context) error {
	return a.tracker.Start(ctx)
}

// Stop halts tracking and releases the camera and detector.
func (a *App) Stop() {
	a.tracker.Stop()
}

// SetEnabled starts or stops tracking.
func (a *App) SetEnabled(ctx context.Context, enabled bool) error {
	if enabled {
		return a.Start(ctx)
	}
	a.Stop()
	return nil
}

// IsEnabled returns whether tracking is running.
func (a *App) IsEnabled() bool {
	return a.tracker.Session().IsTracking
}

// Serve runs the viewer until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	log.Printf("Viewer listening on http://%s", a.config.Addr)
	return a.server.Serve(ctx, a.config.Addr)
}

// ViewerURL returns the address of the local viewer.
func (a *App) ViewerURL() string {
	return "http://" + a.config.Addr + "/"
}

// Close stops tracking and releases everything New acquired.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.tracker.Stop()
	if err := a.surface.Close(); err != nil {
		log.Printf("Error closing overlay: %v", err)
	}
	if a.ownsStore && a.store != nil {
		err := a.store.Close()
		a.store = nil
		return err
	}
	return nil
}

// Tracker returns the tracking session.
func (a *App) Tracker() *tracker.Tracker {
	return a.tracker
}

// Layer returns the interaction layer.
func (a *App) Layer() *interaction.Layer {
	return a.layer
}

// Server returns the viewer's HTTP handler.
func (a *App) Server() *server.Server {
	return a.server
}

// Store returns the settings store.
func (a *App) Store() *store.Store {
	return a.store
}
