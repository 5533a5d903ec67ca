// Package tray provides the system tray menu for toggling pinch tracking.
package tray

import (
	"context"
	"sync"
	"time"

	"github.com/ayusman/pinchball/internal/action"
	"github.com/getlantern/systray"
)

const (
	titleTracking = "● Tracking"
	titleStopped  = "○ Stopped"
	lastNone      = "Last pinch: none"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle func(enabled bool) error
	onViewer func()
	onQuit   func()
	enabled  bool
	last     time.Time
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuToggle    *systray.MenuItem
	menuLastPinch *systray.MenuItem
}

// New creates a new Tray with tracking off.
func New() *Tray {
	return &Tray{}
}

// OnToggle sets the callback run when tracking is toggled. A non-nil error
// leaves the menu in its previous state.
func (t *Tray) OnToggle(fn func(enabled bool) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnViewer sets the callback run when the viewer menu item is clicked.
func (t *Tray) OnViewer(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onViewer = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray, making Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Pinchball")
	systray.SetTooltip("Pinchball hand tracking")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Start or stop hand tracking")
	systray.AddSeparator()

	t.menuLastPinch = systray.AddMenuItem(lastTitle(t.last), "Last detected pinch")
	t.menuLastPinch.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuViewer := systray.AddMenuItem("Open Viewer...", "Open the tracking viewer in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Pinchball")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuViewer.ClickedCh:
				t.handleViewer()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleToggle flips tracking and runs the toggle callback.
func (t *Tray) handleToggle() {
	t.mu.RLock()
	enabled := !t.enabled
	callback := t.onToggle
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		if err := callback(enabled); err != nil {
			return
		}
	}
	t.SetTracking(enabled)
}

// handleViewer handles the viewer menu item click.
func (t *Tray) handleViewer() {
	t.mu.RLock()
	callback := t.onViewer
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetTracking updates the toggle without running the callback.
func (t *Tray) SetTracking(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
}

// SetLastPinch updates the last pinch display in the menu.
func (t *Tray) SetLastPinch(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = at
	if t.menuLastPinch != nil {
		t.menuLastPinch.SetTitle(lastTitle(at))
	}
}

// Fire records a pinch in the menu.
func (t *Tray) Fire(ctx context.Context, evt action.PinchEvent) error {
	t.SetLastPinch(evt.Time)
	return nil
}

// IsEnabled returns whether tracking is on.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// LastPinch returns the time shown in the menu.
func (t *Tray) LastPinch() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

func toggleTitle(enabled bool) string {
	if enabled {
		return titleTracking
	}
	return titleStopped
}

func lastTitle(at time.Time) string {
	if at.IsZero() {
		return lastNone
	}
	return "Last pinch: " + at.Format("15:04:05")
}
