// Package tray provides a system tray interface for the mudra sign recognizer.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/model"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle func(enabled bool)
	onSave   func()
	onOpen   func()
	onQuit   func()
	enabled  bool
	status   model.Status
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuToggle   *systray.MenuItem
	menuStatus   *systray.MenuItem
	menuSave     *systray.MenuItem
	menuLastWord *systray.MenuItem
	menuSentence *systray.MenuItem
}

// New creates a new Tray instance with the given detection state.
func New(enabled bool) *Tray {
	return &Tray{
		enabled: enabled,
	}
}

// OnToggle sets the callback function to be called when detection is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnSave sets the callback function to be called when the save menu item is clicked.
func (t *Tray) OnSave(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSave = fn
}

// OnOpen sets the callback function to be called when the open menu item is clicked.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops the tray.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	t.mu.Lock()
	systray.SetTooltip("Mudra Sign Recognition")

	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle live recognition")
	systray.AddSeparator()

	t.menuLastWord = systray.AddMenuItem(wordTitle(""), "Last recognized word")
	t.menuLastWord.Disable()
	t.menuSentence = systray.AddMenuItem(sentenceTitle(""), "Last matched sentence")
	t.menuSentence.Disable()
	systray.AddSeparator()

	t.menuStatus = systray.AddMenuItem("", "Model status")
	t.menuStatus.Disable()
	t.menuSave = systray.AddMenuItem("Save Model", "Save the trained model")
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open Trainer...", "Open the trainer in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Mudra")
	t.applyStatus()
	t.mu.Unlock()

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-t.menuSave.ClickedCh:
				t.handle(func() func() { return t.onSave })
			case <-menuOpen.ClickedCh:
				t.handle(func() func() { return t.onOpen })
			case <-menuQuit.ClickedCh:
				t.handle(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	t.menuToggle.SetTitle(toggleTitle(enabled))
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

// handle runs the callback returned by get outside the lock.
func (t *Tray) handle(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// SetStatus updates the unsaved-changes indicator and the save item.
func (t *Tray) SetStatus(st model.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = st
	t.applyStatus()
}

// applyStatus must be called with t.mu held.
func (t *Tray) applyStatus() {
	if t.menuStatus == nil {
		return
	}
	systray.SetTitle(trayTitle(t.status))
	t.menuStatus.SetTitle(statusTitle(t.status))
	if t.status.Dirty && !t.status.Saving && t.status.State == model.StateReady {
		t.menuSave.Enable()
	} else {
		t.menuSave.Disable()
	}
}

// SetDetection updates the last word and sentence display.
func (t *Tray) SetDetection(det app.Detection) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuLastWord == nil || !det.Accepted {
		return
	}
	t.menuLastWord.SetTitle(wordTitle(det.Label))
	t.menuSentence.SetTitle(sentenceTitle(det.Sentence))
}

// SetEnabled updates the detection state shown by the toggle.
func (t *Tray) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Detection On"
	}
	return "○ Detection Off"
}

func trayTitle(st model.Status) string {
	if st.Dirty {
		return "Mudra •"
	}
	return "Mudra"
}

func statusTitle(st model.Status) string {
	switch {
	case st.LoadFailed:
		return "Model failed to load"
	case st.State != model.StateReady:
		return "Model " + string(st.State)
	case st.Saving:
		return "Saving..."
	case st.Dirty:
		return fmt.Sprintf("Unsaved changes (%d examples)", st.Examples)
	default:
		return fmt.Sprintf("Saved (%d examples)", st.Examples)
	}
}

func wordTitle(word string) string {
	if word == "" {
		return "Last: none"
	}
	return "Last: " + word
}

func sentenceTitle(sentence string) string {
	if sentence == "" {
		return "Sentence: none"
	}
	return "Sentence: " + sentence
}
