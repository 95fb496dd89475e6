// Package plugin discovers external plugin executables and runs them when
// words or sentences are recognized.
package plugin

import "encoding/json"

// Event kinds a hook can be bound to.
const (
	EventWord     = "word"
	EventSentence = "sentence"
)

// Manifest describes a plugin's metadata and capabilities.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Actions     []string `json:"actions"`
}

// Request is sent to a plugin on stdin.
type Request struct {
	Action     string          `json:"action"`
	Event      string          `json:"event"`
	Word       string          `json:"word,omitempty"`
	Sentence   string          `json:"sentence,omitempty"`
	Confidence float64         `json:"confidence"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// Response is read from a plugin's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Supports reports whether the plugin declares action. A manifest without
// actions accepts any action.
func (p *Plugin) Supports(action string) bool {
	if len(p.Manifest.Actions) == 0 {
		return true
	}
	for _, a := range p.Manifest.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Hook binds a recognition event to a plugin action.
type Hook struct {
	Event  string         `yaml:"event" json:"event"`
	Plugin string         `yaml:"plugin" json:"plugin"`
	Action string         `yaml:"action" json:"action"`
	Params map[string]any `yaml:"params" json:"params,omitempty"`
}
