// Package main provides a keyboard plugin.
// It types recognized words and sends keyboard shortcuts via AppleScript on
// macOS and xdotool on Linux.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/ayusman/mudra/internal/plugin"
)

// KeystrokeParams defines parameters for the keystroke action.
type KeystrokeParams struct {
	Key       string   `json:"key"`
	Modifiers []string `json:"modifiers"` // command, option, control, shift
}

// TypeParams optionally overrides the text typed by the type action.
type TypeParams struct {
	Text   string `json:"text"`
	Suffix string `json:"suffix"`
}

// modifierMap maps user-friendly modifier names to AppleScript equivalents.
var modifierMap = map[string]string{
	"command": "command down",
	"cmd":     "command down",
	"option":  "option down",
	"alt":     "option down",
	"control": "control down",
	"ctrl":    "control down",
	"shift":   "shift down",
}

// xdotoolModifiers maps the same names to xdotool key prefixes.
var xdotoolModifiers = map[string]string{
	"command": "super",
	"cmd":     "super",
	"option":  "alt",
	"alt":     "alt",
	"control": "ctrl",
	"ctrl":    "ctrl",
	"shift":   "shift",
}

func main() {
	var req plugin.Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	var err error
	switch req.Action {
	case "type":
		err = handleType(&req)
	case "keystroke", "shortcut":
		err = handleKeystroke(req.Params)
	default:
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
		return
	}
	if err != nil {
		writeErrorResponse(fmt.Sprintf("action %s failed: %v", req.Action, err))
		return
	}

	writeSuccessResponse()
}

// handleType types the sentence for sentence events and the word otherwise.
func handleType(req *plugin.Request) error {
	var p TypeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return fmt.Errorf("failed to parse params: %w", err)
		}
	}

	text := textFor(req, p)
	if text == "" {
		return fmt.Errorf("nothing to type")
	}

	switch runtime.GOOS {
	case "darwin":
		return runCommand("osascript", "-e", buildTypeScript(text))
	case "linux":
		return runCommand("xdotool", "type", "--", text)
	default:
		return fmt.Errorf("typing is not supported on %s", runtime.GOOS)
	}
}

func textFor(req *plugin.Request, p TypeParams) string {
	text := p.Text
	if text == "" {
		text = req.Word
		if req.Event == plugin.EventSentence && req.Sentence != "" {
			text = req.Sentence
		}
	}
	if text == "" {
		return ""
	}
	return text + p.Suffix
}

// handleKeystroke processes keystroke and shortcut actions.
func handleKeystroke(params json.RawMessage) error {
	var p KeystrokeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return fmt.Errorf("failed to parse params: %w", err)
	}

	if p.Key == "" {
		return fmt.Errorf("key is required")
	}

	switch runtime.GOOS {
	case "darwin":
		return runCommand("osascript", "-e", buildKeystrokeScript(p.Key, p.Modifiers))
	case "linux":
		return runCommand("xdotool", "key", buildXdotoolKey(p.Key, p.Modifiers))
	default:
		return fmt.Errorf("keystrokes are not supported on %s", runtime.GOOS)
	}
}

// escapeAppleScript quotes text for use inside an AppleScript string literal.
func escapeAppleScript(text string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(text)
}

func buildTypeScript(text string) string {
	return fmt.Sprintf(`tell application "System Events" to keystroke "%s"`, escapeAppleScript(text))
}

// buildKeystrokeScript generates an AppleScript for the given key and modifiers.
func buildKeystrokeScript(key string, modifiers []string) string {
	var appleModifiers []string
	for _, mod := range modifiers {
		if appleMod, ok := modifierMap[strings.ToLower(mod)]; ok {
			appleModifiers = append(appleModifiers, appleMod)
		}
	}

	if len(appleModifiers) == 0 {
		return fmt.Sprintf(`tell application "System Events" to keystroke "%s"`, escapeAppleScript(key))
	}

	modifierList := strings.Join(appleModifiers, ", ")
	return fmt.Sprintf(`tell application "System Events" to keystroke "%s" using {%s}`, escapeAppleScript(key), modifierList)
}

// buildXdotoolKey generates an xdotool key combination such as "ctrl+shift+t".
func buildXdotoolKey(key string, modifiers []string) string {
	parts := make([]string, 0, len(modifiers)+1)
	for _, mod := range modifiers {
		if m, ok := xdotoolModifiers[strings.ToLower(mod)]; ok {
			parts = append(parts, m)
		}
	}
	return strings.Join(append(parts, key), "+")
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(plugin.Response{Success: false, Error: errMsg})
}

// writeSuccessResponse writes a success response to stdout.
func writeSuccessResponse() {
	json.NewEncoder(os.Stdout).Encode(plugin.Response{Success: true})
}

// runCommand executes name with args and returns any error with its output.
func runCommand(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
