// Package main provides a text-to-speech plugin.
// It speaks recognized words and sentences with say on macOS and espeak on Linux.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/ayusman/mudra/internal/plugin"
)

// SayParams defines optional parameters for the say action.
type SayParams struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Rate  int    `json:"rate"` // words per minute
}

func main() {
	var req plugin.Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	if req.Action != "say" {
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
		return
	}

	if err := handleSay(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("action %s failed: %v", req.Action, err))
		return
	}

	writeSuccessResponse()
}

// handleSay speaks the sentence for sentence events and the word otherwise.
func handleSay(req *plugin.Request) error {
	var p SayParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return fmt.Errorf("failed to parse params: %w", err)
		}
	}

	text := p.Text
	if text == "" {
		text = req.Word
		if req.Event == plugin.EventSentence && req.Sentence != "" {
			text = req.Sentence
		}
	}
	if text == "" {
		return fmt.Errorf("nothing to say")
	}

	name, args, err := sayCommand(runtime.GOOS, text, p)
	if err != nil {
		return err
	}
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

// sayCommand returns the speech command for goos.
func sayCommand(goos, text string, p SayParams) (string, []string, error) {
	switch goos {
	case "darwin":
		args := []string{}
		if p.Voice != "" {
			args = append(args, "-v", p.Voice)
		}
		if p.Rate > 0 {
			args = append(args, "-r", fmt.Sprint(p.Rate))
		}
		return "say", append(args, "--", text), nil
	case "linux":
		args := []string{}
		if p.Voice != "" {
			args = append(args, "-v", p.Voice)
		}
		if p.Rate > 0 {
			args = append(args, "-s", fmt.Sprint(p.Rate))
		}
		return "espeak", append(args, "--", text), nil
	default:
		return "", nil, fmt.Errorf("speech is not supported on %s", goos)
	}
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(plugin.Response{Success: false, Error: errMsg})
}

// writeSuccessResponse writes a success response to stdout.
func writeSuccessResponse() {
	json.NewEncoder(os.Stdout).Encode(plugin.Response{Success: true})
}
