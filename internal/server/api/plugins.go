package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ayusman/mudra/internal/plugin"
)

// PluginHandler lists discovered plugins and runs their actions on demand.
type PluginHandler struct {
	manager *plugin.Manager
	runner  plugin.Runner
	hooks   []plugin.Hook
}

// NewPluginHandler creates a PluginHandler.
func NewPluginHandler(manager *plugin.Manager, runner plugin.Runner, hooks []plugin.Hook) *PluginHandler {
	return &PluginHandler{manager: manager, runner: runner, hooks: hooks}
}

type pluginResponse struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
}

type listPluginsResponse struct {
	Plugins []pluginResponse `json:"plugins"`
	Hooks   []plugin.Hook    `json:"hooks"`
}

type runActionRequest struct {
	Word     string          `json:"word"`
	Sentence string          `json:"sentence"`
	Params   json.RawMessage `json:"params"`
}

// ServeHTTP routes requests to the appropriate methods.
//
// Paths:
//
//	/api/plugins
//	/api/plugins/{name}/{action}
func (h *PluginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/plugins")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	name, action, ok := strings.Cut(path, "/")
	if !ok || action == "" || strings.Contains(action, "/") {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.run(w, r, name, action)
}

// list handles GET /api/plugins.
func (h *PluginHandler) list(w http.ResponseWriter, r *http.Request) {
	plugins := h.manager.List()
	response := listPluginsResponse{
		Plugins: make([]pluginResponse, 0, len(plugins)),
		Hooks:   h.hooks,
	}
	if response.Hooks == nil {
		response.Hooks = []plugin.Hook{}
	}
	for _, p := range plugins {
		actions := p.Manifest.Actions
		if actions == nil {
			actions = []string{}
		}
		response.Plugins = append(response.Plugins, pluginResponse{
			Name:        p.Manifest.Name,
			Version:     p.Manifest.Version,
			Description: p.Manifest.Description,
			Actions:     actions,
		})
	}
	writeJSON(w, http.StatusOK, response)
}

// run handles POST /api/plugins/{name}/{action}, executing the action once
// with the given word and sentence.
func (h *PluginHandler) run(w http.ResponseWriter, r *http.Request, name, action string) {
	p, err := h.manager.Get(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !p.Supports(action) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("plugin %s has no action %q", name, action))
		return
	}

	var req runActionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	event := plugin.EventWord
	if req.Sentence != "" {
		event = plugin.EventSentence
	}
	resp, err := h.runner.ExecuteContext(r.Context(), p, &plugin.Request{
		Action:   action,
		Event:    event,
		Word:     req.Word,
		Sentence: req.Sentence,
		Params:   req.Params,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
