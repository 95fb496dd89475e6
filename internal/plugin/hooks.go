package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Event describes a recognition result passed to hooks.
type Event struct {
	Kind       string
	Word       string
	Sentence   string
	Confidence float64
}

// Runner executes a single plugin request.
type Runner interface {
	ExecuteContext(ctx context.Context, plugin *Plugin, req *Request) (*Response, error)
}

// Dispatcher runs the hooks bound to each fired event. Hooks run in the
// background so recognition never waits on a plugin.
type Dispatcher struct {
	manager *Manager
	runner  Runner
	hooks   []Hook
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher for hooks.
func NewDispatcher(manager *Manager, runner Runner, hooks []Hook, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		manager: manager,
		runner:  runner,
		hooks:   hooks,
		logger:  logger.With("component", "hooks"),
	}
}

// Hooks returns the configured hooks.
func (d *Dispatcher) Hooks() []Hook {
	return append([]Hook(nil), d.hooks...)
}

// ValidateHooks checks that every hook names a known event and an action
// the plugin declares. Plugins must have been discovered first.
func ValidateHooks(manager *Manager, hooks []Hook) error {
	for i, h := range hooks {
		if h.Event != EventWord && h.Event != EventSentence {
			return fmt.Errorf("hook %d: unknown event %q", i, h.Event)
		}
		p, err := manager.Get(h.Plugin)
		if err != nil {
			return fmt.Errorf("hook %d: %w: %s", i, err, h.Plugin)
		}
		if !p.Supports(h.Action) {
			return fmt.Errorf("hook %d: plugin %s has no action %q", i, h.Plugin, h.Action)
		}
	}
	return nil
}

// Fire starts every hook bound to ev.Kind.
func (d *Dispatcher) Fire(ctx context.Context, ev Event) {
	for _, h := range d.hooks {
		if h.Event != ev.Kind {
			continue
		}

		p, err := d.manager.Get(h.Plugin)
		if err != nil {
			d.logger.Warn("hook plugin not found", "plugin", h.Plugin, "event", ev.Kind)
			continue
		}

		req := &Request{
			Action:     h.Action,
			Event:      ev.Kind,
			Word:       ev.Word,
			Sentence:   ev.Sentence,
			Confidence: ev.Confidence,
		}
		if len(h.Params) > 0 {
			params, err := json.Marshal(h.Params)
			if err != nil {
				d.logger.Warn("invalid hook params", "plugin", h.Plugin, "error", err)
				continue
			}
			req.Params = params
		}

		d.wg.Add(1)
		go func(p *Plugin, req *Request) {
			defer d.wg.Done()

			resp, err := d.runner.ExecuteContext(context.WithoutCancel(ctx), p, req)
			if err != nil {
				d.logger.Error("plugin failed", "plugin", p.Manifest.Name, "action", req.Action, "error", err)
				return
			}
			if !resp.Success {
				d.logger.Warn("plugin reported failure", "plugin", p.Manifest.Name, "action", req.Action, "error", resp.Error)
				return
			}
			d.logger.Debug("plugin ran", "plugin", p.Manifest.Name, "action", req.Action, "event", req.Event)
		}(p, req)
	}
}

// Wait blocks until all started hooks have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
