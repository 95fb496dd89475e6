package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/embed"
	"github.com/ayusman/mudra/internal/knn"
	"github.com/ayusman/mudra/internal/model"
	"github.com/ayusman/mudra/internal/plugin"
	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/store"
)

// sessionOptions selects the optional parts of a session.
type sessionOptions struct {
	camera bool
	hooks  bool
	notify func(model.Status)

	// keepFailedLoad keeps the session when the model fails to load, so the
	// model can be reloaded or reset later.
	keepFailedLoad bool
}

// session holds the components shared by the commands.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	backend  store.Backend
	embedder embed.Source
	model    *model.Controller
	plugins  *plugin.Manager
	executor *plugin.Executor
	hooks    *plugin.Dispatcher
	app      *app.App
}

// openSession builds the components described by cfg and loads the model.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts sessionOptions) (*session, error) {
	dataDir, err := cfg.EnsureDataDir()
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, logger: logger}

	s.backend, err = store.Open(ctx, cfg.Storage, dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	embedCfg := cfg.Embedding
	embedCfg.ModelPath = cfg.ResolvePath(embedCfg.ModelPath)
	embedCfg.ConfigPath = cfg.ResolvePath(embedCfg.ConfigPath)
	embedCfg.Logger = logger
	s.embedder, err = embed.New(embedCfg)
	if err != nil {
		s.backend.Close()
		return nil, fmt.Errorf("failed to create embedding source: %w", err)
	}

	format, err := knn.ParseFormat(cfg.Classifier.Format)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.model = model.New(model.Config{
		Embedder: s.embedder,
		Backend:  s.backend,
		Key:      cfg.Storage.Key,
		K:        cfg.Classifier.K,
		Format:   format,
		Notify:   opts.notify,
		Logger:   logger,
	})
	if err := s.model.Load(ctx); err != nil && !opts.keepFailedLoad {
		s.Close()
		return nil, err
	}

	s.plugins = plugin.NewManager(cfg.PluginDir(), logger)
	if err := s.plugins.Discover(); err != nil {
		logger.Warn("failed to discover plugins", "dir", cfg.PluginDir(), "error", err)
	}
	s.executor = plugin.NewExecutor(cfg.Plugins.TimeoutMs)

	if opts.hooks && len(cfg.Plugins.Hooks) > 0 {
		if err := plugin.ValidateHooks(s.plugins, cfg.Plugins.Hooks); err != nil {
			s.Close()
			return nil, fmt.Errorf("invalid plugin hooks: %w", err)
		}
		s.hooks = plugin.NewDispatcher(s.plugins, s.executor, cfg.Plugins.Hooks, logger)
	}

	var cam capture.Camera
	if opts.camera {
		camCfg := capture.DefaultConfig()
		camCfg.DeviceID = cfg.Camera.DeviceID
		camCfg.FPS = cfg.Camera.IdleFPS
		cam = capture.NewCamera(camCfg)
	}

	s.app = app.New(app.Config{
		Model:           s.model,
		Camera:          cam,
		Hooks:           s.hooks,
		Threshold:       cfg.Classifier.Threshold,
		HistorySize:     cfg.Sentence.HistorySize,
		Phrases:         cfg.Phrases(),
		IdleFPS:         cfg.Camera.IdleFPS,
		ActiveFPS:       cfg.Camera.ActiveFPS,
		MotionThreshold: cfg.Camera.MotionThreshold,
		IdleTimeout:     cfg.Camera.IdleTimeout,
		JPEGQuality:     cfg.Camera.JPEGQuality,
		RepeatHoldoff:   cfg.Camera.RepeatHoldoff,
		Logger:          logger,
	})

	return s, nil
}

// revisions returns the backend's revision history, or nil when it keeps none.
func (s *session) revisions() api.RevisionLister {
	if db, ok := s.backend.(*store.SQLite); ok {
		return db.Datasets()
	}
	return nil
}

// save persists the model.
func (s *session) save(ctx context.Context) error {
	if err := s.model.Save(ctx); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	return nil
}

// Close stops the app and releases the embedder and backend.
func (s *session) Close() {
	if s.app != nil {
		s.app.Close()
	}
	if s.embedder != nil {
		if err := s.embedder.Close(); err != nil {
			s.logger.Warn("failed to close embedding source", "error", err)
		}
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Warn("failed to close storage", "error", err)
		}
	}
}
