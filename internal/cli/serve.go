package cli

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/model"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/tray"
)

var (
	serveAddr       string
	serveTray       bool
	serveDetect     bool
	serveNoCamera   bool
	serveSaveOnExit bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trainer UI, HTTP API and live recognition",
	Long: `Start the HTTP server with the trainer UI, the camera preview stream and
the live recognition pipeline. Detections are broadcast over a WebSocket and
passed to the configured plugin hooks.

Examples:
  mudra serve                 # Serve on the configured address
  mudra serve --addr :9000    # Serve on another port
  mudra serve --tray          # Also show the system tray`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveTray, "tray", false, "show the system tray (default from config)")
	serveCmd.Flags().BoolVar(&serveDetect, "detect", true, "start with live recognition enabled")
	serveCmd.Flags().BoolVar(&serveNoCamera, "no-camera", false, "run without a camera")
	serveCmd.Flags().BoolVar(&serveSaveOnExit, "save-on-exit", false, "save unsaved changes on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	useTray := cfg.Tray.Enabled
	if cmd.Flags().Changed("tray") {
		useTray = serveTray
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := server.NewHub(logger)
	var tr *tray.Tray
	if useTray {
		tr = tray.New(serveDetect)
	}
	notify := func(st model.Status) {
		hub.Publish(server.MessageStatus, st)
		if tr != nil {
			tr.SetStatus(st)
		}
	}

	s, err := openSession(ctx, cfg, logger, sessionOptions{
		camera:         !serveNoCamera,
		hooks:          true,
		notify:         notify,
		keepFailedLoad: true,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	a := s.app
	a.SetEnabled(serveDetect)
	if a.Camera() != nil {
		if err := a.Start(); err != nil {
			logger.Warn("camera unavailable, live recognition is off", "error", err)
		}
	}

	srv := server.New(server.Config{
		StaticDir:     findWebDir(cfg),
		App:           a,
		Hub:           hub,
		ModelKey:      cfg.Storage.Key,
		Revisions:     s.revisions(),
		Plugins:       s.plugins,
		Runner:        s.executor,
		Hooks:         cfg.Plugins.Hooks,
		BurstFrames:   cfg.Capture.Frames,
		BurstInterval: cfg.Capture.Interval,
		Logger:        logger,
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(addr)
		stop()
	}()

	if tr != nil {
		a.RegisterDetectionCallback(tr.SetDetection)
		tr.OnToggle(a.SetEnabled)
		tr.OnSave(func() {
			if err := s.save(context.Background()); err != nil {
				logger.Error("save from tray failed", "error", err)
			}
		})
		tr.OnOpen(func() {
			if err := openBrowser(browserURL(addr)); err != nil {
				logger.Warn("failed to open browser", "error", err)
			}
		})
		tr.OnQuit(stop)

		go func() {
			<-ctx.Done()
			tr.Quit()
		}()
		// The tray owns the main goroutine until it quits
		tr.Run()
		stop()
	} else {
		<-ctx.Done()
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", "error", err)
	}
	err = <-serveErr

	if s.model.Dirty() {
		if serveSaveOnExit {
			if saveErr := s.save(shutdownCtx); saveErr != nil {
				logger.Error("failed to save on exit", "error", saveErr)
			}
		} else {
			logger.Warn("exiting with unsaved changes")
		}
	}
	return err
}

// findWebDir returns the configured static directory, or searches "web",
// "../web", "../../web" and <data dir>/web. Returns "" if none exists.
func findWebDir(cfg *config.Config) string {
	if cfg.Server.StaticDir != "" {
		return cfg.ResolvePath(cfg.Server.StaticDir)
	}

	candidates := []string{"web", "../web", "../../web", cfg.ResolvePath("web")}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

// browserURL turns a listen address into a local URL.
func browserURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
