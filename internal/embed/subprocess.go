package embed

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Subprocess embeds images with an external long-running process, such as a
// Python service wrapping a pretrained network.
//
// Each request is written to the process stdin as a 4-byte big-endian length
// followed by the encoded image. The process answers with one JSON line:
// {"embedding": [...]} or {"error": "..."}.
type Subprocess struct {
	command     []string
	idleTimeout time.Duration
	logger      *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	started   bool
	dim       int
	idleTimer *time.Timer
}

// NewSubprocess creates a Subprocess source for cfg.Command.
// The process is started lazily on the first embedding.
func NewSubprocess(cfg Config) (*Subprocess, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("subprocess embedding requires a command")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Subprocess{
		command:     cfg.Command,
		idleTimeout: cfg.IdleTimeout,
		logger:      logger,
	}, nil
}

type subprocessResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error"`
}

// Embed sends the image to the process and returns its embedding.
func (s *Subprocess) Embed(ctx context.Context, img []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureStarted(); err != nil {
		return nil, unavailable("%v", err)
	}

	// Write length (4 bytes big-endian) + data
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(img)))

	if _, err := s.stdin.Write(length); err != nil {
		s.shutdown()
		return nil, unavailable("write length: %v", err)
	}
	if _, err := s.stdin.Write(img); err != nil {
		s.shutdown()
		return nil, unavailable("write data: %v", err)
	}

	line, err := s.stdout.ReadString('\n')
	if err != nil {
		s.shutdown()
		return nil, unavailable("read response: %v", err)
	}

	var resp subprocessResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return nil, unavailable("parse response: %v", err)
	}
	if resp.Error != "" {
		return nil, unavailable("embedding service: %s", resp.Error)
	}
	if len(resp.Embedding) == 0 {
		return nil, unavailable("embedding service returned an empty vector")
	}

	s.dim = len(resp.Embedding)
	s.resetIdleTimer()

	return resp.Embedding, nil
}

// Dimension returns the vector length once the first image has been embedded.
func (s *Subprocess) Dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dim
}

// Close shuts down the process.
func (s *Subprocess) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown()
}

func (s *Subprocess) ensureStarted() error {
	if s.started {
		return nil
	}

	s.cmd = exec.Command(s.command[0], s.command[1:]...)

	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	s.cmd.Stderr = os.Stderr

	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("start embedding service: %w", err)
	}

	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)
	s.started = true
	s.logger.Info("embedding service started", "command", s.command[0], "pid", s.cmd.Process.Pid)

	return nil
}

func (s *Subprocess) shutdown() error {
	if !s.started {
		return nil
	}

	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}

	if s.stdin != nil {
		s.stdin.Close()
	}

	err := s.cmd.Wait()
	s.started = false
	s.cmd = nil
	s.stdin = nil
	s.stdout = nil

	s.logger.Info("embedding service stopped")
	return err
}

func (s *Subprocess) resetIdleTimer() {
	if s.idleTimeout <= 0 {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.idleTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.shutdown()
	})
}
