package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of the supervised process.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusBackoff Status = "backoff"
	StatusFailed  Status = "failed"
)

// ErrTooManyRestarts is returned by Run when MaxRestartAttempts is exhausted.
var ErrTooManyRestarts = errors.New("process: too many restarts")

// Config holds configuration for a supervised process.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are the initial command-line arguments. Restart may replace them.
	Args []string

	// Env are additional environment variables (key=value format).
	Env []string

	// RestartDelay is the first backoff after an unexpected exit. It doubles
	// on each consecutive failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long the child must stay up for the backoff and
	// the failure count to reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive failures. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor keeps one child process running until its context ends.
type Supervisor struct {
	cfg    Config
	logger Logger

	restartCh chan struct{}

	mu        sync.RWMutex
	args      []string
	status    Status
	pid       int
	restarts  int
	failures  int
	lastError error
	startedAt time.Time
}

// NewSupervisor creates a supervisor. A nil logger discards output.
func NewSupervisor(cfg Config, logger Logger) *Supervisor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = time.Second
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = max(30*time.Second, cfg.RestartDelay)
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = time.Minute
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Supervisor{
		cfg:       cfg,
		logger:    logger,
		restartCh: make(chan struct{}, 1),
		args:      slices.Clone(cfg.Args),
		status:    StatusStopped,
	}
}

// Restart relaunches the child. Non-nil args replace the current arguments.
// A relaunch requested while the supervisor is backing off happens
// immediately.
func (s *Supervisor) Restart(args []string) {
	if args != nil {
		s.mu.Lock()
		s.args = slices.Clone(args)
		s.mu.Unlock()
	}
	select {
	case s.restartCh <- struct{}{}:
	default:
	}
}

// Run starts the child and supervises it until ctx is cancelled, at which
// point the child is terminated and Run returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	delay := s.cfg.RestartDelay
	for {
		exitCh, err := s.launch()
		if err != nil {
			s.logger.Error("process failed to start", "name", s.cfg.Name, "error", err)
		} else {
			select {
			case <-ctx.Done():
				s.terminate(exitCh)
				s.setStatus(StatusStopped)
				return nil

			case <-s.restartCh:
				s.logger.Info("restarting process on request", "name", s.cfg.Name)
				s.terminate(exitCh)
				s.mu.Lock()
				s.restarts++
				s.mu.Unlock()
				delay = s.cfg.RestartDelay
				continue

			case err = <-exitCh:
				if err == nil {
					err = errors.New("exited")
				}
				s.logger.Warn("process exited unexpectedly", "name", s.cfg.Name, "error", err)
			}
		}

		s.mu.Lock()
		s.lastError = err
		s.pid = 0
		if !s.startedAt.IsZero() && time.Since(s.startedAt) >= s.cfg.StableThreshold {
			s.failures = 0
			delay = s.cfg.RestartDelay
		}
		s.failures++
		failures := s.failures
		s.mu.Unlock()

		if s.cfg.MaxRestartAttempts > 0 && failures > s.cfg.MaxRestartAttempts {
			s.setStatus(StatusFailed)
			s.logger.Error("max restart attempts reached", "name", s.cfg.Name, "attempts", failures-1)
			return fmt.Errorf("%s: %w", s.cfg.Name, ErrTooManyRestarts)
		}

		s.setStatus(StatusBackoff)
		s.logger.Info("restarting process", "name", s.cfg.Name, "attempt", failures, "delay", delay)
		select {
		case <-ctx.Done():
			s.setStatus(StatusStopped)
			return nil
		case <-s.restartCh:
		case <-time.After(delay):
		}
		delay = min(delay*2, s.cfg.MaxRestartDelay)

		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
	}
}

// launch starts the child and returns a channel receiving its exit error.
func (s *Supervisor) launch() (<-chan error, error) {
	s.mu.RLock()
	args := slices.Clone(s.args)
	s.mu.RUnlock()

	cmd := exec.Command(s.cfg.Binary, args...) //nolint:gosec // binary comes from local agent config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	s.pid = cmd.Process.Pid
	s.status = StatusRunning
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.logger.Info("process started", "name", s.cfg.Name, "pid", cmd.Process.Pid, "args", args)

	var pipes sync.WaitGroup
	pipes.Go(func() { s.captureOutput("stdout", stdout) })
	pipes.Go(func() { s.captureOutput("stderr", stderr) })

	exitCh := make(chan error, 1)
	go func() {
		pipes.Wait()
		exitCh <- cmd.Wait()
	}()
	return exitCh, nil
}

// captureOutput logs the child's output line by line.
func (s *Supervisor) captureOutput(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.logger.Debug("process output", "name", s.cfg.Name, "stream", stream, "line", sc.Text())
	}
}

// terminate sends SIGTERM to the child's process group, escalating to
// SIGKILL after GracefulTimeout, and waits for the exit.
func (s *Supervisor) terminate(exitCh <-chan error) {
	s.mu.RLock()
	pid := s.pid
	s.mu.RUnlock()
	if pid == 0 {
		return
	}

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("failed to send SIGTERM", "name", s.cfg.Name, "error", err)
	}
	select {
	case <-exitCh:
	case <-time.After(s.cfg.GracefulTimeout):
		s.logger.Warn("graceful shutdown timeout, sending SIGKILL", "name", s.cfg.Name, "timeout", s.cfg.GracefulTimeout)
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			s.logger.Error("failed to kill process group", "name", s.cfg.Name, "error", err)
		}
		<-exitCh
	}

	s.mu.Lock()
	s.pid = 0
	s.mu.Unlock()
	s.logger.Info("process stopped", "name", s.cfg.Name)
}

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Stats is a snapshot of the supervised process.
type Stats struct {
	Name      string   `json:"name"`
	Status    Status   `json:"status"`
	PID       int      `json:"pid,omitempty"`
	Args      []string `json:"args"`
	Restarts  int      `json:"restarts"`
	UptimeSec int64    `json:"uptimeSeconds,omitempty"`
	LastError string   `json:"lastError,omitempty"`
}

// Stats returns current statistics for the process.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Name:     s.cfg.Name,
		Status:   s.status,
		PID:      s.pid,
		Args:     slices.Clone(s.args),
		Restarts: s.restarts,
	}
	if s.status == StatusRunning {
		st.UptimeSec = int64(time.Since(s.startedAt).Seconds())
	}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	return st
}
