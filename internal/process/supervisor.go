package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status is the lifecycle state of the supervised daemon.
type Status string

const (
	StatusStopped    Status = "stopped"
	StatusRunning    Status = "running"
	StatusRestarting Status = "restarting"
	StatusFailed     Status = "failed"
)

const (
	defaultRestartDelay  = 5 * time.Second
	defaultStopTimeout   = 10 * time.Second
	defaultProbeInterval = 30 * time.Second
	defaultProbeFailures = 3
	probeTimeout         = 5 * time.Second

	// maxLineLength flushes output that never ends in a newline.
	maxLineLength = 4096
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("process already started")

	// ErrUnhealthy marks a daemon that was killed by the watchdog.
	ErrUnhealthy = errors.New("process failed its health probe")
)

// Config describes the daemon to supervise.
type Config struct {
	// Name is used in log lines and Stats.
	Name string

	Binary string
	Args   []string

	// RestartDelay is the pause before each restart. Default: 5s.
	RestartDelay time.Duration

	// MaxRestarts gives up after this many restarts. 0 restarts forever.
	MaxRestarts int

	// StopTimeout is how long SIGTERM gets before SIGKILL. Default: 10s.
	StopTimeout time.Duration

	// Probe is called every ProbeInterval while the daemon runs. Optional.
	Probe func(ctx context.Context) error

	// ProbeInterval defaults to 30s.
	ProbeInterval time.Duration

	// ProbeFailures consecutive failures kill the daemon. Default: 3.
	ProbeFailures int
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

// Stats is a point-in-time view of the supervised daemon.
type Stats struct {
	Name          string `json:"name"`
	Status        Status `json:"status"`
	PID           int    `json:"pid,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Restarts      int    `json:"restarts"`
	LastError     string `json:"last_error,omitempty"`
}

// Supervisor runs one daemon and restarts it when it dies.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	status   Status
	restarts int
	lastErr  error
	started  time.Time
	done     chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a supervisor. Nothing runs until Start.
func New(cfg Config) *Supervisor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.ProbeFailures <= 0 {
		cfg.ProbeFailures = defaultProbeFailures
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Binary
	}
	return &Supervisor{
		cfg:    cfg,
		logger: noopLogger{},
		status: StatusStopped,
		stop:   make(chan struct{}),
	}
}

// SetLogger sets the logger. Call before Start.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches the daemon and supervises it until ctx is cancelled or
// Stop is called. A daemon that cannot be launched at all is an error.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.done = make(chan struct{})
	s.mu.Unlock()

	cmd, err := s.spawn()
	if err != nil {
		s.setExit(StatusFailed, err)
		close(s.done)
		return err
	}

	go s.supervise(ctx, cmd)
	return nil
}

// Stop terminates the daemon and waits for supervision to end.
// Safe to call multiple times, and before Start.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns the current lifecycle state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns why the daemon last exited, or nil.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Stats returns a snapshot for health reporting.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Name:     s.cfg.Name,
		Status:   s.status,
		Restarts: s.restarts,
	}
	if s.status == StatusRunning && s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
		st.UptimeSeconds = int64(time.Since(s.started).Seconds())
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Supervisor) spawn() (*exec.Cmd, error) {
	cmd := exec.Command(s.cfg.Binary, s.cfg.Args...) //nolint:gosec // binary comes from operator config
	// Own process group so the whole tree is signalled on stop.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = &lineWriter{logger: s.logger, name: s.cfg.Name, stream: "stdout"}
	cmd.Stderr = &lineWriter{logger: s.logger, name: s.cfg.Name, stream: "stderr"}
	// Bounds Wait when a grandchild keeps the output pipes open.
	cmd.WaitDelay = s.cfg.StopTimeout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.started = time.Now()
	s.mu.Unlock()

	s.logger.Info("process started", "name", s.cfg.Name, "pid", cmd.Process.Pid)
	return cmd, nil
}

func (s *Supervisor) supervise(ctx context.Context, cmd *exec.Cmd) {
	defer close(s.done)

	for {
		err := s.wait(ctx, cmd)
		if s.stopping(ctx) {
			s.logger.Info("process stopped", "name", s.cfg.Name)
			s.setExit(StatusStopped, nil)
			return
		}
		s.logger.Warn("process exited unexpectedly", "name", s.cfg.Name, "error", err)

		for {
			if !s.beginRestart(err) {
				s.logger.Error("giving up on process", "name", s.cfg.Name, "restarts", s.cfg.MaxRestarts)
				return
			}
			if !s.sleep(ctx, s.cfg.RestartDelay) {
				s.setExit(StatusStopped, err)
				return
			}
			cmd, err = s.spawn()
			if err == nil {
				break
			}
			s.logger.Error("restarting process failed", "name", s.cfg.Name, "error", err)
		}
	}
}

// wait returns when the daemon exits, when supervision ends, or after the
// watchdog killed it.
func (s *Supervisor) wait(ctx context.Context, cmd *exec.Cmd) error {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	var probe <-chan time.Time
	if s.cfg.Probe != nil {
		ticker := time.NewTicker(s.cfg.ProbeInterval)
		defer ticker.Stop()
		probe = ticker.C
	}

	failures := 0
	for {
		select {
		case err := <-exited:
			if err == nil {
				err = fmt.Errorf("%s exited with status 0", s.cfg.Name)
			}
			return err
		case <-ctx.Done():
			return s.terminate(cmd, exited)
		case <-s.stop:
			return s.terminate(cmd, exited)
		case <-probe:
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			err := s.cfg.Probe(probeCtx)
			cancel()
			if err == nil {
				if failures > 0 {
					s.logger.Info("health probe recovered", "name", s.cfg.Name, "previous_failures", failures)
				}
				failures = 0
				continue
			}
			failures++
			s.logger.Warn("health probe failed", "name", s.cfg.Name, "error", err, "consecutive_failures", failures)
			if failures >= s.cfg.ProbeFailures {
				s.terminate(cmd, exited) //nolint:errcheck // the probe error explains the exit
				return fmt.Errorf("%w after %d attempts: %w", ErrUnhealthy, failures, err)
			}
		}
	}
}

// terminate sends SIGTERM to the process group, then SIGKILL after StopTimeout.
func (s *Supervisor) terminate(cmd *exec.Cmd, exited <-chan error) error {
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("signalling process group failed", "name", s.cfg.Name, "error", err)
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case err := <-exited:
		return err
	case <-timer.C:
	}

	s.logger.Warn("process ignored SIGTERM, killing", "name", s.cfg.Name, "timeout", s.cfg.StopTimeout)
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Error("killing process group failed", "name", s.cfg.Name, "error", err)
	}
	return <-exited
}

func (s *Supervisor) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// beginRestart records exitErr and reports whether another restart is allowed.
func (s *Supervisor) beginRestart(exitErr error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = exitErr
	if s.cfg.MaxRestarts > 0 && s.restarts >= s.cfg.MaxRestarts {
		s.status = StatusFailed
		return false
	}
	s.restarts++
	s.status = StatusRestarting
	s.logger.Info("restarting process", "name", s.cfg.Name, "attempt", s.restarts, "delay", s.cfg.RestartDelay)
	return true
}

// sleep waits d and reports false when supervision ended first.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.stop:
		return false
	}
}

func (s *Supervisor) setExit(status Status, err error) {
	s.mu.Lock()
	s.status = status
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()
}

// lineWriter forwards daemon output to the logger one line at a time.
type lineWriter struct {
	logger Logger
	name   string
	stream string
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineLength {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	w.logger.Debug("process output", "name", w.name, "stream", w.stream, "line", string(line))
}
