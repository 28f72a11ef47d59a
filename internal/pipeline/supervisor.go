package pipeline

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"camera-pipeline/internal/platform/metrics"
)

// Supervisor keeps exactly one encoder process running. Crashes are retried
// after RetryDelay; once the consecutive-failure streak exceeds MaxRetries it
// circuit-breaks into LongPause, resets the streak, and tries again. A run
// that stays up for at least MinUptime clears the streak.
type Supervisor struct {
	// NewCommand builds a fresh encoder invocation. The command is started
	// and waited on by the supervisor; ctx cancellation triggers a graceful
	// terminate (SIGTERM) followed by a forced kill after KillGrace.
	NewCommand func(ctx context.Context) *exec.Cmd

	// PreLaunch gates each (re)launch, e.g. the disk guard check plus output
	// directory creation. A non-nil error pauses for GateCooldown and retries
	// the gate; it does not count as a crash.
	PreLaunch func(ctx context.Context) error

	RetryDelay   time.Duration // pause after a crash within the retry budget
	LongPause    time.Duration // circuit-breaker pause after MaxRetries crashes
	MaxRetries   int           // crashes tolerated before the long pause
	MinUptime    time.Duration // run length that resets the failure streak
	GateCooldown time.Duration // pause after a failed PreLaunch gate
	KillGrace    time.Duration // SIGTERM-to-SIGKILL window on shutdown

	Log     *slog.Logger
	Metrics *metrics.Metrics

	health LoopHealth
}

// Health exposes the supervisor's failure-streak state.
func (s *Supervisor) Health() *LoopHealth { return &s.health }

// Run supervises the encoder until ctx is cancelled. It never returns early:
// every exit of the child process while ctx is live is treated as a crash.
func (s *Supervisor) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if s.PreLaunch != nil {
			if err := s.PreLaunch(ctx); err != nil {
				s.Log.Error("encoder launch gated", "error", err)
				if !wait(ctx, s.GateCooldown) {
					return
				}
				continue
			}
		}

		started := time.Now()
		err := s.runOnce(ctx)

		if ctx.Err() != nil {
			s.Log.Info("encoder stopped on shutdown")
			return
		}

		uptime := time.Since(started)
		if uptime >= s.MinUptime {
			// Long enough to count as a healthy run; forget earlier crashes.
			s.health.Success()
		}

		s.Log.Error("encoder exited unexpectedly", "error", err, "uptime", uptime.String())
		s.Metrics.IncEncoderRestarts()

		failures := s.health.Failure()
		if failures > s.MaxRetries {
			s.Log.Error("encoder crash limit reached, entering long pause",
				"failures", failures, "pause", s.LongPause.String())
			if !wait(ctx, s.LongPause) {
				return
			}
			s.health.Reset()
		} else {
			s.Log.Info("retrying encoder",
				"attempt", failures, "max_retries", s.MaxRetries, "delay", s.RetryDelay.String())
			if !wait(ctx, s.RetryDelay) {
				return
			}
		}
	}
}

// runOnce starts one encoder process and blocks until it exits. Diagnostic
// output is streamed line by line into the log.
func (s *Supervisor) runOnce(ctx context.Context) error {
	cmd := s.NewCommand(ctx)
	// Graceful terminate first; Wait force-kills after KillGrace.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.KillGrace

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}
	pid := cmd.Process.Pid
	s.Log.Info("encoder started", "pid", pid)
	s.Metrics.SetEncoderRunning(true)
	defer s.Metrics.SetEncoderRunning(false)

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		s.logEncoderLine(pid, scanner.Text())
	}

	err = cmd.Wait()
	if err == nil {
		// The encoder is expected to run forever; a clean exit is still a crash.
		err = errors.New("encoder exited with status 0")
	}
	return err
}

// logEncoderLine classifies a diagnostic line by substring match. The output
// is never parsed for correctness, only routed to a log level.
func (s *Supervisor) logEncoderLine(pid int, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	switch {
	case containsAny(line, "Error", "error", "failed", "timed out", "Connection refused"):
		s.Log.Warn("encoder", "pid", pid, "line", line)
	case containsAny(line, "frame=", "bitrate=", "speed=", "size=", "time=", "dup=", "drop="):
		// Progress chatter.
		s.Log.Debug("encoder", "pid", pid, "line", line)
	default:
		s.Log.Info("encoder", "pid", pid, "line", line)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
