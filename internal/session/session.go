// Package session tracks live stream sessions. At most one session is active
// per manager; starting a new session implicitly terminates the prior one.
package session

import (
	"context"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"camera-pipeline/internal/cloudmetrics"
	"camera-pipeline/internal/platform/metrics"
)

// Session is one continuous streaming run.
type Session struct {
	RunID        string
	RemotePrefix string // e.g. "live-stream/<runId>/"
	Dir          string // local staging directory, removed on stop
	StartedAt    time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// RunFunc drives a session: typically the supervised encoder plus the upload
// dispatcher. It must return promptly once ctx is cancelled.
type RunFunc func(ctx context.Context, sess *Session)

// Manager owns the single active session.
type Manager struct {
	BasePrefix  string // remote prefix sessions nest under, e.g. "live-stream"
	StagingBase string // parent for per-session staging dirs; "" uses os.TempDir
	StopTimeout time.Duration

	Run      RunFunc
	Log      *slog.Logger
	Metrics  *metrics.Metrics
	Reporter *cloudmetrics.Reporter

	mu     sync.Mutex
	active *Session
}

// Start launches a session for runID, terminating any active session first.
// An empty runID gets a generated one. ctx bounds the whole session: process
// shutdown cancels it.
func (m *Manager) Start(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.stopLocked("superseded by new session")
	}

	if runID == "" {
		runID = uuid.NewString()
	}

	dir, err := os.MkdirTemp(m.StagingBase, "stream-"+runID+"-")
	if err != nil {
		return err
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &Session{
		RunID:        runID,
		RemotePrefix: path.Join(m.BasePrefix, runID) + "/",
		Dir:          dir,
		StartedAt:    time.Now(),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	m.active = sess

	m.Log.Info("session started", "run_id", runID, "staging_dir", dir, "prefix", sess.RemotePrefix)
	m.Metrics.SetActiveSessions(1)
	m.Reporter.Emit(ctx, "ConnectionStatus", 1, "Count", nil)

	go func() {
		defer close(sess.done)
		m.Run(sessCtx, sess)
	}()
	return nil
}

// Stop terminates the active session, if any. It blocks until the session's
// RunFunc returns or StopTimeout elapses, then reclaims the staging dir.
func (m *Manager) Stop(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return
	}
	m.stopLocked(reason)
}

// ActiveRunID returns the run ID of the active session.
func (m *Manager) ActiveRunID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", false
	}
	return m.active.RunID, true
}

// stopLocked requires m.mu held and m.active non-nil.
func (m *Manager) stopLocked(reason string) {
	sess := m.active
	m.active = nil

	sess.cancel()

	timeout := m.StopTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-sess.done:
	case <-time.After(timeout):
		m.Log.Warn("session did not stop within timeout", "run_id", sess.RunID)
	}

	duration := time.Since(sess.StartedAt)
	m.Log.Info("session stopped", "run_id", sess.RunID, "reason", reason, "duration", duration.String())
	m.Metrics.SetActiveSessions(0)
	m.Reporter.Emit(context.Background(), "StreamDuration", duration.Seconds(), "Seconds", nil)
	m.Reporter.Emit(context.Background(), "ConnectionStatus", 0, "Count", nil)

	if err := os.RemoveAll(sess.Dir); err != nil {
		m.Log.Error("failed to remove staging dir", "dir", sess.Dir, "error", err)
	}
}
