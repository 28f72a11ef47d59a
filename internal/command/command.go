// Package command consumes the realtime command channel that drives live
// stream sessions: a websocket carrying JSON {action, runId} messages.
// Connection loss is treated as an implicit stop.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Actions understood by the listener. "ping" is acknowledged in the log but
// triggers no session change.
const (
	ActionStart        = "start"
	ActionStop         = "stop"
	ActionPing         = "ping"
	actionDisconnected = "client_disconnected"
)

// Controller receives session commands.
type Controller interface {
	StartStream(ctx context.Context, runID string)
	StopStream(reason string)
}

// Message is the wire format. Some producers nest the payload under an
// "event" envelope; ParseMessage handles both shapes.
type Message struct {
	Action string `json:"action"`
	RunID  string `json:"runId"`

	Event *struct {
		Event string `json:"event"`
		RunID string `json:"runId"`
	} `json:"event"`
}

// ParseMessage extracts action and runId from a raw command payload.
func ParseMessage(raw []byte) (action, runID string, err error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", "", fmt.Errorf("invalid command message: %w", err)
	}
	if msg.Event != nil {
		return msg.Event.Event, msg.Event.RunID, nil
	}
	return msg.Action, msg.RunID, nil
}

// Listener maintains the websocket connection with unbounded
// reconnect-with-pause and dispatches commands to a Controller.
type Listener struct {
	URL               string
	ReconnectInterval time.Duration

	// Ping/pong keepalive; zero values get defaults (30s/60s/10s).
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration

	Log *slog.Logger
}

// Run connects, reads, and reconnects until ctx is cancelled.
func (l *Listener) Run(ctx context.Context, ctrl Controller) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	for ctx.Err() == nil {
		l.Log.Info("connecting to command channel", "url", l.URL)
		conn, resp, err := dialer.DialContext(ctx, l.URL, nil)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
				resp.Body.Close()
			}
			l.Log.Error("command channel dial failed", "error", err, "status", status)
		} else {
			l.Log.Info("command channel connected")
			l.readLoop(ctx, conn, ctrl)
			conn.Close()
			// Disconnect is an implicit stop trigger.
			ctrl.StopStream("command channel disconnected")
		}

		if !sleepCtx(ctx, l.ReconnectInterval) {
			return
		}
	}
}

// readLoop consumes messages until the connection breaks or ctx is cancelled.
func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn, ctrl Controller) {
	pongWait := l.PongWait
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	pingInterval := l.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	writeWait := l.WriteWait
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		// Closing the connection unblocks ReadMessage on shutdown.
		<-loopCtx.Done()
		conn.Close()
	}()

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.Log.Error("command channel read error", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		l.dispatch(ctx, raw, ctrl)
	}
}

func (l *Listener) dispatch(ctx context.Context, raw []byte, ctrl Controller) {
	action, runID, err := ParseMessage(raw)
	if err != nil {
		l.Log.Error("bad command message", "error", err, "raw", string(raw))
		return
	}
	switch action {
	case ActionStart:
		l.Log.Info("start command received", "run_id", runID)
		ctrl.StartStream(ctx, runID)
	case ActionStop, actionDisconnected:
		l.Log.Info("stop command received", "action", action)
		ctrl.StopStream(action)
	case ActionPing:
		l.Log.Debug("ping received")
	default:
		l.Log.Warn("unknown command action", "action", action)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 5 * time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
