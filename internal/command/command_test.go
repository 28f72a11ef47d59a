package command

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestParseMessage_flat(t *testing.T) {
	action, runID, err := ParseMessage([]byte(`{"action":"start","runId":"run-42"}`))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if action != ActionStart || runID != "run-42" {
		t.Errorf("got (%q, %q), want (start, run-42)", action, runID)
	}
}

func TestParseMessage_envelope(t *testing.T) {
	action, runID, err := ParseMessage([]byte(`{"event":{"event":"stop","runId":"run-7"}}`))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if action != ActionStop || runID != "run-7" {
		t.Errorf("got (%q, %q), want (stop, run-7)", action, runID)
	}
}

func TestParseMessage_envelopeWins(t *testing.T) {
	raw := []byte(`{"action":"ping","event":{"event":"start","runId":"inner"}}`)
	action, runID, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if action != ActionStart || runID != "inner" {
		t.Errorf("got (%q, %q), want the envelope payload", action, runID)
	}
}

func TestParseMessage_invalidJSON(t *testing.T) {
	if _, _, err := ParseMessage([]byte("not json")); err == nil {
		t.Error("ParseMessage accepted malformed input")
	}
}

type fakeController struct {
	mu     sync.Mutex
	starts []string
	stops  []string
}

func (f *fakeController) StartStream(ctx context.Context, runID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, runID)
}

func (f *fakeController) StopStream(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, reason)
}

func (f *fakeController) snapshot() (starts, stops []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.starts...), append([]string(nil), f.stops...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatch(t *testing.T) {
	l := &Listener{Log: discardLogger()}
	ctrl := &fakeController{}
	ctx := context.Background()

	l.dispatch(ctx, []byte(`{"action":"start","runId":"a"}`), ctrl)
	l.dispatch(ctx, []byte(`{"action":"ping"}`), ctrl)
	l.dispatch(ctx, []byte(`{"action":"stop"}`), ctrl)
	l.dispatch(ctx, []byte(`{"action":"client_disconnected"}`), ctrl)
	l.dispatch(ctx, []byte(`{"action":"reboot"}`), ctrl)
	l.dispatch(ctx, []byte(`garbage`), ctrl)

	starts, stops := ctrl.snapshot()
	if len(starts) != 1 || starts[0] != "a" {
		t.Errorf("starts = %v, want [a]", starts)
	}
	if len(stops) != 2 || stops[0] != ActionStop || stops[1] != "client_disconnected" {
		t.Errorf("stops = %v", stops)
	}
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestListener_startThenDisconnectStops(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		msg := `{"action":"start","runId":"run-42"}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
		// Give the client a moment to consume, then drop the connection.
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	l := &Listener{
		URL:               wsURL(srv),
		ReconnectInterval: 50 * time.Millisecond,
		Log:               discardLogger(),
	}
	ctrl := &fakeController{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		l.Run(ctx, ctrl)
		close(done)
	}()

	deadline := time.After(3 * time.Second)
	for {
		starts, stops := ctrl.snapshot()
		if len(starts) > 0 && len(stops) > 0 {
			if starts[0] != "run-42" {
				t.Errorf("start runID = %q, want run-42", starts[0])
			}
			if stops[0] != "command channel disconnected" {
				t.Errorf("stop reason = %q", stops[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("no start+stop observed: starts=%v stops=%v", starts, stops)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not exit after cancellation")
	}
}

func TestListener_reconnectsAfterDialFailure(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials++
		mu.Unlock()
		http.Error(w, "not yet", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	l := &Listener{
		URL:               wsURL(srv),
		ReconnectInterval: 20 * time.Millisecond,
		Log:               discardLogger(),
	}
	ctrl := &fakeController{}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	l.Run(ctx, ctrl)

	mu.Lock()
	got := dials
	mu.Unlock()
	if got < 2 {
		t.Errorf("dial attempts = %d, want at least 2", got)
	}
	if _, stops := ctrl.snapshot(); len(stops) != 0 {
		t.Errorf("stops = %v, want none when never connected", stops)
	}
}
