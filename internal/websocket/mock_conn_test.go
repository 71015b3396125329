package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/52200132/SuaChuaXeMay-sub000/internal/webhooks"
)

// mockConn implements the Conn interface for testing. Read blocks until the
// connection is closed; writes are recorded for inspection.
type mockConn struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
	done   chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{done: make(chan struct{})}
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClientDisconnected
	}
	// Control frames (ping) carry no payload
	if len(data) == 0 {
		return nil
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	m.frames = append(m.frames, frame)
	return nil
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	<-m.done
	return 0, nil, ErrClientDisconnected
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *mockConn) SetReadLimit(int64)                {}
func (m *mockConn) SetReadDeadline(time.Time) error   { return nil }
func (m *mockConn) SetWriteDeadline(time.Time) error  { return nil }
func (m *mockConn) SetPongHandler(func(string) error) {}

func (m *mockConn) getFrames() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Frame, len(m.frames))
	copy(out, m.frames)
	return out
}

func (m *mockConn) framesWithEvent(event string) []Frame {
	var out []Frame
	for _, f := range m.getFrames() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// recordingEmitter captures occupancy events for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []webhooks.Event
}

func (e *recordingEmitter) Emit(_ context.Context, event webhooks.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEmitter) Close() error { return nil }

func (e *recordingEmitter) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func (e *recordingEmitter) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Name)
	}
	return out
}

// newTestClient builds a client on a mock connection and starts its write
// pump so queued frames reach the mock.
func newTestClient(hub *Hub) (*Client, *mockConn) {
	conn := newMockConn()
	client := NewClient(hub, conn)
	go client.writePump()
	return client, conn
}

// waitFor polls a condition until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
