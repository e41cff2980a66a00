package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-cascade/internal/log"
	"github.com/teslashibe/go-cascade/pkg/cascade"
)

// fakeConn blocks reads until closed and records writes.
type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	types  []int
	wrote  chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		wrote:  make(chan struct{}, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("closed")
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("closed")
	default:
	}
	f.mu.Lock()
	f.writes = append(f.writes, data)
	f.types = append(f.types, mt)
	f.mu.Unlock()
	f.wrote <- struct{}{}
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) textWrites() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for i, w := range f.writes {
		if f.types[i] == websocket.TextMessage {
			out = append(out, w)
		}
	}
	return out
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", WithLogger(log.Discard()))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	waitFor(t, h.IsRunning)
	t.Cleanup(cancel)
	return h, cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcast(t *testing.T) {
	h, _ := startHub(t)

	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	for _, fc := range conns {
		c := NewClient(h, fc)
		if c == nil {
			t.Fatal("NewClient returned nil on a running hub")
		}
		go c.Run()
	}
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	if err := h.BroadcastJSON(map[string]string{"hello": "world"}); err != nil {
		t.Fatal(err)
	}

	for i, fc := range conns {
		select {
		case <-fc.wrote:
		case <-time.After(2 * time.Second):
			t.Fatalf("client %d got nothing", i)
		}
		got := fc.textWrites()
		if len(got) != 1 || string(got[0]) != `{"hello":"world"}` {
			t.Errorf("client %d writes = %q", i, got)
		}
	}
}

func TestHubClientDisconnect(t *testing.T) {
	h, _ := startHub(t)

	fc := newFakeConn()
	c := NewClient(h, fc)
	done := make(chan struct{})
	go func() {
		c.Run()
		close(done)
	}()
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	fc.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the connection closed")
	}
	waitFor(t, func() bool { return h.ClientCount() == 0 })
}

func TestHubObserver(t *testing.T) {
	h, _ := startHub(t)

	fc := newFakeConn()
	go NewClient(h, fc).Run()
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	observe := h.Observer()
	observe(cascade.Event{
		Classifier: "face.xml",
		Image:      "file:///a.png",
		Objects:    []cascade.Detection{{"x": 0.5}},
	})

	select {
	case <-fc.wrote:
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	var ev cascade.Event
	if err := json.Unmarshal(fc.textWrites()[0], &ev); err != nil {
		t.Fatalf("event is not JSON: %v", err)
	}
	if ev.Classifier != "face.xml" || len(ev.Objects) != 1 {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestHubStop(t *testing.T) {
	h, cancel := startHub(t)

	fc := newFakeConn()
	go NewClient(h, fc).Run()
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	cancel()
	waitFor(t, func() bool { return !h.IsRunning() })

	if h.ClientCount() != 0 {
		t.Errorf("clients left after stop: %d", h.ClientCount())
	}
	if c := NewClient(h, newFakeConn()); c != nil {
		t.Error("NewClient on a stopped hub should return nil")
	}
}

func TestBroadcastNeverBlocks(t *testing.T) {
	// Not running, so nothing drains the queue
	h := New("idle", WithLogger(log.Discard()))

	sent := 0
	for i := 0; i < 300; i++ {
		if h.Broadcast([]byte("x")) {
			sent++
		}
	}
	if sent != 256 {
		t.Errorf("queued %d messages, want 256", sent)
	}
	if h.Dropped() != 44 {
		t.Errorf("Dropped = %d, want 44", h.Dropped())
	}
}
