package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pindrop/internal/annotation"
	"pindrop/internal/eventbus"
	logx "pindrop/pkg/logx"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []annotation.Event

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var e annotation.Event
	if err := json.Unmarshal(b, &e); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, e)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("connection closed")
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) snapshot() []annotation.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]annotation.Event(nil), c.frames...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDisabledForwarderIsInert(t *testing.T) {
	bus := eventbus.New()
	f := New(Config{}, bus, logx.Nop())
	require.False(t, f.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.Run(ctx)
	}()

	// Publishing with no endpoint must never block or panic.
	for i := 0; i < 200; i++ {
		bus.Publish(annotation.Event{Kind: annotation.KindAdd, ID: "a1"})
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	require.Equal(t, StateDisconnected, f.State())
}

func TestDeliversEventsWhenConnected(t *testing.T) {
	bus := eventbus.New()
	f := New(Config{URL: "ws://example.invalid/ws", ReconnectDelay: 10 * time.Millisecond}, bus, logx.Nop())

	conn := newFakeConn()
	f.SetDialer(func(ctx context.Context, url string) (Conn, error) { return conn, nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	waitFor(t, func() bool { return f.State() == StateConnected })

	client := "c-1"
	bus.Publish(annotation.Event{Kind: annotation.KindAdd, ID: "a1", Position: []float64{1, 2}, ClientID: &client})
	bus.Publish(annotation.Event{Kind: annotation.KindRemove, ID: "a1"})

	waitFor(t, func() bool { return len(conn.snapshot()) == 2 })

	frames := conn.snapshot()
	require.Equal(t, annotation.KindAdd, frames[0].Kind)
	require.Equal(t, []float64{1, 2}, frames[0].Position)
	require.Equal(t, annotation.KindRemove, frames[1].Kind)
	require.Nil(t, frames[1].ClientID)
	require.Empty(t, frames[1].Position)
}

func TestReconnectDeliversOnlySubsequentEvents(t *testing.T) {
	bus := eventbus.New()
	f := New(Config{URL: "ws://example.invalid/ws", ReconnectDelay: 10 * time.Millisecond}, bus, logx.Nop())

	var attempts atomic.Int32
	conn := newFakeConn()
	f.SetDialer(func(ctx context.Context, url string) (Conn, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("endpoint down")
		}
		return conn, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	// Published while the endpoint is still down; must be dropped, not queued.
	bus.Publish(annotation.Event{Kind: annotation.KindAdd, ID: "historical"})

	waitFor(t, func() bool { return f.State() == StateConnected })

	bus.Publish(annotation.Event{Kind: annotation.KindAdd, ID: "live"})
	waitFor(t, func() bool { return len(conn.snapshot()) >= 1 })

	for _, e := range conn.snapshot() {
		require.NotEqual(t, "historical", e.ID, "historical event must not be replayed after reconnect")
	}
	require.Equal(t, "live", conn.snapshot()[0].ID)
}

func TestSendFailureTriggersReconnect(t *testing.T) {
	bus := eventbus.New()
	f := New(Config{URL: "ws://example.invalid/ws", ReconnectDelay: 10 * time.Millisecond}, bus, logx.Nop())

	first := newFakeConn()
	second := newFakeConn()
	var dials atomic.Int32
	f.SetDialer(func(ctx context.Context, url string) (Conn, error) {
		if dials.Add(1) == 1 {
			return first, nil
		}
		return second, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	waitFor(t, func() bool { return f.State() == StateConnected })

	// Kill the first connection; the forwarder must notice and redial.
	_ = first.Close()
	waitFor(t, func() bool { return dials.Load() >= 2 && f.State() == StateConnected })

	bus.Publish(annotation.Event{Kind: annotation.KindUpdate, ID: "after"})
	waitFor(t, func() bool {
		for _, e := range second.snapshot() {
			if e.ID == "after" {
				return true
			}
		}
		return false
	})
	require.Empty(t, first.snapshot(), "first connection must not receive events")
}
