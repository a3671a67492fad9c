// Package forwarder relays annotation change events to a realtime broadcast
// endpoint over a websocket. Delivery is best-effort and at-most-once: the
// store never waits on, and never learns about, the state of this channel.
package forwarder

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"pindrop/internal/annotation"
	"pindrop/internal/eventbus"
	logx "pindrop/pkg/logx"
)

// State of the outbound connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	defaultReconnectDelay = 2 * time.Second
	defaultBuffer         = 64
	writeTimeout          = 5 * time.Second
)

type Config struct {
	// URL of the broadcast endpoint (ws:// or wss://). Empty disables the
	// forwarder entirely; every event is then a silent no-op.
	URL string
	// ReconnectDelay is the fixed pause between reconnect attempts.
	// There is no backoff growth and no retry cap.
	ReconnectDelay time.Duration
	// RatePerSec caps outbound sends; excess events are dropped. <=0 means
	// no cap.
	RatePerSec int
	// Buffer sizes the event subscription channel.
	Buffer int
}

// Conn is the slice of a websocket connection the forwarder uses.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a connection to the broadcast endpoint.
type Dialer func(ctx context.Context, url string) (Conn, error)

func gorillaDial(ctx context.Context, url string) (Conn, error) {
	c, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Forwarder consumes events from the bus and pushes them out.
//
// Lifecycle is independent from the store: it connects at startup, and on
// any transport error falls back to Disconnected and retries forever on a
// fixed delay. Events observed while not Connected are dropped.
type Forwarder struct {
	cfg  Config
	bus  eventbus.Bus
	log  logx.Logger
	dial Dialer

	state   atomic.Int32
	limiter *rate.Limiter

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) *Forwarder {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Forwarder{cfg: cfg, bus: bus, log: log, dial: gorillaDial}
	if cfg.RatePerSec > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return f
}

// SetDialer overrides the transport. Test hook.
func (f *Forwarder) SetDialer(d Dialer) { f.dial = d }

// Enabled reports whether an endpoint is configured.
func (f *Forwarder) Enabled() bool { return f.cfg.URL != "" }

func (f *Forwarder) State() State { return State(f.state.Load()) }

// Stats returns sent/dropped counters for health output.
func (f *Forwarder) Stats() (sent, dropped uint64) {
	return f.sent.Load(), f.dropped.Load()
}

// Run drives the connect/relay loop until ctx is canceled. With no endpoint
// configured it parks in Disconnected and discards events as they arrive.
func (f *Forwarder) Run(ctx context.Context) error {
	events, unsub := f.bus.Subscribe(f.cfg.Buffer)
	defer unsub()

	if !f.Enabled() {
		f.log.Info("broadcast forwarding disabled (no endpoint configured)")
		f.drainUntil(ctx, events, nil)
		return nil
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		f.state.Store(int32(StateConnecting))
		conn, err := f.dial(ctx, f.cfg.URL)
		if err != nil {
			f.state.Store(int32(StateDisconnected))
			f.log.Debug("broadcast connect failed", logx.String("url", f.cfg.URL), logx.Err(err))
			// Fixed-delay retry; events arriving meanwhile are dropped.
			if !f.waitReconnect(ctx, events) {
				return nil
			}
			continue
		}

		f.state.Store(int32(StateConnected))
		f.log.Info("broadcast endpoint connected", logx.String("url", f.cfg.URL))

		closed := make(chan struct{})
		go readPump(conn, closed)

		f.relay(ctx, conn, events, closed)

		f.state.Store(int32(StateDisconnected))
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		f.log.Warn("broadcast endpoint disconnected", logx.String("url", f.cfg.URL))
		if !f.waitReconnect(ctx, events) {
			return nil
		}
	}
}

// relay sends events until the context ends or the connection breaks.
func (f *Forwarder) relay(ctx context.Context, conn Conn, events <-chan annotation.Event, closed <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if f.limiter != nil && !f.limiter.Allow() {
				f.dropped.Add(1)
				f.log.Debug("event dropped (rate cap)", logx.String("kind", ev.Kind), logx.String("id", ev.ID))
				continue
			}
			if c, ok := conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
				_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
			}
			if err := conn.WriteJSON(ev); err != nil {
				// Send failures are swallowed; the connection is torn down
				// and the event is lost.
				f.dropped.Add(1)
				f.log.Debug("event send failed", logx.String("kind", ev.Kind), logx.String("id", ev.ID), logx.Err(err))
				return
			}
			f.sent.Add(1)
		}
	}
}

// waitReconnect sleeps for the fixed reconnect delay while discarding any
// events that arrive. Returns false when ctx ended.
func (f *Forwarder) waitReconnect(ctx context.Context, events <-chan annotation.Event) bool {
	t := time.NewTimer(f.cfg.ReconnectDelay)
	defer t.Stop()
	return f.drainUntil(ctx, events, t.C)
}

func (f *Forwarder) drainUntil(ctx context.Context, events <-chan annotation.Event, done <-chan time.Time) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-done:
			return true
		case ev, ok := <-events:
			if !ok {
				return false
			}
			f.dropped.Add(1)
			f.log.Debug("event dropped (not connected)", logx.String("kind", ev.Kind), logx.String("id", ev.ID))
		}
	}
}

// readPump discards inbound frames; its only job is noticing closure.
func readPump(conn Conn, closed chan<- struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
