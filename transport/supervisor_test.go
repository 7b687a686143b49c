package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantglass/depthbridge/domain"
)

type fakeConn struct {
	msgs   chan []byte
	writes chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs:   make(chan []byte, 16),
		writes: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.msgs:
		return websocket.TextMessage, m, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writes <- data
	return nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.writes <- data
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type recorder struct {
	states chan domain.ConnectionState
	errs   chan error
	msgs   chan []byte
}

func newRecorder() *recorder {
	return &recorder{
		states: make(chan domain.ConnectionState, 32),
		errs:   make(chan error, 32),
		msgs:   make(chan []byte, 32),
	}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnMessage: func(msg []byte) { r.msgs <- msg },
		OnState:   func(s domain.ConnectionState, reason string) { r.states <- s },
		OnError:   func(err error) { r.errs <- err },
	}
}

func (r *recorder) waitPhase(t *testing.T, phase domain.ConnectionPhase) domain.ConnectionState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.states:
			if s.Phase == phase {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %s", phase)
		}
	}
}

func TestRetryDelay(t *testing.T) {
	s := NewSupervisor(Config{
		Venue:     domain.VenueBinance,
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
	}, Callbacks{})

	assert.Equal(t, 1*time.Second, s.RetryDelay(1))
	assert.Equal(t, 2*time.Second, s.RetryDelay(2))
	assert.Equal(t, 4*time.Second, s.RetryDelay(3))
	assert.Equal(t, 8*time.Second, s.RetryDelay(4))
	assert.Equal(t, 16*time.Second, s.RetryDelay(5))
	assert.Equal(t, 30*time.Second, s.RetryDelay(6))
	assert.Equal(t, 30*time.Second, s.RetryDelay(10))
}

func TestSupervisor_ReconnectBudgetExhausted(t *testing.T) {
	rec := newRecorder()
	s := NewSupervisor(Config{
		Venue:       domain.VenueBinance,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: 3,
	}, rec.callbacks())

	dials := 0
	var mu sync.Mutex
	s.dial = func(url string) (wsConn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return nil, errors.New("connection refused")
	}

	s.Connect()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-rec.errs:
			var exhausted *domain.ReconnectBudgetExhausted
			if errors.As(err, &exhausted) {
				assert.Equal(t, 3, exhausted.Attempts)
				assert.Equal(t, domain.Disconnected, s.State().Phase)
				mu.Lock()
				assert.Equal(t, 4, dials) // initial dial plus three retries
				mu.Unlock()
				return
			}
		case <-deadline:
			t.Fatal("reconnect budget was never exhausted")
		}
	}
}

func TestSupervisor_ManualDisconnectSkipsBackoff(t *testing.T) {
	rec := newRecorder()
	s := NewSupervisor(Config{
		Venue:       domain.VenueBinance,
		BaseDelay:   time.Millisecond,
		MaxAttempts: 3,
	}, rec.callbacks())

	conn := newFakeConn()
	s.dial = func(url string) (wsConn, error) { return conn, nil }

	s.Connect()
	rec.waitPhase(t, domain.Connected)

	s.Disconnect()
	state := rec.waitPhase(t, domain.Disconnected)
	assert.Equal(t, 0, state.Attempt)
	assert.Equal(t, domain.Disconnected, s.State().Phase)

	// the closed connection's read error must not schedule a reconnect
	select {
	case st := <-rec.states:
		t.Fatalf("unexpected state after manual disconnect: %s", st.String())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSupervisor_DeliversMessagesThenReconnects(t *testing.T) {
	rec := newRecorder()

	first := newFakeConn()
	second := newFakeConn()
	conns := []*fakeConn{first, second}
	var mu sync.Mutex

	s := NewSupervisor(Config{
		Venue:       domain.VenueBinance,
		BaseDelay:   time.Millisecond,
		MaxAttempts: 3,
	}, rec.callbacks())
	s.dial = func(url string) (wsConn, error) {
		mu.Lock()
		defer mu.Unlock()
		conn := conns[0]
		if len(conns) > 1 {
			conns = conns[1:]
		}
		return conn, nil
	}

	first.msgs <- []byte(`{"hello":1}`)
	s.Connect()
	rec.waitPhase(t, domain.Connected)

	require.Equal(t, []byte(`{"hello":1}`), <-rec.msgs)

	// dropping the connection drives one backoff cycle into a new session
	first.Close()
	state := rec.waitPhase(t, domain.Reconnecting)
	assert.Equal(t, 1, state.Attempt)
	rec.waitPhase(t, domain.Connected)

	second.msgs <- []byte(`{"hello":2}`)
	require.Equal(t, []byte(`{"hello":2}`), <-rec.msgs)
}

func TestSupervisor_KeepAliveFrames(t *testing.T) {
	t.Run("string payload goes out as a bare text frame", func(t *testing.T) {
		rec := newRecorder()
		s := NewSupervisor(Config{
			Venue:             domain.VenueOKX,
			KeepAliveInterval: 5 * time.Millisecond,
			KeepAlivePayload:  func() any { return "ping" },
		}, rec.callbacks())

		conn := newFakeConn()
		s.dial = func(url string) (wsConn, error) { return conn, nil }

		s.Connect()
		rec.waitPhase(t, domain.Connected)

		select {
		case frame := <-conn.writes:
			assert.Equal(t, []byte("ping"), frame)
		case <-time.After(time.Second):
			t.Fatal("no keepalive frame sent")
		}
	})

	t.Run("object payload goes out as JSON", func(t *testing.T) {
		rec := newRecorder()
		s := NewSupervisor(Config{
			Venue:             domain.VenueBybit,
			KeepAliveInterval: 5 * time.Millisecond,
			KeepAlivePayload:  func() any { return map[string]string{"op": "ping"} },
		}, rec.callbacks())

		conn := newFakeConn()
		s.dial = func(url string) (wsConn, error) { return conn, nil }

		s.Connect()
		rec.waitPhase(t, domain.Connected)

		select {
		case frame := <-conn.writes:
			assert.JSONEq(t, `{"op":"ping"}`, string(frame))
		case <-time.After(time.Second):
			t.Fatal("no keepalive frame sent")
		}
	})
}

func TestSupervisor_ConnectIsIdempotent(t *testing.T) {
	rec := newRecorder()
	s := NewSupervisor(Config{Venue: domain.VenueBinance}, rec.callbacks())

	conn := newFakeConn()
	dials := 0
	var mu sync.Mutex
	s.dial = func(url string) (wsConn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return conn, nil
	}

	s.Connect()
	rec.waitPhase(t, domain.Connected)
	s.Connect()
	s.Connect()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, dials)
	mu.Unlock()
}
