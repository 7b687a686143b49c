package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	"github.com/quantglass/depthbridge/domain"
	promclient "github.com/quantglass/depthbridge/infrastructure/prometheus"
)

var ErrNotConnected = errors.New("websocket is not connected")

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultBaseDelay        = time.Second
	defaultMaxDelay         = 30 * time.Second
	defaultMaxAttempts      = 5
)

// Callbacks are invoked by the supervisor. OnMessage runs on the read
// goroutine; handlers must not block.
type Callbacks struct {
	// OnOpen fires after every successful dial, before any message. Send
	// subscription handshakes here.
	OnOpen    func()
	OnMessage func(msg []byte)
	OnState   func(state domain.ConnectionState, reason string)
	OnError   func(err error)
}

type Config struct {
	Venue            domain.VenueID
	URL              string
	HandshakeTimeout time.Duration

	// Reconnect backoff: delay = BaseDelay * 2^(attempt-1), capped at
	// MaxDelay; after MaxAttempts failed attempts the supervisor surfaces
	// ReconnectBudgetExhausted and stays disconnected.
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// Optional application-level keepalive frame, required by venues that
	// drop quiet clients (bybit, okx, kucoin).
	KeepAliveInterval time.Duration
	KeepAlivePayload  func() any
}

// Supervisor owns one websocket connection lifecycle: dialing, the read
// loop, exponential-backoff reconnection and manual teardown.
//
// A generation counter is attached to every connect session; manual
// disconnects bump it, so late dial results, read errors and reconnect
// timers from a superseded session are provably ignored.
type Supervisor struct {
	cfg Config
	cb  Callbacks
	log *logrus.Entry

	// swappable for tests
	dial func(url string) (wsConn, error)

	mu         sync.Mutex
	conn       wsConn
	state      domain.ConnectionState
	generation uint64
	attempt    int
	retryTimer *time.Timer
}

// wsConn is the slice of *websocket.Conn the supervisor uses.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

func NewSupervisor(cfg Config, cb Callbacks) *Supervisor {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	s := &Supervisor{
		cfg:   cfg,
		cb:    cb,
		log:   logrus.WithField("component", string(cfg.Venue)+"-transport"),
		state: domain.ConnectionState{Phase: domain.Disconnected},
	}
	s.dial = func(url string) (wsConn, error) {
		dialer := websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
		conn, _, err := dialer.Dial(url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return s
}

func (s *Supervisor) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) IsConnected() bool {
	return s.State().Phase == domain.Connected
}

// Connect starts a new connect session. No-op unless disconnected.
func (s *Supervisor) Connect() {
	s.mu.Lock()
	if s.state.Phase != domain.Disconnected {
		s.mu.Unlock()
		return
	}
	s.stopRetryLocked()
	s.generation++
	gen := s.generation
	s.attempt = 0
	s.state = domain.ConnectionState{Phase: domain.Connecting}
	s.mu.Unlock()

	s.notifyState(domain.ConnectionState{Phase: domain.Connecting}, "")
	go s.dialAndRun(gen)
}

// Disconnect closes the connection with a normal-closure code, cancels any
// pending reconnect timer and forces the disconnected state, bypassing
// backoff. Safe to call when not connected.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	s.generation++
	s.stopRetryLocked()
	conn := s.conn
	s.conn = nil
	s.attempt = 0
	s.state = domain.ConnectionState{Phase: domain.Disconnected}
	s.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "manual disconnect")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
	}
	s.notifyState(domain.ConnectionState{Phase: domain.Disconnected}, "manual")
}

// WriteJSON sends one JSON frame. Serialized by the supervisor's lock.
func (s *Supervisor) WriteJSON(v any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteJSON(v)
}

// WriteText sends one bare text frame, for venues whose keepalive is a raw
// "ping" rather than a JSON object.
func (s *Supervisor) WriteText(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// RetryDelay is the backoff delay scheduled before the given attempt
// (1-based): BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (s *Supervisor) RetryDelay(attempt int) time.Duration {
	b := &backoff.Backoff{
		Min:    s.cfg.BaseDelay,
		Max:    s.cfg.MaxDelay,
		Factor: 2,
	}
	return b.ForAttempt(float64(attempt - 1))
}

func (s *Supervisor) dialAndRun(gen uint64) {
	conn, err := s.dial(s.cfg.URL)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.notifyError(&domain.TransportError{Venue: s.cfg.Venue, Reason: "dial failed", Err: err})
		s.scheduleReconnect(gen, "dial failed")
		return
	}
	s.conn = conn
	s.attempt = 0
	s.state = domain.ConnectionState{Phase: domain.Connected}
	s.mu.Unlock()

	s.log.WithField("url", s.cfg.URL).Info("connected")
	s.notifyState(domain.ConnectionState{Phase: domain.Connected}, "")
	if s.cb.OnOpen != nil {
		s.cb.OnOpen()
	}
	go s.keepAlive(gen)
	s.readLoop(conn, gen)
}

func (s *Supervisor) readLoop(conn wsConn, gen uint64) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			current := gen == s.generation
			if current {
				s.conn = nil
			}
			s.mu.Unlock()
			if !current {
				// superseded by a manual disconnect or a newer session
				return
			}
			_ = conn.Close()
			s.notifyError(&domain.TransportError{Venue: s.cfg.Venue, Reason: "connection lost", Err: err})
			s.scheduleReconnect(gen, "connection lost")
			return
		}
		if s.cb.OnMessage != nil {
			s.cb.OnMessage(msg)
		}
	}
}

func (s *Supervisor) scheduleReconnect(gen uint64, reason string) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.attempt++
	attempt := s.attempt
	if attempt > s.cfg.MaxAttempts {
		s.attempt = 0
		s.state = domain.ConnectionState{Phase: domain.Disconnected}
		s.mu.Unlock()

		s.log.WithField("attempts", s.cfg.MaxAttempts).Error("reconnect budget exhausted")
		s.notifyState(domain.ConnectionState{Phase: domain.Disconnected}, "reconnect budget exhausted")
		s.notifyError(&domain.ReconnectBudgetExhausted{Venue: s.cfg.Venue, Attempts: s.cfg.MaxAttempts})
		return
	}

	delay := s.RetryDelay(attempt)
	state := domain.ConnectionState{Phase: domain.Reconnecting, Attempt: attempt}
	s.state = state
	s.retryTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.dialAndRun(gen)
	})
	s.mu.Unlock()

	promclient.ReconnectAttempts.WithLabelValues(string(s.cfg.Venue)).Inc()
	s.log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Warn("scheduling reconnect")
	s.notifyState(state, reason)
}

func (s *Supervisor) stopRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Supervisor) keepAlive(gen uint64) {
	if s.cfg.KeepAliveInterval <= 0 || s.cfg.KeepAlivePayload == nil {
		return
	}
	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		current := gen == s.generation
		s.mu.Unlock()
		if !current {
			return
		}
		var err error
		switch payload := s.cfg.KeepAlivePayload().(type) {
		case string:
			err = s.WriteText([]byte(payload))
		case []byte:
			err = s.WriteText(payload)
		default:
			err = s.WriteJSON(payload)
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) notifyState(state domain.ConnectionState, reason string) {
	if s.cb.OnState != nil {
		s.cb.OnState(state, reason)
	}
}

func (s *Supervisor) notifyError(err error) {
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}
