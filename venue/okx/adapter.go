package okx

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantglass/depthbridge/domain"
	"github.com/quantglass/depthbridge/transport"
)

const (
	defaultEndpoint = "wss://ws.okx.com:8443/ws/v5/public"
	pingInterval    = 25 * time.Second
	eventBuffer     = 512
)

type Options struct {
	Endpoint string
	Backoff  transport.Config
}

// Adapter translates OKX's books channel into the normalized event stream.
// The channel opens with an action=snapshot message and follows with
// action=update messages chained on seqId/prevSeqId.
type Adapter struct {
	opts   Options
	log    *logrus.Entry
	events chan domain.VenueEvent

	mu     sync.Mutex
	sup    *transport.Supervisor
	instID string
}

func NewAdapter(opts Options) *Adapter {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	return &Adapter{
		opts:   opts,
		log:    logrus.WithField("component", "okx"),
		events: make(chan domain.VenueEvent, eventBuffer),
	}
}

func (a *Adapter) Venue() domain.VenueID            { return domain.VenueOKX }
func (a *Adapter) Events() <-chan domain.VenueEvent { return a.events }
func (a *Adapter) Rule() domain.SequenceRule        { return &SequenceRule{} }

func (a *Adapter) Connect(symbol *domain.MarketSymbol, depth int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sup != nil && a.sup.State().Phase != domain.Disconnected {
		return nil
	}

	a.instID = strings.ToUpper(symbol.Join("-"))

	cfg := a.opts.Backoff
	cfg.Venue = domain.VenueOKX
	cfg.URL = a.opts.Endpoint
	cfg.KeepAliveInterval = pingInterval
	// bare text frame, answered with a bare "pong"
	cfg.KeepAlivePayload = func() any { return "ping" }

	a.sup = transport.NewSupervisor(cfg, transport.Callbacks{
		OnOpen:    a.subscribe,
		OnMessage: a.onMessage,
		OnState: func(state domain.ConnectionState, reason string) {
			a.emit(&domain.StateEvent{Venue: domain.VenueOKX, State: state, Reason: reason})
		},
		OnError: func(err error) {
			a.emit(&domain.ErrorEvent{Venue: domain.VenueOKX, Err: err})
		},
	})
	a.sup.Connect()
	return nil
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup != nil {
		sup.Disconnect()
	}
	return nil
}

// Resync resubscribes the books channel; OKX replays a fresh snapshot on
// subscription.
func (a *Adapter) Resync() {
	a.mu.Lock()
	sup := a.sup
	instID := a.instID
	a.mu.Unlock()
	if sup == nil {
		return
	}
	arg := map[string]string{"channel": "books", "instId": instID}
	_ = sup.WriteJSON(map[string]any{"op": "unsubscribe", "args": []any{arg}})
	_ = sup.WriteJSON(map[string]any{"op": "subscribe", "args": []any{arg}})
}

func (a *Adapter) subscribe() {
	a.mu.Lock()
	sup := a.sup
	instID := a.instID
	a.mu.Unlock()
	err := sup.WriteJSON(map[string]any{
		"op":   "subscribe",
		"args": []any{map[string]string{"channel": "books", "instId": instID}},
	})
	if err != nil {
		a.emit(&domain.ErrorEvent{
			Venue: domain.VenueOKX,
			Err:   &domain.TransportError{Venue: domain.VenueOKX, Reason: "subscribe write failed", Err: err},
		})
	}
}

type bookData struct {
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
	TS        string     `json:"ts"`
	SeqID     int64      `json:"seqId"`
	PrevSeqID int64      `json:"prevSeqId"`
}

type streamMessage struct {
	Event string `json:"event"`
	Msg   string `json:"msg"`
	Code  string `json:"code"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Action string     `json:"action"`
	Data   []bookData `json:"data"`
}

func (a *Adapter) onMessage(msg []byte) {
	if string(msg) == "pong" {
		return
	}

	var m streamMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		a.emitParseError("frame", err)
		return
	}

	if m.Event == "error" {
		a.emit(&domain.ErrorEvent{
			Venue: domain.VenueOKX,
			Err:   &domain.VenueSubscriptionError{Venue: domain.VenueOKX, Msg: m.Msg + " (code " + m.Code + ")"},
		})
		return
	}
	if m.Event != "" || len(m.Data) == 0 {
		return
	}

	data := m.Data[0]
	ts, err := strconv.ParseInt(data.TS, 10, 64)
	if err != nil {
		a.emitParseError("timestamp", err)
		return
	}
	bids, err := domain.ParseLevels(data.Bids, domain.VenueOKX, ts)
	if err != nil {
		a.emitParseError("bid levels", err)
		return
	}
	asks, err := domain.ParseLevels(data.Asks, domain.VenueOKX, ts)
	if err != nil {
		a.emitParseError("ask levels", err)
		return
	}

	switch m.Action {
	case "snapshot":
		a.emit(&domain.SnapshotEvent{
			Symbol:     m.Arg.InstID,
			Venue:      domain.VenueOKX,
			Timestamp:  ts,
			SequenceID: data.SeqID,
			Bids:       bids,
			Asks:       asks,
		})
	case "update":
		a.emit(&domain.DeltaEvent{
			Symbol:          m.Arg.InstID,
			Venue:           domain.VenueOKX,
			Timestamp:       ts,
			FirstSequenceID: data.PrevSeqID,
			FinalSequenceID: data.SeqID,
			BidChanges:      bids,
			AskChanges:      asks,
		})
	}
}

func (a *Adapter) emitParseError(what string, err error) {
	a.emit(&domain.ErrorEvent{
		Venue: domain.VenueOKX,
		Err:   &domain.ProtocolParseError{Venue: domain.VenueOKX, Msg: what, Err: err},
	})
}

func (a *Adapter) emit(ev domain.VenueEvent) {
	a.events <- ev
}
