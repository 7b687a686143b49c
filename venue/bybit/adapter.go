package bybit

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantglass/depthbridge/domain"
	"github.com/quantglass/depthbridge/transport"
)

const (
	defaultEndpoint = "wss://stream.bybit.com/v5/public/spot"
	pingInterval    = 20 * time.Second
	eventBuffer     = 512
)

// Depths the v5 spot orderbook topic serves.
var allowedDepths = []int{1, 50, 200}

type Options struct {
	Endpoint string
	Backoff  transport.Config
}

// Adapter translates Bybit's v5 public spot orderbook topic into the
// normalized event stream. The stream opens with a full snapshot message
// and follows with deltas chained on the update id.
type Adapter struct {
	opts   Options
	log    *logrus.Entry
	events chan domain.VenueEvent

	mu     sync.Mutex
	sup    *transport.Supervisor
	symbol *domain.MarketSymbol
	topic  string
}

func NewAdapter(opts Options) *Adapter {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	return &Adapter{
		opts:   opts,
		log:    logrus.WithField("component", "bybit"),
		events: make(chan domain.VenueEvent, eventBuffer),
	}
}

func (a *Adapter) Venue() domain.VenueID            { return domain.VenueBybit }
func (a *Adapter) Events() <-chan domain.VenueEvent { return a.events }
func (a *Adapter) Rule() domain.SequenceRule        { return &SequenceRule{} }

func (a *Adapter) Connect(symbol *domain.MarketSymbol, depth int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sup != nil && a.sup.State().Phase != domain.Disconnected {
		return nil
	}

	a.symbol = symbol
	a.topic = fmt.Sprintf("orderbook.%d.%s", snapDepth(depth), strings.ToUpper(symbol.Join("")))

	cfg := a.opts.Backoff
	cfg.Venue = domain.VenueBybit
	cfg.URL = a.opts.Endpoint
	cfg.KeepAliveInterval = pingInterval
	cfg.KeepAlivePayload = func() any { return map[string]string{"op": "ping"} }

	a.sup = transport.NewSupervisor(cfg, transport.Callbacks{
		OnOpen:    a.subscribe,
		OnMessage: a.onMessage,
		OnState: func(state domain.ConnectionState, reason string) {
			a.emit(&domain.StateEvent{Venue: domain.VenueBybit, State: state, Reason: reason})
		},
		OnError: func(err error) {
			a.emit(&domain.ErrorEvent{Venue: domain.VenueBybit, Err: err})
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

// Resync resubscribes the topic; Bybit replays a fresh snapshot on
// subscription.
func (a *Adapter) Resync() {
	a.mu.Lock()
	sup := a.sup
	topic := a.topic
	a.mu.Unlock()
	if sup == nil {
		return
	}
	_ = sup.WriteJSON(map[string]any{"op": "unsubscribe", "args": []string{topic}})
	_ = sup.WriteJSON(map[string]any{"op": "subscribe", "args": []string{topic}})
}

func (a *Adapter) subscribe() {
	a.mu.Lock()
	sup := a.sup
	topic := a.topic
	a.mu.Unlock()
	if err := sup.WriteJSON(map[string]any{"op": "subscribe", "args": []string{topic}}); err != nil {
		a.emit(&domain.ErrorEvent{
			Venue: domain.VenueBybit,
			Err:   &domain.TransportError{Venue: domain.VenueBybit, Reason: "subscribe write failed", Err: err},
		})
	}
}

type ackMessage struct {
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Op      string `json:"op"`
}

type orderbookData struct {
	Symbol   string     `json:"s"`
	Bids     [][]string `json:"b"`
	Asks     [][]string `json:"a"`
	UpdateID int64      `json:"u"`
	Seq      int64      `json:"seq"`
}

type streamMessage struct {
	Topic string        `json:"topic"`
	Type  string        `json:"type"`
	TS    int64         `json:"ts"`
	Data  orderbookData `json:"data"`
}

func (a *Adapter) onMessage(msg []byte) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(msg, &probe); err != nil {
		a.emitParseError("frame", err)
		return
	}

	if _, ok := probe["success"]; ok {
		var ack ackMessage
		if err := json.Unmarshal(msg, &ack); err != nil {
			a.emitParseError("ack", err)
			return
		}
		if !ack.Success && ack.Op == "subscribe" {
			a.emit(&domain.ErrorEvent{
				Venue: domain.VenueBybit,
				Err:   &domain.VenueSubscriptionError{Venue: domain.VenueBybit, Msg: ack.RetMsg},
			})
		}
		return
	}

	if _, ok := probe["topic"]; !ok {
		return
	}

	var m streamMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		a.emitParseError("orderbook message", err)
		return
	}

	bids, err := domain.ParseLevels(m.Data.Bids, domain.VenueBybit, m.TS)
	if err != nil {
		a.emitParseError("bid levels", err)
		return
	}
	asks, err := domain.ParseLevels(m.Data.Asks, domain.VenueBybit, m.TS)
	if err != nil {
		a.emitParseError("ask levels", err)
		return
	}

	switch m.Type {
	case "snapshot":
		a.emit(&domain.SnapshotEvent{
			Symbol:     m.Data.Symbol,
			Venue:      domain.VenueBybit,
			Timestamp:  m.TS,
			SequenceID: m.Data.UpdateID,
			Bids:       bids,
			Asks:       asks,
		})
	case "delta":
		a.emit(&domain.DeltaEvent{
			Symbol:          m.Data.Symbol,
			Venue:           domain.VenueBybit,
			Timestamp:       m.TS,
			FirstSequenceID: m.Data.UpdateID,
			FinalSequenceID: m.Data.UpdateID,
			BidChanges:      bids,
			AskChanges:      asks,
		})
	}
}

func (a *Adapter) emitParseError(what string, err error) {
	a.emit(&domain.ErrorEvent{
		Venue: domain.VenueBybit,
		Err:   &domain.ProtocolParseError{Venue: domain.VenueBybit, Msg: what, Err: err},
	})
}

func (a *Adapter) emit(ev domain.VenueEvent) {
	a.events <- ev
}

func snapDepth(depth int) int {
	for _, d := range allowedDepths {
		if depth <= d {
			return d
		}
	}
	return allowedDepths[len(allowedDepths)-1]
}
