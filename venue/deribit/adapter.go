package deribit

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quantglass/depthbridge/domain"
	"github.com/quantglass/depthbridge/transport"
)

const (
	defaultEndpoint = "wss://www.deribit.com/ws/api/v2"
	eventBuffer     = 512
)

type Options struct {
	Endpoint string
	// Deribit trades instruments, not pairs; when set this overrides the
	// instrument derived from the market symbol.
	Instrument string
	// Book group interval: "100ms", "agg2" or "raw".
	Interval string
	Backoff  transport.Config
}

// Adapter translates Deribit's JSON-RPC book channel into the normalized
// event stream. The channel opens with a type=snapshot notification and
// follows with type=change notifications chained on
// change_id/prev_change_id.
type Adapter struct {
	opts   Options
	log    *logrus.Entry
	events chan domain.VenueEvent

	mu         sync.Mutex
	sup        *transport.Supervisor
	instrument string
	channel    string
}

func NewAdapter(opts Options) *Adapter {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	if opts.Interval == "" {
		opts.Interval = "100ms"
	}
	return &Adapter{
		opts:   opts,
		log:    logrus.WithField("component", "deribit"),
		events: make(chan domain.VenueEvent, eventBuffer),
	}
}

func (a *Adapter) Venue() domain.VenueID            { return domain.VenueDeribit }
func (a *Adapter) Events() <-chan domain.VenueEvent { return a.events }
func (a *Adapter) Rule() domain.SequenceRule        { return &SequenceRule{} }

func (a *Adapter) Connect(symbol *domain.MarketSymbol, depth int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sup != nil && a.sup.State().Phase != domain.Disconnected {
		return nil
	}

	a.instrument = a.opts.Instrument
	if a.instrument == "" {
		a.instrument = fmt.Sprintf("%s-PERPETUAL", symbolBase(symbol))
	}
	a.channel = fmt.Sprintf("book.%s.%s", a.instrument, a.opts.Interval)

	cfg := a.opts.Backoff
	cfg.Venue = domain.VenueDeribit
	cfg.URL = a.opts.Endpoint

	a.sup = transport.NewSupervisor(cfg, transport.Callbacks{
		OnOpen:    a.subscribe,
		OnMessage: a.onMessage,
		OnState: func(state domain.ConnectionState, reason string) {
			a.emit(&domain.StateEvent{Venue: domain.VenueDeribit, State: state, Reason: reason})
		},
		OnError: func(err error) {
			a.emit(&domain.ErrorEvent{Venue: domain.VenueDeribit, Err: err})
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

// Resync resubscribes the book channel; Deribit replays a fresh snapshot
// on subscription.
func (a *Adapter) Resync() {
	a.mu.Lock()
	sup := a.sup
	channel := a.channel
	a.mu.Unlock()
	if sup == nil {
		return
	}
	_ = sup.WriteJSON(rpcRequest("public/unsubscribe", channel))
	_ = sup.WriteJSON(rpcRequest("public/subscribe", channel))
}

func (a *Adapter) subscribe() {
	a.mu.Lock()
	sup := a.sup
	channel := a.channel
	a.mu.Unlock()
	if err := sup.WriteJSON(rpcRequest("public/subscribe", channel)); err != nil {
		a.emit(&domain.ErrorEvent{
			Venue: domain.VenueDeribit,
			Err:   &domain.TransportError{Venue: domain.VenueDeribit, Reason: "subscribe write failed", Err: err},
		})
	}
}

func rpcRequest(method, channel string) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      rand.Intn(1 << 20),
		"method":  method,
		"params":  map[string]any{"channels": []string{channel}},
	}
}

type rpcEnvelope struct {
	Method string `json:"method"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Params struct {
		Channel string   `json:"channel"`
		Data    bookData `json:"data"`
	} `json:"params"`
}

type bookData struct {
	Type           string              `json:"type"`
	Timestamp      int64               `json:"timestamp"`
	InstrumentName string              `json:"instrument_name"`
	ChangeID       int64               `json:"change_id"`
	PrevChangeID   int64               `json:"prev_change_id"`
	Bids           [][]json.RawMessage `json:"bids"`
	Asks           [][]json.RawMessage `json:"asks"`
}

func (a *Adapter) onMessage(msg []byte) {
	var m rpcEnvelope
	if err := json.Unmarshal(msg, &m); err != nil {
		a.emitParseError("frame", err)
		return
	}

	if m.Error != nil {
		a.emit(&domain.ErrorEvent{
			Venue: domain.VenueDeribit,
			Err: &domain.VenueSubscriptionError{
				Venue: domain.VenueDeribit,
				Msg:   fmt.Sprintf("%s (code %d)", m.Error.Message, m.Error.Code),
			},
		})
		return
	}
	if m.Method != "subscription" {
		// subscribe acks and heartbeats
		return
	}

	data := m.Params.Data
	bids, err := parseBookLevels(data.Bids, data.Timestamp)
	if err != nil {
		a.emitParseError("bid levels", err)
		return
	}
	asks, err := parseBookLevels(data.Asks, data.Timestamp)
	if err != nil {
		a.emitParseError("ask levels", err)
		return
	}

	switch data.Type {
	case "snapshot":
		a.emit(&domain.SnapshotEvent{
			Symbol:     data.InstrumentName,
			Venue:      domain.VenueDeribit,
			Timestamp:  data.Timestamp,
			SequenceID: data.ChangeID,
			Bids:       bids,
			Asks:       asks,
		})
	case "change":
		a.emit(&domain.DeltaEvent{
			Symbol:          data.InstrumentName,
			Venue:           domain.VenueDeribit,
			Timestamp:       data.Timestamp,
			FirstSequenceID: data.PrevChangeID,
			FinalSequenceID: data.ChangeID,
			BidChanges:      bids,
			AskChanges:      asks,
		})
	}
}

// parseBookLevels decodes Deribit's [action, price, amount] triples. A
// "delete" action becomes a zero-quantity level, which the materializer
// treats as a removal.
func parseBookLevels(raw [][]json.RawMessage, ts int64) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 3 {
			return nil, fmt.Errorf("book level has %d fields, want 3", len(entry))
		}
		var action string
		if err := json.Unmarshal(entry[0], &action); err != nil {
			return nil, fmt.Errorf("bad level action: %w", err)
		}
		var price, amount float64
		if err := json.Unmarshal(entry[1], &price); err != nil {
			return nil, fmt.Errorf("bad level price: %w", err)
		}
		if err := json.Unmarshal(entry[2], &amount); err != nil {
			return nil, fmt.Errorf("bad level amount: %w", err)
		}
		if action == "delete" {
			amount = 0
		}
		levels = append(levels, domain.PriceLevel{
			Price:     price,
			Quantity:  amount,
			Timestamp: ts,
			Venue:     domain.VenueDeribit,
		})
	}
	return levels, nil
}

func (a *Adapter) emitParseError(what string, err error) {
	a.emit(&domain.ErrorEvent{
		Venue: domain.VenueDeribit,
		Err:   &domain.ProtocolParseError{Venue: domain.VenueDeribit, Msg: what, Err: err},
	})
}

func (a *Adapter) emit(ev domain.VenueEvent) {
	a.events <- ev
}

func symbolBase(symbol *domain.MarketSymbol) string {
	if symbol == nil {
		return "BTC"
	}
	return strings.ToUpper(symbol.BaseAsset)
}
