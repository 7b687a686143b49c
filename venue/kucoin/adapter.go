package kucoin

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantglass/depthbridge/domain"
	"github.com/quantglass/depthbridge/transport"
)

const (
	defaultPingInterval  = 18 * time.Second
	snapshotFetchRetries = 3
	eventBuffer          = 512
)

type Options struct {
	Backoff transport.Config
}

// Adapter translates Kucoin's /market/level2 diff stream into the
// normalized event stream. The websocket endpoint is not static: a
// bullet-public token handshake returns the instance server to dial.
// Like Binance, the diff stream needs a REST snapshot bootstrap.
type Adapter struct {
	opts    Options
	log     *logrus.Entry
	syncAPI *SyncAPI
	events  chan domain.VenueEvent

	mu       sync.Mutex
	sup      *transport.Supervisor
	symbol   *domain.MarketSymbol
	topic    string
	fetchGen uint64
}

func NewAdapter(opts Options) *Adapter {
	return &Adapter{
		opts:    opts,
		log:     logrus.WithField("component", "kucoin"),
		syncAPI: NewSyncAPI(),
		events:  make(chan domain.VenueEvent, eventBuffer),
	}
}

func (a *Adapter) Venue() domain.VenueID            { return domain.VenueKucoin }
func (a *Adapter) Events() <-chan domain.VenueEvent { return a.events }
func (a *Adapter) Rule() domain.SequenceRule        { return &SequenceRule{} }

func (a *Adapter) Connect(symbol *domain.MarketSymbol, depth int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sup != nil && a.sup.State().Phase != domain.Disconnected {
		return nil
	}

	opts, err := a.syncAPI.WsConnOpts()
	if err != nil {
		return &domain.TransportError{Venue: domain.VenueKucoin, Reason: "ws token handshake failed", Err: err}
	}
	if len(opts.Servers) == 0 {
		return &domain.TransportError{Venue: domain.VenueKucoin, Reason: "ws token handshake returned no instance servers"}
	}
	server := opts.Servers[0]

	a.symbol = symbol
	a.topic = fmt.Sprintf("/market/level2:%s", strings.ToUpper(symbol.Join("-")))

	cfg := a.opts.Backoff
	cfg.Venue = domain.VenueKucoin
	cfg.URL = fmt.Sprintf("%s?token=%s&connectId=%d", server.Endpoint, opts.Token, time.Now().UnixNano())
	cfg.KeepAliveInterval = defaultPingInterval
	if server.PingInterval > 0 {
		cfg.KeepAliveInterval = time.Duration(server.PingInterval) * time.Millisecond
	}
	cfg.KeepAlivePayload = func() any {
		return map[string]string{
			"id":   strconv.FormatInt(time.Now().UnixMilli(), 10),
			"type": "ping",
		}
	}

	a.sup = transport.NewSupervisor(cfg, transport.Callbacks{
		OnOpen:    a.onOpen,
		OnMessage: a.onMessage,
		OnState: func(state domain.ConnectionState, reason string) {
			a.emit(&domain.StateEvent{Venue: domain.VenueKucoin, State: state, Reason: reason})
		},
		OnError: func(err error) {
			a.emit(&domain.ErrorEvent{Venue: domain.VenueKucoin, Err: err})
		},
	})
	a.sup.Connect()
	return nil
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	a.fetchGen++ // abandon any in-flight snapshot fetch
	sup := a.sup
	a.mu.Unlock()

	if sup != nil {
		sup.Disconnect()
	}
	return nil
}

// Resync re-fetches the aggregated book snapshot over REST.
func (a *Adapter) Resync() {
	a.mu.Lock()
	a.fetchGen++
	gen := a.fetchGen
	symbol := a.symbol
	a.mu.Unlock()

	if symbol != nil {
		go a.fetchSnapshot(gen, symbol, snapshotFetchRetries)
	}
}

func (a *Adapter) onOpen() {
	a.mu.Lock()
	sup := a.sup
	topic := a.topic
	a.mu.Unlock()

	err := sup.WriteJSON(map[string]any{
		"id":             strconv.FormatInt(time.Now().UnixMilli(), 10),
		"type":           "subscribe",
		"topic":          topic,
		"privateChannel": false,
		"response":       true,
	})
	if err != nil {
		a.emit(&domain.ErrorEvent{
			Venue: domain.VenueKucoin,
			Err:   &domain.TransportError{Venue: domain.VenueKucoin, Reason: "subscribe write failed", Err: err},
		})
		return
	}
	a.Resync()
}

type streamMessage struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Subject string          `json:"subject"`
	Code    int64           `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type depthUpdate struct {
	Changes struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
	} `json:"changes"`
	SequenceEnd   int64  `json:"sequenceEnd"`
	SequenceStart int64  `json:"sequenceStart"`
	Symbol        string `json:"symbol"`
	Time          int64  `json:"time"`
}

func (a *Adapter) onMessage(msg []byte) {
	var m streamMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		a.emitParseError("frame", err)
		return
	}

	switch m.Type {
	case "error":
		var detail string
		_ = json.Unmarshal(m.Data, &detail)
		a.emit(&domain.ErrorEvent{
			Venue: domain.VenueKucoin,
			Err: &domain.VenueSubscriptionError{
				Venue: domain.VenueKucoin,
				Msg:   fmt.Sprintf("%s (code %d)", detail, m.Code),
			},
		})
		return
	case "message":
	default:
		// welcome, ack, pong
		return
	}
	if m.Subject != "trade.l2update" {
		return
	}

	var upd depthUpdate
	if err := json.Unmarshal(m.Data, &upd); err != nil {
		a.emitParseError("l2update", err)
		return
	}

	bids, err := domain.ParseLevels(upd.Changes.Bids, domain.VenueKucoin, upd.Time)
	if err != nil {
		a.emitParseError("bid levels", err)
		return
	}
	asks, err := domain.ParseLevels(upd.Changes.Asks, domain.VenueKucoin, upd.Time)
	if err != nil {
		a.emitParseError("ask levels", err)
		return
	}

	a.emit(&domain.DeltaEvent{
		Symbol:          upd.Symbol,
		Venue:           domain.VenueKucoin,
		Timestamp:       upd.Time,
		FirstSequenceID: upd.SequenceStart,
		FinalSequenceID: upd.SequenceEnd,
		BidChanges:      bids,
		AskChanges:      asks,
	})
}

func (a *Adapter) fetchSnapshot(gen uint64, symbol *domain.MarketSymbol, retriesLeft int) {
	snapshot, err := a.syncAPI.OrderBookSnapshot(symbol)

	a.mu.Lock()
	stale := gen != a.fetchGen
	a.mu.Unlock()
	if stale {
		return
	}

	if err != nil {
		a.emit(&domain.ErrorEvent{
			Venue: domain.VenueKucoin,
			Err:   &domain.TransportError{Venue: domain.VenueKucoin, Reason: "snapshot fetch failed", Err: err},
		})
		if retriesLeft > 1 {
			time.AfterFunc(time.Second, func() {
				a.mu.Lock()
				current := gen == a.fetchGen
				a.mu.Unlock()
				if current {
					a.fetchSnapshot(gen, symbol, retriesLeft-1)
				}
			})
		}
		return
	}

	a.emit(snapshot)
}

func (a *Adapter) emitParseError(what string, err error) {
	a.emit(&domain.ErrorEvent{
		Venue: domain.VenueKucoin,
		Err:   &domain.ProtocolParseError{Venue: domain.VenueKucoin, Msg: what, Err: err},
	})
}

func (a *Adapter) emit(ev domain.VenueEvent) {
	a.events <- ev
}
