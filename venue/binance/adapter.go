package binance

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
	defaultStreamEndpoint = "wss://stream.binance.com:9443/ws"
	defaultRestEndpoint   = "https://api.binance.com"

	snapshotFetchRetries = 3
	eventBuffer          = 512
)

type Options struct {
	StreamEndpoint string
	RestEndpoint   string

	// SnapshotOnly selects the partial book depth stream
	// (<symbol>@depth<N>@<rate>), which delivers self-contained periodic
	// snapshots and needs no REST bootstrap. Depth must be 5, 10 or 20.
	SnapshotOnly   bool
	UpdateInterval string

	Backoff transport.Config
}

// Adapter translates Binance's diff depth stream (U/u windows plus a REST
// depth bootstrap) or its partial depth stream (snapshots only) into the
// normalized event stream.
type Adapter struct {
	opts    Options
	log     *logrus.Entry
	syncAPI *SyncAPI
	events  chan domain.VenueEvent

	mu       sync.Mutex
	sup      *transport.Supervisor
	symbol   *domain.MarketSymbol
	depth    int
	fetchGen uint64
}

func NewAdapter(opts Options) *Adapter {
	if opts.StreamEndpoint == "" {
		opts.StreamEndpoint = defaultStreamEndpoint
	}
	if opts.RestEndpoint == "" {
		opts.RestEndpoint = defaultRestEndpoint
	}
	if opts.UpdateInterval == "" {
		opts.UpdateInterval = "100ms"
	}
	return &Adapter{
		opts:    opts,
		log:     logrus.WithField("component", "binance"),
		syncAPI: NewSyncAPI(opts.RestEndpoint),
		events:  make(chan domain.VenueEvent, eventBuffer),
	}
}

func (a *Adapter) Venue() domain.VenueID            { return domain.VenueBinance }
func (a *Adapter) Events() <-chan domain.VenueEvent { return a.events }

func (a *Adapter) Rule() domain.SequenceRule {
	if a.opts.SnapshotOnly {
		return &SnapshotStreamRule{}
	}
	return &SequenceRule{}
}

func (a *Adapter) Connect(symbol *domain.MarketSymbol, depth int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sup != nil && a.sup.State().Phase != domain.Disconnected {
		return nil
	}

	if a.opts.SnapshotOnly && depth != 5 && depth != 10 && depth != 20 {
		return fmt.Errorf("binance partial depth stream supports depths 5, 10 or 20, got %d", depth)
	}
	a.symbol = symbol
	a.depth = depth

	topic := fmt.Sprintf("%s@depth@%s", symbol.Join(""), a.opts.UpdateInterval)
	if a.opts.SnapshotOnly {
		topic = fmt.Sprintf("%s@depth%d@%s", symbol.Join(""), depth, a.opts.UpdateInterval)
	}

	cfg := a.opts.Backoff
	cfg.Venue = domain.VenueBinance
	cfg.URL = a.opts.StreamEndpoint + "/" + topic
	a.sup = transport.NewSupervisor(cfg, transport.Callbacks{
		OnOpen:    a.onOpen,
		OnMessage: a.onMessage,
		OnState: func(state domain.ConnectionState, reason string) {
			a.emit(&domain.StateEvent{Venue: domain.VenueBinance, State: state, Reason: reason})
		},
		OnError: func(err error) {
			a.emit(&domain.ErrorEvent{Venue: domain.VenueBinance, Err: err})
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

// Resync re-fetches the REST snapshot. In snapshot-only mode the next
// periodic snapshot resolves the desync on its own.
func (a *Adapter) Resync() {
	if a.opts.SnapshotOnly {
		return
	}
	a.mu.Lock()
	a.fetchGen++
	gen := a.fetchGen
	symbol := a.symbol
	depth := a.depth
	a.mu.Unlock()

	if symbol != nil {
		go a.fetchSnapshot(gen, symbol, depth, snapshotFetchRetries)
	}
}

func (a *Adapter) onOpen() {
	if !a.opts.SnapshotOnly {
		a.Resync()
	}
}

func (a *Adapter) onMessage(msg []byte) {
	if a.opts.SnapshotOnly {
		a.handlePartialSnapshot(msg)
		return
	}
	a.handleDepthUpdate(msg)
}

type depthUpdateMessage struct {
	Event         string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

func (a *Adapter) handleDepthUpdate(msg []byte) {
	var m depthUpdateMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		a.emitParseError("depth update", err)
		return
	}
	if m.Event != "depthUpdate" {
		// control frames and acks carry no book data
		return
	}

	bids, err := domain.ParseLevels(m.Bids, domain.VenueBinance, m.EventTime)
	if err != nil {
		a.emitParseError("bid levels", err)
		return
	}
	asks, err := domain.ParseLevels(m.Asks, domain.VenueBinance, m.EventTime)
	if err != nil {
		a.emitParseError("ask levels", err)
		return
	}

	a.emit(&domain.DeltaEvent{
		Symbol:          strings.ToLower(m.Symbol),
		Venue:           domain.VenueBinance,
		Timestamp:       m.EventTime,
		FirstSequenceID: m.FirstUpdateID,
		FinalSequenceID: m.FinalUpdateID,
		BidChanges:      bids,
		AskChanges:      asks,
	})
}

type partialDepthMessage struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func (a *Adapter) handlePartialSnapshot(msg []byte) {
	var m partialDepthMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		a.emitParseError("partial depth snapshot", err)
		return
	}
	if m.LastUpdateID == 0 && len(m.Bids) == 0 && len(m.Asks) == 0 {
		return
	}

	now := time.Now().UnixMilli()
	bids, err := domain.ParseLevels(m.Bids, domain.VenueBinance, now)
	if err != nil {
		a.emitParseError("bid levels", err)
		return
	}
	asks, err := domain.ParseLevels(m.Asks, domain.VenueBinance, now)
	if err != nil {
		a.emitParseError("ask levels", err)
		return
	}

	a.mu.Lock()
	symbol := a.symbol.Join("")
	a.mu.Unlock()

	a.emit(&domain.SnapshotEvent{
		Symbol:     symbol,
		Venue:      domain.VenueBinance,
		Timestamp:  now,
		SequenceID: m.LastUpdateID,
		Bids:       bids,
		Asks:       asks,
	})
}

func (a *Adapter) fetchSnapshot(gen uint64, symbol *domain.MarketSymbol, depth, retriesLeft int) {
	snapshot, err := a.syncAPI.OrderBookSnapshot(symbol, depth)

	a.mu.Lock()
	stale := gen != a.fetchGen
	a.mu.Unlock()
	if stale {
		return
	}

	if err != nil {
		a.emit(&domain.ErrorEvent{
			Venue: domain.VenueBinance,
			Err:   &domain.TransportError{Venue: domain.VenueBinance, Reason: "snapshot fetch failed", Err: err},
		})
		if retriesLeft > 1 {
			time.AfterFunc(time.Second, func() {
				a.mu.Lock()
				current := gen == a.fetchGen
				a.mu.Unlock()
				if current {
					a.fetchSnapshot(gen, symbol, depth, retriesLeft-1)
				}
			})
		}
		return
	}

	a.emit(snapshot)
}

func (a *Adapter) emitParseError(what string, err error) {
	a.emit(&domain.ErrorEvent{
		Venue: domain.VenueBinance,
		Err:   &domain.ProtocolParseError{Venue: domain.VenueBinance, Msg: what, Err: err},
	})
}

func (a *Adapter) emit(ev domain.VenueEvent) {
	a.events <- ev
}
