package feed

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quantglass/depthbridge/domain"
	promclient "github.com/quantglass/depthbridge/infrastructure/prometheus"
	"github.com/quantglass/depthbridge/metrics"
)

// AdapterSource yields the configured venue adapters. Satisfied by
// provider.Registry.
type AdapterSource interface {
	Venues() []domain.VenueID
	Get(venue domain.VenueID) (domain.VenueAdapter, error)
}

const subscriberBuffer = 64

// Update is one item on the consumer stream: the venue's freshest
// projection and metrics plus its connection state. Book and Metrics are
// nil on state-only updates and after the venue's data has been cleared.
type Update struct {
	Venue   domain.VenueID             `json:"venue"`
	Book    *domain.AggregatedOrderbook `json:"book,omitempty"`
	Metrics *metrics.OrderbookMetrics   `json:"metrics,omitempty"`
	State   domain.ConnectionState      `json:"state"`
}

// VenueStatus is the last-known condition of one venue.
type VenueStatus struct {
	Venue   domain.VenueID             `json:"venue"`
	State   domain.ConnectionState      `json:"state"`
	Book    *domain.AggregatedOrderbook `json:"book,omitempty"`
	Metrics *metrics.OrderbookMetrics   `json:"metrics,omitempty"`
	LastErr string                      `json:"lastError,omitempty"`
}

// Feed consumes every adapter's event stream, materializes books, derives
// metrics and fans the results out to subscribers. One goroutine per venue
// preserves each venue's event order; venues never block each other.
type Feed struct {
	registry AdapterSource
	storage  *domain.BookStorage
	log      *logrus.Entry

	mu        sync.RWMutex
	status    map[domain.VenueID]*VenueStatus
	subs      map[int]chan *Update
	nextSubID int
}

func New(registry AdapterSource) *Feed {
	return &Feed{
		registry: registry,
		storage:  domain.NewBookStorage(),
		log:      logrus.WithField("component", "feed"),
		status:   make(map[domain.VenueID]*VenueStatus),
		subs:     make(map[int]chan *Update),
	}
}

// Start spawns the per-venue consumer goroutines. Call before connecting
// the adapters so no early event is lost.
func (f *Feed) Start() {
	for _, venue := range f.registry.Venues() {
		adapter, err := f.registry.Get(venue)
		if err != nil {
			continue
		}
		f.mu.Lock()
		f.status[venue] = &VenueStatus{Venue: venue}
		f.mu.Unlock()
		go f.consume(venue, adapter)
	}
}

func (f *Feed) consume(venue domain.VenueID, adapter domain.VenueAdapter) {
	label := string(venue)
	mat := domain.NewOrderBookMaterializer(venue, adapter.Rule(), func() {
		promclient.Resyncs.WithLabelValues(label).Inc()
		adapter.Resync()
	}, f.storage)

	for ev := range adapter.Events() {
		switch e := ev.(type) {
		case *domain.SnapshotEvent:
			// draining buffered deltas inside OnSnapshot can hit a gap and
			// re-desync the book right away
			agg := mat.OnSnapshot(e)
			if agg != nil && agg.Synchronized {
				promclient.BookSynchronized.WithLabelValues(label).Set(1)
			} else {
				promclient.BookSynchronized.WithLabelValues(label).Set(0)
			}
			f.publishBook(venue, agg)

		case *domain.DeltaEvent:
			agg, err := mat.OnDelta(e)
			if agg != nil {
				promclient.AppliedDeltas.WithLabelValues(label).Inc()
				f.publishBook(venue, agg)
				continue
			}
			promclient.DroppedDeltas.WithLabelValues(label).Inc()
			if domain.IsSequenceGap(err) {
				promclient.BookSynchronized.WithLabelValues(label).Set(0)
				if book, ok := mat.Book(e.Symbol); ok {
					f.publishBook(venue, book.Aggregated())
				}
			}

		case *domain.StateEvent:
			f.onState(venue, e, mat)

		case *domain.ErrorEvent:
			f.onError(venue, e)
		}
	}
}

func (f *Feed) onState(venue domain.VenueID, e *domain.StateEvent, mat *domain.OrderBookMaterializer) {
	f.log.WithFields(logrus.Fields{
		"venue":  venue,
		"state":  e.State.String(),
		"reason": e.Reason,
	}).Info("connection state changed")

	f.mu.Lock()
	st := f.status[venue]
	st.State = e.State
	if e.State.Phase == domain.Disconnected {
		// Manual disconnect or exhausted reconnect budget: last-known data
		// must not be served anymore.
		st.Book = nil
		st.Metrics = nil
	}
	f.mu.Unlock()

	if e.State.Phase == domain.Disconnected {
		mat.Reset()
		promclient.BookSynchronized.WithLabelValues(string(venue)).Set(0)
	}
	f.publish(&Update{Venue: venue, State: e.State})
}

func (f *Feed) onError(venue domain.VenueID, e *domain.ErrorEvent) {
	f.log.WithField("venue", venue).Warnf("venue error: %s", e.Err)

	f.mu.Lock()
	f.status[venue].LastErr = e.Err.Error()
	f.mu.Unlock()
}

func (f *Feed) publishBook(venue domain.VenueID, agg *domain.AggregatedOrderbook) {
	if agg == nil {
		return
	}
	m := metrics.Calculate(agg)

	f.mu.Lock()
	st := f.status[venue]
	st.Book = agg
	st.Metrics = m
	state := st.State
	f.mu.Unlock()

	f.publish(&Update{Venue: venue, Book: agg, Metrics: m, State: state})
}

// publish fans an update out to every subscriber. A subscriber that has
// fallen subscriberBuffer updates behind starts losing the oldest ones;
// it never blocks the venue goroutine.
func (f *Feed) publish(u *Update) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// Subscribe registers a consumer stream. Per-venue update order is
// preserved; the stream is closed by Unsubscribe.
func (f *Feed) Subscribe() *domain.Subscription[*Update] {
	f.mu.Lock()
	id := f.nextSubID
	f.nextSubID++
	ch := make(chan *Update, subscriberBuffer)
	f.subs[id] = ch
	f.mu.Unlock()

	return &domain.Subscription[*Update]{
		Stream: ch,
		Topic:  fmt.Sprintf("feed-%d", id),
		Unsubscribe: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(ch)
			}
		},
	}
}

// Status reports the last-known condition of every venue in
// configuration order.
func (f *Feed) Status() []*VenueStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*VenueStatus, 0, len(f.status))
	for _, venue := range f.registry.Venues() {
		if st, ok := f.status[venue]; ok {
			copied := *st
			out = append(out, &copied)
		}
	}
	return out
}

// Book returns the venue's last published projection.
func (f *Feed) Book(venue domain.VenueID) (*domain.AggregatedOrderbook, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	st, ok := f.status[venue]
	if !ok {
		return nil, domain.ErrVenueNotFound
	}
	if st.Book == nil {
		return nil, domain.ErrBookNotFound
	}
	return st.Book, nil
}

// Metrics returns the venue's last derived metrics.
func (f *Feed) Metrics(venue domain.VenueID) (*metrics.OrderbookMetrics, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	st, ok := f.status[venue]
	if !ok {
		return nil, domain.ErrVenueNotFound
	}
	if st.Metrics == nil {
		return nil, domain.ErrBookNotFound
	}
	return st.Metrics, nil
}
