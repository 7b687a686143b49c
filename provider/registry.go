package provider

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quantglass/depthbridge/config"
	"github.com/quantglass/depthbridge/domain"
	"github.com/quantglass/depthbridge/transport"
	"github.com/quantglass/depthbridge/venue/binance"
	"github.com/quantglass/depthbridge/venue/bybit"
	"github.com/quantglass/depthbridge/venue/deribit"
	"github.com/quantglass/depthbridge/venue/kucoin"
	"github.com/quantglass/depthbridge/venue/okx"
)

var logger = logrus.WithField("component", "registry")

// Registry builds and owns one adapter per configured venue. Adapters are
// constructed eagerly at startup; connections are dialed by ConnectAll.
type Registry struct {
	adapters map[domain.VenueID]domain.VenueAdapter
	order    []domain.VenueID
}

func NewRegistry(cfg *config.Config) (*Registry, error) {
	backoff := transport.Config{
		BaseDelay:   cfg.ReconnectBaseDelay,
		MaxDelay:    cfg.ReconnectMaxDelay,
		MaxAttempts: cfg.MaxReconnectAttempts,
	}

	r := &Registry{adapters: make(map[domain.VenueID]domain.VenueAdapter)}
	for _, name := range cfg.Venues {
		venue := domain.VenueID(name)
		if _, dup := r.adapters[venue]; dup {
			continue
		}

		var adapter domain.VenueAdapter
		switch venue {
		case domain.VenueBinance:
			adapter = binance.NewAdapter(binance.Options{
				SnapshotOnly:   cfg.BinanceSnapshotOnly,
				UpdateInterval: cfg.UpdateInterval,
				Backoff:        backoff,
			})
		case domain.VenueBybit:
			adapter = bybit.NewAdapter(bybit.Options{Backoff: backoff})
		case domain.VenueOKX:
			adapter = okx.NewAdapter(okx.Options{Backoff: backoff})
		case domain.VenueDeribit:
			adapter = deribit.NewAdapter(deribit.Options{
				Instrument: cfg.DeribitInstrument,
				Backoff:    backoff,
			})
		case domain.VenueKucoin:
			adapter = kucoin.NewAdapter(kucoin.Options{Backoff: backoff})
		default:
			return nil, fmt.Errorf("%w: %s", domain.ErrVenueNotFound, name)
		}

		r.adapters[venue] = adapter
		r.order = append(r.order, venue)
	}
	return r, nil
}

func (r *Registry) Get(venue domain.VenueID) (domain.VenueAdapter, error) {
	adapter, ok := r.adapters[venue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrVenueNotFound, venue)
	}
	return adapter, nil
}

// Venues returns the configured venues in configuration order.
func (r *Registry) Venues() []domain.VenueID {
	out := make([]domain.VenueID, len(r.order))
	copy(out, r.order)
	return out
}

// ConnectAll dials every adapter concurrently and waits for all of them
// to start. A venue that fails to connect does not block the others.
func (r *Registry) ConnectAll(symbol *domain.MarketSymbol, depth int) {
	wg := &sync.WaitGroup{}
	for _, venue := range r.order {
		adapter := r.adapters[venue]
		wg.Add(1)
		go func(venue domain.VenueID, adapter domain.VenueAdapter) {
			defer wg.Done()
			if err := adapter.Connect(symbol, depth); err != nil {
				logger.WithField("venue", venue).Errorf("failed to connect: %s", err)
			}
		}(venue, adapter)
	}
	wg.Wait()
}

func (r *Registry) DisconnectAll() {
	for _, venue := range r.order {
		if err := r.adapters[venue].Disconnect(); err != nil {
			logger.WithField("venue", venue).Errorf("failed to disconnect: %s", err)
		}
	}
}
