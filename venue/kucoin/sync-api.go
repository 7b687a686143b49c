package kucoin

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Kucoin/kucoin-go-sdk"

	"github.com/quantglass/depthbridge/domain"
)

// SyncAPI wraps the official Kucoin SDK for the two REST calls the adapter
// needs: the websocket bullet-public token handshake and the full
// aggregated book snapshot. Credentials are optional for both and read
// from KUCOIN_API_KEY / KUCOIN_SECRET_KEY / KUCOIN_PASSPHRASE.
type SyncAPI struct {
	apiService *kucoin.ApiService
}

func NewSyncAPI() *SyncAPI {
	return &SyncAPI{
		apiService: kucoin.NewApiService(
			kucoin.ApiKeyOption(os.Getenv("KUCOIN_API_KEY")),
			kucoin.ApiSecretOption(os.Getenv("KUCOIN_SECRET_KEY")),
			kucoin.ApiPassPhraseOption(os.Getenv("KUCOIN_PASSPHRASE")),
		),
	}
}

func (s *SyncAPI) WsConnOpts() (*kucoin.WebSocketTokenModel, error) {
	resp, err := s.apiService.WebSocketPublicToken()
	if err != nil {
		return nil, fmt.Errorf("failed to get ws connection options: %w", err)
	}

	data := &kucoin.WebSocketTokenModel{}
	if err = json.Unmarshal(resp.RawData, data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response body: %w, response: %s", err, resp.Message)
	}

	return data, nil
}

type orderBookSnapshot struct {
	Sequence string     `json:"sequence"`
	Time     int64      `json:"time"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

func (s *SyncAPI) OrderBookSnapshot(symbol *domain.MarketSymbol) (*domain.SnapshotEvent, error) {
	pair := strings.ToUpper(symbol.Join("-"))
	resp, err := s.apiService.AggregatedFullOrderBookV3(pair)
	if err != nil {
		return nil, fmt.Errorf("failed to get order book snapshot: %w", err)
	}

	data := &orderBookSnapshot{}
	if err = json.Unmarshal(resp.RawData, data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response body: %w, response: %s", err, resp.RawData)
	}

	sequence, err := strconv.ParseInt(data.Sequence, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to convert sequence to int: %w, response: %s", err, resp.RawData)
	}

	bids, err := domain.ParseLevels(data.Bids, domain.VenueKucoin, data.Time)
	if err != nil {
		return nil, err
	}
	asks, err := domain.ParseLevels(data.Asks, domain.VenueKucoin, data.Time)
	if err != nil {
		return nil, err
	}

	return &domain.SnapshotEvent{
		Symbol:     pair,
		Venue:      domain.VenueKucoin,
		Timestamp:  data.Time,
		SequenceID: sequence,
		Bids:       bids,
		Asks:       asks,
	}, nil
}
