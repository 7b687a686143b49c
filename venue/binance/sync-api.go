package binance

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quantglass/depthbridge/domain"
)

// REST depth limits accepted by /api/v3/depth.
var restDepthLimits = []int{5, 10, 20, 50, 100, 500, 1000, 5000}

// SyncAPI fetches the REST depth snapshot that bootstraps the diff stream.
type SyncAPI struct {
	endpoint string
	client   *http.Client
}

func NewSyncAPI(endpoint string) *SyncAPI {
	return &SyncAPI{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type depthSnapshotResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func (api *SyncAPI) OrderBookSnapshot(symbol *domain.MarketSymbol, limit int) (*domain.SnapshotEvent, error) {
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d",
		api.endpoint, strings.ToUpper(symbol.Join("")), snapToRestLimit(limit))

	resp, err := api.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("depth snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("depth snapshot returned status %d", resp.StatusCode)
	}

	var body depthSnapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode depth snapshot: %w", err)
	}

	now := time.Now().UnixMilli()
	bids, err := domain.ParseLevels(body.Bids, domain.VenueBinance, now)
	if err != nil {
		return nil, fmt.Errorf("bad bid levels in snapshot: %w", err)
	}
	asks, err := domain.ParseLevels(body.Asks, domain.VenueBinance, now)
	if err != nil {
		return nil, fmt.Errorf("bad ask levels in snapshot: %w", err)
	}

	return &domain.SnapshotEvent{
		Symbol:     symbol.Join(""),
		Venue:      domain.VenueBinance,
		Timestamp:  now,
		SequenceID: body.LastUpdateID,
		Bids:       bids,
		Asks:       asks,
	}, nil
}

// snapToRestLimit picks the smallest limit the endpoint accepts that still
// covers the requested depth.
func snapToRestLimit(depth int) int {
	for _, limit := range restDepthLimits {
		if depth <= limit {
			return limit
		}
	}
	return restDepthLimits[len(restDepthLimits)-1]
}
