package domain

import (
	"fmt"
	"strings"
)

// MarketSymbol is a trading pair in venue-neutral form. Venue adapters
// render it into their native format (BTCUSDT, BTC-USDT, ...).
type MarketSymbol struct {
	BaseAsset  string
	QuoteAsset string
}

func NewMarketSymbol(base, quote string) (*MarketSymbol, error) {
	if base == "" || quote == "" {
		return nil, fmt.Errorf("base and quote must not be empty")
	}
	if strings.EqualFold(base, quote) {
		return nil, fmt.Errorf("base and quote must be different")
	}
	return &MarketSymbol{
		BaseAsset:  strings.ToLower(base),
		QuoteAsset: strings.ToLower(quote),
	}, nil
}

// NewMarketSymbolFromString parses the canonical "base_quote" form.
func NewMarketSymbolFromString(s string) (*MarketSymbol, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid market symbol %q, expected base_quote", s)
	}
	return NewMarketSymbol(parts[0], parts[1])
}

func (ms *MarketSymbol) Join(separator string) string {
	return ms.BaseAsset + separator + ms.QuoteAsset
}

func (ms *MarketSymbol) String() string {
	return ms.Join("_")
}

func (ms *MarketSymbol) Equal(other *MarketSymbol) bool {
	return ms.BaseAsset == other.BaseAsset && ms.QuoteAsset == other.QuoteAsset
}
