package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read once at startup from the
// environment (with an optional .env file). There is no persisted state
// across restarts.
type Config struct {
	// Market selection. Symbol is the canonical base_quote form; each
	// adapter renders it into its venue's native format. Deribit trades
	// instruments rather than pairs and gets its own override.
	Symbol            string   `env:"SYMBOL" envDefault:"btc_usdt"`
	Depth             int      `env:"DEPTH" envDefault:"50"`
	UpdateInterval    string   `env:"UPDATE_INTERVAL" envDefault:"100ms"`
	Venues            []string `env:"VENUES" envSeparator:"," envDefault:"binance,bybit,okx,deribit"`
	DeribitInstrument string   `env:"DERIBIT_INSTRUMENT" envDefault:"BTC-PERPETUAL"`

	// Binance partial-depth streams are self-contained snapshots and need
	// no REST bootstrap; only depths 5, 10 and 20 are served that way.
	BinanceSnapshotOnly bool `env:"BINANCE_SNAPSHOT_ONLY" envDefault:"false"`

	// Reconnect backoff.
	ReconnectBaseDelay   time.Duration `env:"RECONNECT_BASE_DELAY" envDefault:"1s"`
	ReconnectMaxDelay    time.Duration `env:"RECONNECT_MAX_DELAY" envDefault:"30s"`
	MaxReconnectAttempts int           `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"5"`

	// Consumer surface.
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	LogJSON   bool `env:"LOG_JSON" envDefault:"false"`
	DebugMode bool `env:"DEBUG" envDefault:"false"`
}

var binanceSnapshotDepths = map[int]bool{5: true, 10: true, 20: true}

func Load() (*Config, error) {
	// Missing .env is fine, the environment may carry everything.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Depth <= 0 {
		return fmt.Errorf("depth must be positive, got %d", c.Depth)
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue must be configured")
	}
	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("reconnect attempt budget must be positive")
	}
	if c.BinanceSnapshotOnly && !binanceSnapshotDepths[c.Depth] {
		return fmt.Errorf("binance snapshot-only mode supports depths 5, 10 or 20, got %d", c.Depth)
	}
	return nil
}
