package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/quantglass/depthbridge/config"
	"github.com/quantglass/depthbridge/domain"
	"github.com/quantglass/depthbridge/feed"
	promclient "github.com/quantglass/depthbridge/infrastructure/prometheus"
	"github.com/quantglass/depthbridge/provider"
	"github.com/quantglass/depthbridge/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %s", err)
	}
	setupLogger(cfg)

	symbol, err := domain.NewMarketSymbolFromString(cfg.Symbol)
	if err != nil {
		logrus.Fatalf("invalid symbol %q: %s", cfg.Symbol, err)
	}

	registry, err := provider.NewRegistry(cfg)
	if err != nil {
		logrus.Fatalf("failed to build venue registry: %s", err)
	}

	f := feed.New(registry)
	f.Start()

	go promclient.StartPromClientServer(cfg.MetricsAddr)

	registry.ConnectAll(symbol, cfg.Depth)
	logrus.WithFields(logrus.Fields{
		"symbol": symbol.String(),
		"depth":  cfg.Depth,
		"venues": cfg.Venues,
	}).Info("venue connections started")

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server.New(f)}
	go func() {
		logrus.Infof("http server listening at %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("http server failed: %s", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logrus.Info("shutting down")
	registry.DisconnectAll()
	httpServer.Close()
}

func setupLogger(cfg *config.Config) {
	if cfg.LogJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	if cfg.DebugMode {
		logrus.SetLevel(logrus.DebugLevel)
	}
}
