package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedsync/config"
	"feedsync/internal/feed"
	"feedsync/internal/memorystore"
	"feedsync/logger"
	"feedsync/pkg/binance"
	"feedsync/pkg/storage/postgres"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	// Optional closed-candle persistence
	var persist *postgres.Client
	if cfg.Postgres.Enabled {
		persist, err = postgres.InitializeAndMigrateCandleRecord(cfg.Postgres, cfg.Log.Environment, true)
		if err != nil {
			log.Fatal("failed to connect to DB", zap.Error(err))
		}
		defer persist.Close()
	}

	rest := binance.NewRESTClient(cfg.Binance.REST.BaseURL, cfg.Binance.REST.Timeout)
	store := memorystore.NewStore(cfg.Engine.TradeTapeCapacity, cfg.Engine.MaxCandles)

	manager := feed.NewManager(cfg, rest, func(key feed.Key) feed.Sink {
		return store.View(key)
	}, persist, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, sub := range cfg.Subscriptions {
		key := feed.Key{Symbol: sub.Symbol, Interval: sub.Interval}
		if err := manager.Subscribe(ctx, key); err != nil {
			log.Fatal("subscribe failed", zap.String("key", key.String()), zap.Error(err))
		}
	}

	// Periodically print stored candle count for visibility
	go func() {
		for {
			log.Info("current stored candles", zap.Int("count", store.CountCandles()))
			time.Sleep(5 * time.Second)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	manager.Close()
}
