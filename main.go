package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"spread-arbitrage-scanner/arbitrage"
	"spread-arbitrage-scanner/config"
	"spread-arbitrage-scanner/exchanges"
	"spread-arbitrage-scanner/logger"
	"spread-arbitrage-scanner/market"
	"spread-arbitrage-scanner/scanner"
	"spread-arbitrage-scanner/server"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if rendered, err := cfg.YAML(); err == nil {
		log.Debugf("effective config:\n%s", rendered)
	}

	adapters, err := buildAdapters(cfg.MarketExchanges(), cfg.MarketSymbols())
	if err != nil {
		log.WithError(err).Fatal("build adapters")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, log, adapters) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		log.Info("shutting down")
		select {
		case err = <-done:
		case <-time.After(shutdownGrace):
			log.Fatal("shutdown timed out")
		}
	}
	if err != nil {
		log.WithError(err).Fatal("scanner failed")
	}
}

func buildAdapters(venues []market.Exchange, symbols []market.Symbol) ([]exchanges.Adapter, error) {
	adapters := make([]exchanges.Adapter, 0, len(venues))
	for _, ex := range venues {
		a, err := exchanges.NewAdapter(ex, symbols)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// buildDetectors uses the configured routes, or every exchange pair per
// symbol when none are configured.
func buildDetectors(cfg *config.Config) []arbitrage.Detector {
	var detectors []arbitrage.Detector
	if len(cfg.Arbitrage.Pairs) == 0 {
		detectors = arbitrage.Pairs(cfg.MarketSymbols(), cfg.MarketExchanges())
	}
	for _, p := range cfg.Arbitrage.Pairs {
		sym, errSym := market.ParseSymbol(p.Symbol)
		buy, errBuy := market.ParseExchange(p.Buy)
		sell, errSell := market.ParseExchange(p.Sell)
		if errSym != nil || errBuy != nil || errSell != nil {
			continue
		}
		detectors = append(detectors, arbitrage.Detector{Symbol: sym, X: buy, Y: sell})
	}

	threshold := decimal.NewFromFloat(cfg.Arbitrage.Threshold)
	for i := range detectors {
		detectors[i].Threshold = threshold
		detectors[i].Interval = cfg.Arbitrage.Interval
		detectors[i].MaxQuoteAge = cfg.Arbitrage.MaxQuoteAge
	}
	return detectors
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger, adapters []exchanges.Adapter) error {
	store := market.NewStore()
	sinks := []arbitrage.Sink{arbitrage.LogSink{Log: logger.Component(log, "arbitrage")}}

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := scanner.Options{
		Adapters:      adapters,
		Detectors:     buildDetectors(cfg),
		Store:         store,
		ChannelBuffer: cfg.ChannelBuffer,
		OnUpdate:      cfg.Arbitrage.OnUpdate,
		MetricsPeriod: cfg.MetricsPeriod,
		Connection: exchanges.ManagerOptions{
			RetryDelay:       cfg.Connection.RetryDelay,
			HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		},
		Log: logger.Component(log, "scanner"),
	}

	if cfg.Redis.Enabled {
		mirror := market.NewRedisMirror(market.RedisOptions{
			Address:       cfg.Redis.Address,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			BatchSize:     cfg.Redis.BatchSize,
			Buffer:        cfg.Redis.Buffer,
			FlushInterval: cfg.Redis.FlushInterval,
		}, logger.Component(log, "redis"))

		ping, cancelPing := context.WithTimeout(ctx, 3*time.Second)
		if err := mirror.Ping(ping); err != nil {
			log.WithError(err).Warn("redis not reachable yet, mirror keeps trying")
		}
		cancelPing()

		opts.Mirror = mirror
		wg.Add(1)
		go func() {
			defer wg.Done()
			mirror.Run(ctx)
			st := mirror.Stats()
			log.WithFields(logrus.Fields{
				"written":  st.Written,
				"dropped":  st.Dropped,
				"failures": st.Failures,
			}).Info("redis mirror stopped")
			mirror.Close()
		}()
	}

	if cfg.Server.Enabled {
		hub := server.NewHub(store, server.Options{
			Address:       cfg.Server.Address,
			AlertCooldown: cfg.Server.AlertCooldown,
			QuoteInterval: cfg.Server.QuoteInterval,
		}, logger.Component(log, "server"))
		sinks = append(sinks, hub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hub.Run(ctx); err != nil {
				log.WithError(err).Error("hub stopped")
			}
		}()
	}
	opts.Sinks = sinks

	sc, err := scanner.New(opts)
	if err != nil {
		return err
	}
	return sc.Run(ctx)
}
