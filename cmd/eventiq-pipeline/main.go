package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yashkuceriya/EventIQ-Platform/internal/aggregator"
	"github.com/yashkuceriya/EventIQ-Platform/internal/bus"
	"github.com/yashkuceriya/EventIQ-Platform/internal/config"
	"github.com/yashkuceriya/EventIQ-Platform/internal/counter"
	"github.com/yashkuceriya/EventIQ-Platform/internal/enrich"
	"github.com/yashkuceriya/EventIQ-Platform/internal/gateway"
	"github.com/yashkuceriya/EventIQ-Platform/internal/oracle"
	"github.com/yashkuceriya/EventIQ-Platform/internal/store"
)

// These can be overridden at build time using -ldflags:
//
//	-ldflags="-X main.version=$(git describe --tags --dirty --always) -X main.commit=$(git rev-parse --short HEAD)"
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// -------- flags & env --------
	defaultCfg := envOr("EVENTIQ_CONFIG", "config.yaml")
	var (
		cfgPath     = flag.String("config", defaultCfg, "Path to the config YAML")
		metricsAddr = flag.String("metrics.addr", envOr("EVENTIQ_METRICS_ADDR", ""), "Prometheus metrics HTTP listen address (overrides config)")
		logTime     = flag.Bool("log.timestamps", true, "Include timestamps in log output")
	)
	flag.Parse()

	if *logTime {
		log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	} else {
		log.SetFlags(0)
	}
	log.Printf("eventiq-pipeline %s (commit %s)", version, commit)

	// -------- load config --------
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *metricsAddr != "" {
		cfg.HTTP.MetricsAddr = *metricsAddr
	}
	log.Printf("loaded config from %s (brokers: %v)", *cfgPath, cfg.Kafka.Brokers)

	// -------- shared stores --------
	var counters counter.Store
	if cfg.Redis.Addr != "" {
		counters, err = counter.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("counter store unreachable at %s: %v", cfg.Redis.Addr, err)
		}
	} else {
		log.Printf("no redis address configured; using in-process counters")
		counters = counter.NewMemory()
	}
	defer func() { _ = counters.Close() }()

	var records store.RecordStore
	if cfg.Postgres.DSN != "" {
		records, err = store.NewPostgres(cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("record store unreachable: %v", err)
		}
	} else {
		log.Printf("no postgres dsn configured; using in-process record store")
		records = store.NewMemory()
	}
	defer func() { _ = records.Close() }()

	// -------- bus --------
	producer, err := bus.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		log.Fatalf("bus producer: %v", err)
	}
	defer func() { _ = producer.Close() }()

	enrichReader, err := bus.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.EnrichGroup, bus.TopicEventsValidated)
	if err != nil {
		log.Fatalf("enrichment consumer: %v", err)
	}
	aggReader, err := bus.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.AggregateGroup,
		bus.TopicEventsValidated, bus.TopicInsightsGenerated)
	if err != nil {
		log.Fatalf("aggregation consumer: %v", err)
	}

	// -------- pipeline components --------
	gw := gateway.NewService(producer, counters, gateway.Options{
		RateLimit:  cfg.Ingest.RateLimit,
		RateWindow: cfg.Ingest.RateWindow(),
		BatchMax:   cfg.Ingest.BatchMax,
		RecentTTL:  cfg.Ingest.RecentTTL(),
	})

	enricher := enrich.NewConsumer(records, oracle.NewStat(cfg.Enrich.Model), producer, counters, enrich.Options{
		WindowLimit:     cfg.Enrich.WindowLimit,
		WindowAge:       cfg.Enrich.WindowAge(),
		TrendMinPoints:  cfg.Enrich.TrendMinPoints,
		SummaryRecent:   cfg.Enrich.SummaryRecent,
		OracleTimeout:   cfg.Enrich.OracleTimeout(),
		InsightCacheTTL: cfg.Enrich.InsightCacheTTL(),
	})

	hub := aggregator.NewHub()
	aggregate := aggregator.NewConsumer(hub, counters)

	// -------- root context & signals --------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// -------- http servers --------
	gatewaySrv := &http.Server{
		Addr:              cfg.HTTP.GatewayAddr,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	realtimeSrv := &http.Server{
		Addr:              cfg.HTTP.RealtimeAddr,
		Handler:           aggregator.NewServer(hub, counters, records).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ready := &atomic.Bool{}
	metricsSrv := &http.Server{
		Addr:              cfg.HTTP.MetricsAddr,
		Handler:           setupMetricsMux(ready),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("[gateway] listening on %s", gatewaySrv.Addr)
		return serve(gatewaySrv)
	})
	g.Go(func() error {
		log.Printf("[realtime] listening on %s", realtimeSrv.Addr)
		return serve(realtimeSrv)
	})
	g.Go(func() error {
		log.Printf("metrics: listening on %s", metricsSrv.Addr)
		return serve(metricsSrv)
	})

	g.Go(func() error {
		if err := enrichReader.Run(gctx, enricher.Handle); err != nil {
			return fmt.Errorf("enrichment consumer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := aggReader.Run(gctx, aggregate.Handle); err != nil {
			return fmt.Errorf("aggregation consumer: %w", err)
		}
		return nil
	})
	ready.Store(true)

	// signal watcher
	g.Go(func() error {
		select {
		case s := <-sigCh:
			log.Printf("signal received: %s, initiating graceful shutdown", s)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	// graceful shutdown of the http servers when the group winds down
	g.Go(func() error {
		<-gctx.Done()
		shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shCancel()
		for _, srv := range []*http.Server{gatewaySrv, realtimeSrv, metricsSrv} {
			if err := srv.Shutdown(shCtx); err != nil {
				log.Printf("http shutdown error on %s: %v", srv.Addr, err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("shutdown with error: %v", err)
	} else {
		log.Printf("shutdown complete")
	}
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http %s: %w", srv.Addr, err)
	}
	return nil
}

// setupMetricsMux registers Prometheus /metrics plus simple health endpoints.
func setupMetricsMux(ready *atomic.Bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})
	return mux
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
