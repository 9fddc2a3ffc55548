package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/netviz/netviz-go/internal/api"
	"github.com/netviz/netviz-go/internal/broadcast"
	"github.com/netviz/netviz-go/internal/broker"
	"github.com/netviz/netviz-go/internal/config"
	"github.com/netviz/netviz-go/internal/enrich"
	"github.com/netviz/netviz-go/internal/kernelsrc"
	"github.com/netviz/netviz-go/internal/store"
	"github.com/netviz/netviz-go/internal/telemetry"
	"github.com/netviz/netviz-go/internal/threat"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, continuing with process environment")
	}

	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.New()
	analyzer := threat.New()
	st := store.New(cfg.Store.MaxConnections, cfg.Store.RetentionMinutes, metrics)
	enricher := enrich.New()

	mirror, err := broadcast.Dial(cfg.Broker.RedisAddr)
	if err != nil {
		slog.Warn("main: redis mirror disabled", "error", err)
	}
	defer mirror.Close()

	var mirrorIface broker.Mirror
	if mirror != nil {
		mirrorIface = mirror
	}

	b := broker.New(st, analyzer, metrics, mirrorIface, cfg.Server.CORSAllowOrigins,
		cfg.Broker.RateLimitPerSecond, cfg.Broker.StatisticsIntervalSecs)

	source := kernelsrc.New(ctx, metrics)
	if source.Loaded() {
		slog.Info("main: kernel source attached, live ingestion active")
	} else {
		slog.Warn("main: kernel source in degraded mode, serving empty ingest")
	}

	apiServer := api.New(st, analyzer, b, source, cfg.Server.CORSAllowOrigins)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      apiServer.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("main: http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("main: http server failed", "error", err)
			stop()
		}
	}()

	go source.Run(ctx)

	go runIngestLoop(ctx, source, enricher, analyzer, st, b, metrics)

	<-ctx.Done()
	slog.Info("main: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("main: http server shutdown error", "error", err)
	}
}

// runIngestLoop is the fixed-order pipeline: enrich -> score -> store
// -> broadcast. A single goroutine drives it so the store and analyzer
// each only ever need their own lock, never a cross-component one.
func runIngestLoop(ctx context.Context, source *kernelsrc.Source, enricher *enrich.Enricher, analyzer *threat.Analyzer, st *store.Store, b *broker.Broker, metrics *telemetry.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-source.Events():
			if !ok {
				return
			}

			ev := enricher.Enrich(raw)

			start := time.Now()
			score, err := analyzer.Analyze(ev)
			metrics.ScoreDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.EventsDropped.WithLabelValues("analyzer_panic").Inc()
				continue
			}

			ev.ThreatScore = uint8(score)
			ev.IsSuspicious = score >= 50
			metrics.ThreatScore.Observe(float64(score))

			st.Ingest(ev)
			metrics.EventsIngested.Inc()

			b.Broadcast(ev)
		}
	}
}
