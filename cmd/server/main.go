package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/urlwarden/urlwarden-go/internal/auth"
	"github.com/urlwarden/urlwarden-go/internal/collect"
	"github.com/urlwarden/urlwarden-go/internal/config"
	"github.com/urlwarden/urlwarden-go/internal/db"
	"github.com/urlwarden/urlwarden-go/internal/enrich"
	"github.com/urlwarden/urlwarden-go/internal/events"
	"github.com/urlwarden/urlwarden-go/internal/handlers"
	"github.com/urlwarden/urlwarden-go/internal/intel"
	"github.com/urlwarden/urlwarden-go/internal/probe"
	"github.com/urlwarden/urlwarden-go/internal/ratelimit"
	"github.com/urlwarden/urlwarden-go/internal/scan"
	"github.com/urlwarden/urlwarden-go/internal/server"
	"github.com/urlwarden/urlwarden-go/internal/syncer"
	autotls "github.com/urlwarden/urlwarden-go/internal/tls"
)

func main() {
	logger := server.SetupLogger(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scoring, err := config.LoadScoring(os.Getenv("SCORING_CONFIG"))
	if err != nil {
		logger.Error("failed to load scoring config", "err", err)
		os.Exit(1)
	}

	// Connect to PostgreSQL (runs migrations and seeds the source catalog)
	database, err := db.Connect(ctx, logger)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	// Optional Redis tier for the TI and verdict caches
	var rdb *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, running with local caches only", "err", err)
			rdb = nil
		}
	}

	// Evidence collection and reachability probing
	collector := collect.NewCollector(logger, os.Getenv("DNS_RESOLVER"), scoring.Cache.EvidenceTTL())
	prober := probe.New(logger, collector)

	// Threat-intel engine: local corpus plus live query-API remotes
	intelCache := intel.NewCache(logger, rdb, scoring.Cache.TIQueryTTL())
	intelEngine := intel.NewEngine(logger, database, intelCache,
		uint(scoring.Orchestrator.TIMaxWeight),
		scoring.Orchestrator.TISuspiciousThreshold,
		scoring.Orchestrator.TIMaliciousThreshold)
	if remotes, err := database.ListQuerySources(ctx); err != nil {
		logger.Warn("failed to list query sources", "err", err)
	} else {
		for _, src := range remotes {
			intelEngine.AddRemote(intel.NewRemoteSource(logger, src))
		}
	}

	// Scan pipeline
	scanCache := scan.NewCache(logger, rdb, scoring.Cache.VerdictTTL())
	if rows, err := database.RecentVerdicts(ctx, 500); err != nil {
		logger.Warn("verdict cache warm-up skipped", "err", err)
	} else if n := scanCache.Warm(rows); n > 0 {
		logger.Info("verdict cache warmed", "verdicts", n)
	}
	orch := scan.NewOrchestrator(logger, scoring, prober, collector, intelEngine, scanCache, database)

	hub := events.NewHub(logger)
	orch.SetBroadcaster(hub)
	if analyst := enrich.NewAnalyst(logger); analyst != nil {
		orch.SetEnricher(analyst)
		logger.Info("analyst notes enabled")
	}

	// Feed sync engine and its schedules
	syncEngine := syncer.NewEngine(logger, scoring.Sync, database,
		syncer.NewFetcher(logger, scoring.Sync),
		syncer.NewGitHubFetcher(ctx, logger))
	syncEngine.SetBroadcaster(hub)
	syncDisabled := os.Getenv("SYNC_DISABLED") != ""
	if syncDisabled {
		logger.Info("scheduled feed syncs disabled by SYNC_DISABLED")
	} else if n, err := syncEngine.ScheduleAll(ctx); err != nil {
		logger.Error("failed to schedule source syncs", "err", err)
	} else {
		logger.Info("source sync schedules started", "sources", n)
	}

	// A nil engine also turns off the maintenance stale-source kick; manual
	// syncs through the admin API stay available either way.
	kicker := syncEngine
	if syncDisabled {
		kicker = nil
	}
	maintenance := syncer.NewMaintenance(logger, kicker, database,
		collector.PurgeCache, intelCache.Purge, scanCache.Purge,
		func() {
			logger.Debug("cache occupancy", "ti", intelCache.Len(), "verdicts", scanCache.Len())
		})
	if err := maintenance.Start(ctx); err != nil {
		logger.Error("failed to start maintenance scheduler", "err", err)
		os.Exit(1)
	}
	defer maintenance.Stop()

	// Indicator change notifications invalidate caches on every replica,
	// including the one that published the change.
	listener := db.NewChangeListener(database.Pool, logger)
	listener.OnChange(func(valueHash string) {
		intelEngine.Invalidate(ctx, valueHash)
		scanCache.Invalidate(ctx, valueHash)
	})
	go server.RunWithRecovery(ctx, logger, "indicator-listener", listener.Listen)

	// HTTP surface
	limiter := ratelimit.New()
	wsManager := events.NewWSManager(hub, logger)
	scanHandler := handlers.NewScanHandler(orch, database, logger)
	intelHandler := handlers.NewIntelHandler(database, syncEngine, intelCache, scanCache, logger)
	dashHandler := handlers.NewDashboardHandler(database, intelCache, scanCache, logger)
	streamHandler := handlers.NewStreamHandler(hub)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.With(limiter.Middleware("scan")).Post("/scan", scanHandler.HandleScan)
		api.With(limiter.Middleware("api")).Get("/scan/{fingerprint}", scanHandler.HandleGetVerdict)
		api.With(limiter.Middleware("api")).Get("/scans/recent", scanHandler.HandleRecentVerdicts)

		api.With(limiter.Middleware("lookup")).Get("/intel/lookup", intelHandler.HandleLookup)
		api.With(limiter.Middleware("api")).Get("/intel/sources", intelHandler.HandleListSources)
		api.With(limiter.Middleware("api")).Get("/dashboard/stats", dashHandler.HandleStats)

		api.With(limiter.Middleware("events")).Get("/events", streamHandler.HandleSSE)
		api.With(limiter.Middleware("events")).Get("/events/ws", wsManager.HandleWS)

		// Operator-only endpoints
		api.Group(func(admin chi.Router) {
			admin.Use(limiter.Middleware("admin"))
			admin.Use(auth.RequireAdmin(auth.AdminToken()))
			admin.Patch("/intel/sources/{id}", intelHandler.HandleSetSourceEnabled)
			admin.Post("/intel/sources/{id}/sync", intelHandler.HandleTriggerSync)
			admin.Post("/intel/schedule", intelHandler.HandleScheduleAll)
			admin.Get("/intel/sources/{id}/runs", intelHandler.HandleSyncRuns)
			admin.Delete("/intel/sources/{id}/indicators/{hash}", intelHandler.HandleEvictIndicator)
			admin.Delete("/cache/verdicts/{fingerprint}", intelHandler.HandleInvalidateVerdict)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE + WebSocket need unlimited write time
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "err", err)
		}
	}()

	// Optional automatic TLS; plain HTTP otherwise
	if cm := autotls.NewCertManager(logger); cm != nil {
		logger.Info("server starting with automatic TLS")
		if err := cm.ListenAndServe(r); err != nil && err != http.ErrServerClosed {
			logger.Error("tls server failed", "err", err)
			os.Exit(1)
		}
		return
	}

	logger.Info("server starting", "port", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// corsMiddleware allows browser dashboards on other origins to call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
