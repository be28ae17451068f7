package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/wanderplan/tilegate/internal/batch"
	"github.com/wanderplan/tilegate/internal/cachestore"
	"github.com/wanderplan/tilegate/internal/cachestore/memfront"
	"github.com/wanderplan/tilegate/internal/cachestore/redisstore"
	"github.com/wanderplan/tilegate/internal/core/config"
	"github.com/wanderplan/tilegate/internal/core/httpclient"
	"github.com/wanderplan/tilegate/internal/core/observability"
	"github.com/wanderplan/tilegate/internal/core/router"
	"github.com/wanderplan/tilegate/internal/core/server"
	"github.com/wanderplan/tilegate/internal/invalidation/kafkaconsumer"
	"github.com/wanderplan/tilegate/internal/logger"
	"github.com/wanderplan/tilegate/internal/metrics"
	"github.com/wanderplan/tilegate/internal/netquality"
	"github.com/wanderplan/tilegate/internal/preload"
	"github.com/wanderplan/tilegate/internal/strategy"
	"github.com/wanderplan/tilegate/internal/syncqueue"
	"github.com/wanderplan/tilegate/internal/worker"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Component: "gateway",
	}, os.Stdout)

	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting gateway",
		"addr", cfg.Addr,
		"version", Version,
		"origin", cfg.OriginURL)

	origin, err := url.Parse(cfg.OriginURL)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		appLog.Error("invalid ORIGIN_URL", "url", cfg.OriginURL, "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	set := cachestore.NewSet(cfg.StaticVersion, cfg.RuntimeVersion, cfg.TilesVersion)

	var store cachestore.Store
	if cli, err := redisstore.New(ctx, cfg.RedisAddr); err != nil {
		appLog.Warn("redis unavailable, using in-memory store", "addr", cfg.RedisAddr, "err", err)
		store = cachestore.NewMemory()
	} else {
		store = redisstore.NewStore(cli, cfg.CacheOpTimeout)
	}
	front, err := memfront.New(store, set.Tiles.Name(), cfg.TileFrontSize)
	if err != nil {
		appLog.Error("tile front setup failed", "err", err)
		return 1
	}
	store = front

	var prober netquality.Prober
	if cfg.ProbeURL != "" {
		prober = &netquality.HTTPProber{
			Client:  httpclient.NewProbe(cfg.FetchTimeout),
			HeadURL: cfg.ProbeURL,
			BodyURL: cfg.ProbeBodyURL,
		}
	}
	monitor := netquality.New(netquality.Config{
		Prober:          prober,
		Interval:        cfg.ProbeInterval,
		FastDownlinkMin: cfg.FastDownlinkMin,
		Tiers: netquality.TierTable{
			Poor:      netquality.Params(cfg.TierPoor),
			Moderate:  netquality.Params(cfg.TierModerate),
			Good:      netquality.Params(cfg.TierGood),
			Excellent: netquality.Params(cfg.TierExcellent),
		},
		Logger: appLog,
	})
	go monitor.Run(ctx)

	outbound := httpclient.NewOutbound(cfg.FetchTimeout)

	eng := strategy.New(store, setView{set}, monitor, outbound, appLog, strategy.Config{
		Origin:        origin,
		AssetsPrefix:  cfg.AssetsPrefix,
		TileHosts:     cfg.TileHosts,
		FastAPIHosts:  cfg.FastAPIHosts,
		FetchTimeout:  cfg.FetchTimeout,
		TTLDefault:    cfg.CacheTTLDefault,
		TTLOverrides:  cfg.CacheTTLOvr,
		IndexDocument: cfg.IndexDocument,
	})

	w := worker.New(store, set, eng, outbound, appLog, worker.Config{
		Origin:       origin,
		Manifest:     cfg.ShellManifest,
		ShellTTL:     cfg.CacheTTLDefault,
		FetchTimeout: cfg.FetchTimeout,
	}, func() int { return monitor.Params().Concurrency })

	reg := worker.NewRegistrationManager(w)
	go func() {
		if err := reg.Register(ctx); err != nil {
			appLog.Error("worker registration failed; serving passthrough only", "err", err)
		}
	}()

	// GETs in a batch fill the cache the same way intercepted fetches do;
	// mutations go straight to the network.
	httpExec := batch.NewHTTPExecutor(outbound)
	exec := func(ctx context.Context, r *batch.Request) batch.Result {
		if r.Method == http.MethodGet {
			if err := eng.Warm(ctx, r.URL); err != nil {
				return batch.Result{ID: r.ID, Err: err}
			}
			return batch.Result{ID: r.ID, Status: http.StatusOK}
		}
		return httpExec(ctx, r)
	}
	batchEng := batch.New(exec, monitor, batch.Config{
		MinPriority: cfg.BatchMinPriority,
		MaxAttempts: cfg.BatchMaxAttempts,
	}, appLog)
	defer batchEng.Close()

	journal, err := syncqueue.OpenJournal(cfg.SyncJournalPath)
	if err != nil {
		appLog.Error("sync journal open failed", "path", cfg.SyncJournalPath, "err", err)
		return 1
	}
	defer func() { _ = journal.Close() }()

	sq, err := syncqueue.New(batchEng, journal, syncqueue.Config{
		MaxAttempts: cfg.BatchMaxAttempts,
	}, appLog)
	if err != nil {
		appLog.Error("sync queue setup failed", "err", err)
		return 1
	}
	go sq.Run(ctx, monitor)

	pre := preload.New(batchEng, monitor,
		preload.DefaultRules(strings.TrimRight(cfg.OriginURL, "/")),
		cfg.PreloadStride, cfg.TileTemplate, appLog)

	if cfg.Invalidation.Enabled {
		kcfg := kafkaconsumer.FromEnv()
		consumer := kafkaconsumer.New(kcfg, appLog, store, w, origin)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer exited", "err", err)
			}
		}()
	}

	if os.Getenv("METRICS_ENABLED") == "true" {
		addr := os.Getenv("METRICS_ADDR")
		if addr == "" {
			addr = ":9090"
		}
		path := os.Getenv("METRICS_PATH")
		if path == "" {
			path = "/metrics"
		}

		p := metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    addr,
			Path:    path,
			Build: metrics.BuildInfo{
				Version:   os.Getenv("BUILD_VERSION"),
				Revision:  os.Getenv("BUILD_REVISION"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})

		mux := http.NewServeMux()
		mux.Handle(path, p.Handler())

		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		go func() {
			log.Printf("metrics: listening on %s%s", addr, path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server exited: %v", err)
			}
		}()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("metrics: shutdown error: %v", err)
			}
		}()
	}

	gw := router.New(appLog, origin, w, batchEng, sq, pre, monitor)

	if err := server.Run(ctx, cfg, appLog, gw); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// setView adapts the fixed startup generation set; the worker owns the live
// view once constructed, but the strategy engine is built first.
type setView struct{ set cachestore.Set }

func (v setView) Current() cachestore.Set { return v.set }
