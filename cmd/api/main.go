package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fx-arena/internal/auth"
	"fx-arena/internal/competition"
	"fx-arena/internal/config"
	"fx-arena/internal/httpserver"
	"fx-arena/internal/ledger"
	"fx-arena/internal/margin"
	"fx-arena/internal/orders"
	"fx-arena/internal/pricefeed"
	"fx-arena/internal/risk"
	"fx-arena/internal/settlement"
	"fx-arena/internal/store"
	"fx-arena/internal/types"
	"fx-arena/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logg, err := logger.New(cfg.App.LogLevel, cfg.App.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer logg.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st store.Store
	if cfg.Postgres.Disabled {
		st = store.NewMemoryStore()
		logg.Infow("using in-memory store")
	} else {
		pool, err := store.NewPool(ctx, cfg.Postgres.DSN())
		if err != nil {
			logg.Fatalw("connect postgres", "error", err)
		}
		defer pool.Close()
		st = store.NewPostgresStore(pool)
	}

	var leaderboard *store.Leaderboard
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logg.Fatalw("connect redis", "error", err)
		}
		defer rdb.Close()
		leaderboard = store.NewLeaderboard(rdb, 24*time.Hour)
	}

	board := pricefeed.NewBoard()
	bus := pricefeed.NewBus()
	var feed pricefeed.Feed
	if cfg.Feed.Simulate || cfg.Feed.UpstreamURL == "" {
		sim := pricefeed.NewSimulator(board, bus, logg.Named("pricefeed"), 500*time.Millisecond)
		go sim.Run(ctx)
		feed = sim
	} else {
		client := pricefeed.NewClient(cfg.Feed.UpstreamURL, board, bus, logg.Named("pricefeed"))
		go client.Run(ctx)
		feed = client
	}
	for _, sym := range cfg.Feed.Symbols {
		if err := feed.Subscribe(sym); err != nil {
			logg.Warnw("subscribe symbol", "symbol", sym, "error", err)
		}
	}

	thresholds := margin.ThresholdsFromLevels(cfg.Risk.SafeLevel, cfg.Risk.WarningLevel, cfg.Risk.MarginCallLevel, cfg.Risk.LiquidationLevel)
	if err := thresholds.Validate(); err != nil {
		logg.Fatalw("risk thresholds", "error", err)
	}

	ledgerSvc := ledger.New(st, logg.Named("ledger"))
	monitor := risk.NewMonitor(ledgerSvc, board, logg.Named("risk"))
	orderSvc := orders.NewService(st, ledgerSvc, board, logg.Named("orders"), thresholds, decimal.NewFromFloat(cfg.Risk.MinLimitPips))
	compSvc := competition.NewService(st, ledgerSvc, monitor, thresholds, logg.Named("competition"))
	settleSvc := settlement.NewService(st, ledgerSvc, board, leaderboard, logg.Named("settlement"))

	// Rehydrate running competitions after a restart.
	for _, status := range []types.CompetitionStatus{types.CompetitionStatusUpcoming, types.CompetitionStatusActive} {
		comps, err := st.ListCompetitions(ctx, status)
		if err != nil {
			logg.Fatalw("list competitions", "error", err)
		}
		for _, c := range comps {
			if err := compSvc.Restore(ctx, c.ID); err != nil {
				logg.Fatalw("restore competition", "competition_id", c.ID, "error", err)
			}
		}
	}

	go monitor.Run(ctx, bus.Subscribe())
	go orderSvc.Run(ctx, bus.Subscribe())

	verifier := auth.NewVerifier(cfg.HTTP.JWTIssuer, []byte(cfg.HTTP.JWTSecret))
	wsHandler := httpserver.NewWSHandler(bus, verifier, ledgerSvc, board, monitor, cfg.HTTP.WSOrigin)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		CompetitionHandler: competition.NewHandler(compSvc),
		OrderHandler:       orders.NewHandler(orderSvc, ledgerSvc, board),
		SettlementHandler:  settlement.NewHandler(settleSvc),
		Verifier:           verifier,
		InternalToken:      cfg.HTTP.InternalToken,
		WSHandler:          wsHandler,
	})
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}

	logg.Infow("server listening", "addr", cfg.HTTP.Addr)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Fatalw("server stopped", "error", err)
	}
}
