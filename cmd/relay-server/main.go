package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appcfg "github.com/oakgames/chessrelay/internal/config"
	"github.com/oakgames/chessrelay/internal/moderation"
	"github.com/oakgames/chessrelay/internal/msgcat"
	"github.com/oakgames/chessrelay/internal/notify"
	"github.com/oakgames/chessrelay/internal/obslog"
	"github.com/oakgames/chessrelay/internal/registry"
	"github.com/oakgames/chessrelay/internal/relay"
	"github.com/oakgames/chessrelay/internal/reports"
	"github.com/oakgames/chessrelay/internal/suspicion"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	cat, err := msgcat.New(cfg.MsgOverrideDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	// Ban records live in memory unless REDIS_URL is set.
	store := moderation.NewMemoryStore()
	if cfg.RedisURL != "" {
		store, err = moderation.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis store error: %v", err)
		}
		obslog.L().Info("ban_store_redis")
	}
	ledger := moderation.NewLedger(store, cfg.AdminUsers, cfg.AdminOverrides, cfg.ExemptUser)

	monitor := suspicion.NewMonitor(suspicion.Config{
		Window:           time.Duration(cfg.SuspicionWindowSec) * time.Second,
		MinMoveInterval:  time.Duration(cfg.MinMoveIntervalMs) * time.Millisecond,
		MinChatInterval:  time.Duration(cfg.MinChatIntervalMs) * time.Millisecond,
		ReportThreshold:  cfg.ReportThreshold,
		BanConfidence:    cfg.BanConfidence,
		MinDistinctKinds: cfg.MinDistinctKinds,
		Exempt:           cfg.ExemptUser,
	}, func(ctx context.Context, target, reason string, count int) error {
		_, err := ledger.AutoBan(ctx, target, reason, count)
		return err
	})

	reg := registry.New(cfg.MinUsernameLen)

	var repo *reports.Repository
	if cfg.DatabaseURL != "" {
		repo, err = reports.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("reports repository error: %v", err)
		}
		defer func() { _ = repo.Close() }()
	}

	var alerts *notify.Client
	if cfg.ReportWebhookURL != "" {
		alerts, err = notify.NewClient(cfg.ReportWebhookURL)
		if err != nil {
			log.Fatalf("notify client error: %v", err)
		}
	}

	srv := relay.NewServer(cfg, cat, reg, ledger, monitor, repo, alerts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		obslog.L().Info("relay_listen", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obslog.L().Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	obslog.L().Info("relay_shutdown")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
