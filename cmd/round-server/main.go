package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcfg "github.com/park285/matka-round-server/internal/config"
	"github.com/park285/matka-round-server/internal/guard"
	"github.com/park285/matka-round-server/internal/ledger"
	"github.com/park285/matka-round-server/internal/msgcat"
	"github.com/park285/matka-round-server/internal/obslog"
	"github.com/park285/matka-round-server/internal/orchestrator"
	"github.com/park285/matka-round-server/internal/session"
	"github.com/park285/matka-round-server/internal/store"
	"github.com/park285/matka-round-server/internal/wallet"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obslog.L().Error("server_exit", zap.Error(err))
		obslog.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appcfg.AppConfig) error {
	logger := obslog.L()

	st, health, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.SeedAdminPassword != "" {
		hash, err := session.HashPassword(cfg.SeedAdminPassword, bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		if _, err := store.EnsureAdmin(ctx, st, cfg.SeedAdminUsername, hash, cfg.SeedAdminBalance); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}

	rdb, err := guard.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	} else {
		logger.Info("redis_disabled", zap.String("detail", "no round lease, no auth throttling"))
	}

	messages, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	messages.SetVars(map[string]any{
		"MaxStake":  cfg.Game.MaxStake.String(),
		"OpenHour":  cfg.Game.Window.OpenHour,
		"CloseHour": cfg.Game.Window.CloseHour,
	})

	ocfg := orchestrator.DefaultConfig()
	ocfg.Thresholds = cfg.Game.Thresholds
	ocfg.Window = cfg.Game.Window
	ocfg.RoundDuration = cfg.Game.RoundDuration()
	ocfg.StrictManualJodi = cfg.Game.StrictManualJodi
	ocfg.Location = cfg.Game.Location

	w := wallet.New(st)
	rounds := orchestrator.New(ocfg, st, w,
		orchestrator.WithLease(guard.NewRoundLease(rdb, ocfg.RoundDuration+5*time.Minute)))
	defer rounds.Close()
	if err := rounds.Recover(ctx); err != nil {
		return fmt.Errorf("recover round: %w", err)
	}

	opts := session.DefaultOptions()
	opts.OriginPatterns = cfg.AllowedOrigins
	mgr := session.NewManager(session.Deps{
		Auth:     session.NewBcryptAuthenticator(st),
		Limiter:  guard.NewAuthLimiter(rdb, cfg.AuthMaxFailures, cfg.AuthFailureWindow),
		Ledger:   ledger.New(rounds, w, cfg.Game.MaxStake),
		Wallet:   w,
		Rounds:   rounds,
		Messages: messages,
	}, opts)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		mgr.Run(runCtx)
	}()

	var pinger session.Pinger
	if health != nil {
		pinger = health
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mgr.Routes(pinger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_listen", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	logger.Info("server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	cancelRun()
	<-runDone
	return nil
}

// openStore picks SQL storage when DATABASE_URL is set, otherwise an in-memory store.
func openStore(ctx context.Context, url string) (store.Store, *store.SQLStore, error) {
	if url == "" {
		obslog.L().Warn("store_in_memory", zap.String("detail", "DATABASE_URL not set; data is lost on exit"))
		return store.NewMemory(), nil, nil
	}
	sqlStore, err := store.Open(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	obslog.L().Info("store_open", zap.String("dialect", string(sqlStore.Dialect())))
	return sqlStore, sqlStore, nil
}
