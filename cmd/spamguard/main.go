package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spamguard/internal/analytics"
	"spamguard/internal/bot"
	"spamguard/internal/config"
	"spamguard/internal/modules/audit"
	"spamguard/internal/policy"
	"spamguard/internal/storage"
	"spamguard/internal/tracker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

func main() {
	app := cli.App{
		Name:  "spamguard",
		Usage: "per-user message flood protection for Discord servers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the YAML config file",
				Value:   "config.yaml",
				EnvVars: []string{"CONFIG_PATH"},
			},
		},
		Action: runBot,
	}
	app.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "connect to the gateway and enforce flood policies",
			Action: runBot,
		},
		{
			Name:   "check-config",
			Usage:  "load and validate the config, then exit",
			Action: runCheckConfig,
		},
	}
	app.RunAndExitOnError()
}

func runCheckConfig(cctx *cli.Context) error {
	cfg, err := config.LoadFile(cctx.String("config"))
	if err != nil {
		return err
	}
	fmt.Printf("config ok: workers=%d queue=%d action_timeout=%ds purge_scan_limit=%d archive=%t\n",
		cfg.Mitigation.Workers, cfg.Mitigation.QueueSize, cfg.Mitigation.ActionTimeoutSeconds,
		cfg.Mitigation.PurgeScanLimit, cfg.DatabaseURL != "")
	return nil
}

func runBot(cctx *cli.Context) error {
	cfg, err := config.LoadFile(cctx.String("config"))
	if err != nil {
		return err
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := cctx.Context

	// The archive is optional; without it nothing is persisted.
	var (
		store   *storage.Store
		archive audit.Archive
		source  analytics.Source
	)
	if cfg.DatabaseURL != "" {
		store, err = storage.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("storage init failed", zap.Error(err))
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		archive, source = store, store
	}

	auditLogger := audit.NewLogger(archive, logger.Named("audit"))
	analyticsEngine := analytics.New(source)
	policies := policy.NewStore()
	windows := tracker.New(cfg.Tracker.MaxWindows)

	botSvc, err := bot.New(cfg, logger, store, policies, windows, auditLogger, analyticsEngine)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	var server *http.Server
	if cfg.Health.Enabled {
		server, err = startHealthServer(cfg.Health, logger)
		if err != nil {
			logger.Fatal("health server failed", zap.Error(err))
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	botSvc.Close(shutdownCtx)
	return nil
}

func startHealthServer(cfg config.HealthConfig, logger *zap.Logger) (*http.Server, error) {
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("health endpoint enabled", zap.String("addr", cfg.Addr), zap.Int("max_conns", cfg.MaxConns))
		if err := server.Serve(netutil.LimitListener(listener, cfg.MaxConns)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", zap.Error(err))
		}
	}()
	return server, nil
}
