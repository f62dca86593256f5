package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/baharkarakas/payflow/internal/api"
	"github.com/baharkarakas/payflow/internal/auth"
	"github.com/baharkarakas/payflow/internal/config"
	"github.com/baharkarakas/payflow/internal/gateway"
	"github.com/baharkarakas/payflow/internal/logger"
	"github.com/baharkarakas/payflow/internal/metrics"
	"github.com/baharkarakas/payflow/internal/services"
	"github.com/baharkarakas/payflow/internal/signature"
	"github.com/baharkarakas/payflow/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := openRepositories(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer repos.Close()

	dispatcher, closeNotifier, err := newNotifier(cfg, repos.Notifications, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	wp := worker.NewPool(cfg.WorkerCount, 0)
	defer wp.Stop()

	gw := gateway.New(gateway.Config{
		PartnerCode: cfg.MoMo.PartnerCode,
		AccessKey:   cfg.MoMo.AccessKey,
		SecretKey:   cfg.MoMo.SecretKey,
		Endpoint:    cfg.MoMo.APIEndpoint,
		RedirectURL: cfg.MoMo.ReturnURL,
		NotifyURL:   cfg.MoMo.NotifyURL,
		RequestType: cfg.MoMo.RequestType,
		Lang:        cfg.MoMo.Lang,
		Algorithm:   signature.Algorithm(cfg.MoMo.SignatureAlgo),
		Timeout:     cfg.MoMo.Timeout,
	}, log)

	metrics.Init()
	r := api.NewRouter(api.RouterDeps{
		Cfg:      cfg,
		Tokens:   auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL),
		Payments: services.NewPaymentService(repos.Transactions, repos.AuditLogs, gw, dispatcher, wp, log),
		Notes:    services.NewNotificationService(repos.Notifications, log),
		Ping:     repos.Ping,
		Log:      log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "env", cfg.Env, "backend", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
