package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	grpcserver "sarathi/internal/grpc"
	"sarathi/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the gRPC tracking server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logg := newLogger(cfg)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logg.Info(logg.WithField(ctx, "config", cfg.String()), "configuration loaded")

	a, err := bootstrap(ctx, cfg, logg, true)
	if err != nil {
		logg.Error(ctx, "bootstrap failed", err)
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logg.Error(context.Background(), "close resources", err)
		}
	}()
	if a.fallback {
		logg.Warn(ctx, "running in fallback mode: local store, synthetic tracking")
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Address,
		Handler: httpapi.NewRouter(httpapi.Options{
			Service:   a.svc,
			JWTSecret: cfg.Auth.JWTSecret,
			Logger:    logg,
			Ready:     a.ready,
			Metrics:   a.metrics,
			Env:       cfg.App.Env,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	shutdownGRPC, err := grpcserver.StartGRPC(cfg, a.svc, logg)
	if err != nil {
		logg.Error(ctx, "start grpc", err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info(logg.WithField(gctx, "addr", cfg.HTTP.Address), "http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logg.Info(context.Background(), "shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.tracker.StopAll()
		return multierr.Combine(srv.Shutdown(sctx), shutdownGRPC(sctx))
	})

	if err := g.Wait(); err != nil {
		logg.Error(context.Background(), "server error", err)
		return err
	}
	return nil
}
