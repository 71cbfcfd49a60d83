package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"sarathi/internal/changefeed"
	"sarathi/internal/config"
	"sarathi/internal/db"
	"sarathi/internal/localstore"
	"sarathi/internal/logger"
	"sarathi/internal/metrics"
	"sarathi/internal/notify"
	"sarathi/internal/pickup"
	"sarathi/internal/routing"
	"sarathi/internal/tracking"
	"sarathi/repository"
)

var devMode bool

var rootCmd = &cobra.Command{
	Use:   "sarathi",
	Short: "Waste pickup coordination service",
	Long: `Sarathi matches citizens' waste pickup requests with nearby collectors,
drives each order from request to collection and streams live collector ETAs.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "allow a development JWT secret when SARATHI_JWT_SECRET is unset")
}

func loadConfig() (*config.Config, error) {
	if devMode {
		return config.LoadWithDefaults()
	}
	return config.Load()
}

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Options{
		ServiceName: "sarathi",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
}

// app holds everything a command needs once configuration is loaded.
type app struct {
	cfg      *config.Config
	logg     *logger.Logger
	db       *sql.DB
	svc      *pickup.Service
	tracker  *tracking.Tracker
	metrics  http.Handler
	fallback bool
	closers  []func() error
}

// bootstrap wires stores, collaborators and the pickup service. With allowFallback set, a
// database that cannot be opened is replaced by the local JSON store and tracking switches
// to the synthetic feed.
func bootstrap(ctx context.Context, cfg *config.Config, logg *logger.Logger, allowFallback bool) (*app, error) {
	a := &app{cfg: cfg, logg: logg}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewPickup(reg)
	a.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	deps := pickup.Deps{Logger: logg, Metrics: m}

	d, err := db.Open(cfg.Database.Path)
	switch {
	case err == nil:
		a.db = d
		a.closers = append(a.closers, d.Close)
		deps.Orders = repository.NewOrderRepository(d)
		deps.Collectors = repository.NewCollectorRepository(d)
		deps.Citizens = repository.NewCitizenRepository(d)
		deps.Notifications = repository.NewNotificationRepository(d)
	case allowFallback:
		logg.WarnErr(logg.WithField(ctx, "fallback_path", cfg.Fallback.Path), "database unavailable; running on the local store", err)
		store, lerr := localstore.Open(cfg.Fallback.Path)
		if lerr != nil {
			return nil, multierr.Combine(fmt.Errorf("open database: %w", err), fmt.Errorf("open local store: %w", lerr))
		}
		a.fallback = true
		deps.Orders = store.Orders()
		deps.Collectors = store.Collectors()
		deps.Citizens = store.Citizens()
		deps.Notifications = store.Notifications()
	default:
		return nil, fmt.Errorf("open database: %w", err)
	}

	if !a.fallback {
		deps.Feed = a.changeFeed(ctx)
	}

	var router tracking.Router = routing.NewEstimator(cfg.Tracking.AverageSpeedKmh)
	if cfg.Mapbox.Token != "" {
		mb, err := routing.NewMapbox(cfg.Mapbox.Token, routing.WithBaseURL(cfg.Mapbox.BaseURL))
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("mapbox client: %w", err), a.Close())
		}
		router = mb
		deps.Geocoder = mb
	}

	if cfg.Twilio.SMSEnabled() {
		deps.SMS = notify.NewTwilio(cfg.Twilio)
	}

	var positions tracking.PositionFeed = tracking.SyntheticFeed{Interval: cfg.Tracking.SyntheticInterval}
	if !a.fallback && cfg.Tracking.Mode == config.TrackingModePush {
		positions = tracking.ChangefeedPositions{Feed: deps.Feed}
	}
	a.tracker = tracking.New(tracking.Config{
		Positions: positions,
		Router:    router,
		Orders:    deps.Feed,
		Logger:    logg,
		Metrics:   m,
	})
	deps.Tracker = a.tracker

	svc, err := pickup.New(deps)
	if err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	a.svc = svc
	return a, nil
}

// changeFeed prefers Redis when configured and falls back to the in-process feed.
func (a *app) changeFeed(ctx context.Context) changefeed.Feed {
	if a.cfg.Redis.URL == "" {
		return changefeed.NewMemory(a.logg)
	}
	r, err := changefeed.NewRedis(ctx, a.cfg.Redis, a.logg)
	if err != nil {
		a.logg.WarnErr(ctx, "redis unavailable; using in-process change feed", err)
		return changefeed.NewMemory(a.logg)
	}
	a.closers = append(a.closers, r.Close)
	return r
}

// ready reports store health for /health/ready.
func (a *app) ready(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return db.Ping(ctx, a.db)
}

func (a *app) Close() error {
	if a.tracker != nil {
		a.tracker.StopAll()
	}
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i]())
	}
	a.closers = nil
	return errs
}
