// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/artpar/quotaguard/adapters/clock"
	"github.com/artpar/quotaguard/adapters/hasher"
	apihttp "github.com/artpar/quotaguard/adapters/http"
	"github.com/artpar/quotaguard/adapters/idgen"
	"github.com/artpar/quotaguard/adapters/memory"
	"github.com/artpar/quotaguard/adapters/metrics"
	"github.com/artpar/quotaguard/adapters/notify"
	"github.com/artpar/quotaguard/adapters/random"
	"github.com/artpar/quotaguard/adapters/redisstore"
	"github.com/artpar/quotaguard/adapters/sqlstore"
	"github.com/artpar/quotaguard/app"
	"github.com/artpar/quotaguard/config"
	"github.com/artpar/quotaguard/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options controls how the application is assembled.
type Options struct {
	// ConfigPath is a YAML file. When it exists it is watched for changes;
	// otherwise configuration comes from QUOTAGUARD_* variables.
	ConfigPath string

	// Version is reported by /version.
	Version string

	// Clock overrides the wall clock (tests).
	Clock ports.Clock
}

// App represents the running application.
type App struct {
	Config      *config.Config
	Logger      zerolog.Logger
	DB          *sqlstore.DB
	Counters    ports.CounterStore
	Engine      *app.Engine
	Maintenance *app.Maintenance
	Metrics     *metrics.Collector
	Registry    *prometheus.Registry
	HTTPServer  *http.Server

	holder *config.Holder
	redis  *redisstore.CounterStore
}

// New creates and initializes the application.
func New(opts Options) (*App, error) {
	cfg, err := config.LoadWithFallback(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger := SetupLogger(cfg.Logging)

	a := &App{Config: cfg, Logger: logger}
	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err == nil {
			h, err := config.NewHolder(opts.ConfigPath, logger)
			if err != nil {
				return nil, err
			}
			a.holder = h
			a.Config = h.Get()
		}
	}

	logger.Info().
		Str("database", cfg.Database.Driver).
		Str("counters", cfg.Counters.Backend).
		Msg("initializing quotaguard")

	if err := a.initDatabase(); err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := a.initCounters(); err != nil {
		a.close()
		return nil, fmt.Errorf("init counters: %w", err)
	}

	engine, err := a.buildEngine(opts.Clock)
	if err != nil {
		a.close()
		return nil, err
	}
	a.Engine = engine
	a.initHTTPServer(opts.Version)
	a.watchConfig()

	return a, nil
}

func (a *App) initDatabase() error {
	db, err := sqlstore.Open(a.Config.Database.Driver, a.Config.Database.DSN)
	if err != nil {
		return err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	a.DB = db
	a.Logger.Info().Str("dsn", a.Config.Database.DSN).Msg("database connected")
	return nil
}

func (a *App) initCounters() error {
	cc := a.Config.Counters
	switch cc.Backend {
	case "redis":
		store, err := redisstore.New(redisstore.Config{
			URL:            cc.Redis.URL,
			Password:       cc.Redis.Password,
			DB:             cc.Redis.DB,
			Prefix:         cc.Redis.Prefix,
			QuotaRetention: time.Duration(cc.QuotaRetentionDays) * 24 * time.Hour,
		})
		if err != nil {
			return err
		}
		a.redis = store
		a.Counters = store
	default:
		a.Counters = memory.NewCounterStore(memory.CounterConfig{NumShards: cc.Shards})
	}
	return nil
}

func (a *App) buildEngine(clk ports.Clock) (*app.Engine, error) {
	cfg := a.Config
	if clk == nil {
		clk = clock.Real{}
	}

	h, err := hasher.New(cfg.Auth.Hasher, cfg.Auth.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("init hasher: %w", err)
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewWithRegistry(a.Registry)

	var notifier ports.Notifier = notify.NewLog(a.Logger.With().Str("component", "notify").Logger())
	if wh := cfg.Alerts.Webhook; wh.URL != "" {
		notifier = append(asMulti(notifier), notify.NewWebhook(notify.WebhookConfig{
			URL:     wh.URL,
			Secret:  wh.Secret,
			Timeout: wh.Timeout,
		}))
		a.Logger.Info().Str("url", wh.URL).Msg("webhook alerts enabled")
	}

	if em := cfg.Alerts.Email; em.Host != "" {
		sender, err := notify.NewEmail(notify.SMTPConfig{
			Host:        em.Host,
			Port:        em.Port,
			Username:    em.Username,
			Password:    em.Password,
			From:        em.From,
			FromName:    em.FromName,
			UseTLS:      em.StartTLS,
			UseImplicit: em.ImplicitTLS,
			SkipVerify:  em.SkipVerify,
			Timeout:     em.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init email alerts: %w", err)
		}
		notifier = append(asMulti(notifier), sender)
		a.Logger.Info().Str("host", em.Host).Msg("email alerts enabled")
	}

	ledger := memory.NewAlertLedger()
	engine := app.NewEngine(app.EngineDeps{
		Counters: a.Counters,
		Keys:     sqlstore.NewKeyStore(a.DB),
		Usage:    sqlstore.NewUsageStore(a.DB),
		Users:    sqlstore.NewUserStore(a.DB),
		Ledger:   ledger,
		Notifier: notifier,
		Hasher:   h,
		Random:   random.Real{},
		Clock:    clk,
		KeyIDs:   idgen.UUID{Prefix: idgen.PrefixKey},
		UsageIDs: idgen.UUID{Prefix: idgen.PrefixUsage},
		Metrics:  a.Metrics,
		Logger:   a.Logger,
	}, app.EngineConfig{
		Catalog:      cfg.Catalog(),
		KeyMarker:    cfg.Auth.KeyPrefix,
		CheckOnAdmit: cfg.Alerts.CheckOnAdmit,
	})

	a.Maintenance = app.NewMaintenance(app.MaintenanceDeps{
		Counters: a.Counters,
		Ledger:   ledger,
		Clock:    clk,
		Metrics:  a.Metrics,
		Logger:   a.Logger.With().Str("component", "maintenance").Logger(),
	}, app.MaintenanceConfig{
		SweepInterval:    cfg.Counters.SweepInterval,
		RetentionDays:    cfg.Counters.QuotaRetentionDays,
		EvictionSchedule: cfg.Alerts.EvictionSchedule,
	})

	return engine, nil
}

func asMulti(n ports.Notifier) notify.Multi {
	if m, ok := n.(notify.Multi); ok {
		return m
	}
	return notify.Multi{n}
}

func (a *App) initHTTPServer(version string) {
	cfg := a.Config

	health := []apihttp.HealthChecker{a.DB}
	if a.redis != nil {
		health = append(health, a.redis)
	}

	rc := apihttp.RouterConfig{
		Engine:    a.Engine,
		Users:     a.Engine.Users,
		Health:    health,
		Metrics:   a.Metrics,
		KeyHeader: cfg.Auth.Header,
		Version:   version,
		Logger:    a.Logger,
	}
	if cfg.Metrics.Enabled {
		rc.MetricsHandler = promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
		rc.MetricsPath = cfg.Metrics.Path
	}

	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      apihttp.NewRouter(rc),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// watchConfig applies reloadable settings when the config file changes.
func (a *App) watchConfig() {
	if a.holder == nil {
		return
	}
	a.holder.OnChange(func(cfg *config.Config) {
		a.Engine.Limiter.SetCatalog(cfg.Catalog())
		if cfg.Alerts.CheckOnAdmit {
			a.Engine.Limiter.CheckOnAdmit(a.Engine.Alerts)
		} else {
			a.Engine.Limiter.CheckOnAdmit(nil)
		}
		if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}
		a.Metrics.ConfigReloaded(nil, time.Now())
	})
	a.holder.OnError(func(err error) {
		a.Metrics.ConfigReloaded(err, time.Now())
	})
}

// Run serves until ctx is cancelled or the server fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Maintenance.Start(ctx); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}
	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		a.holder.WatchSignals()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("server starting")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info().Msg("shutting down")
		return a.Shutdown()
	})
	return g.Wait()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if a.Maintenance != nil {
		a.Maintenance.Stop()
	}
	if a.holder != nil {
		a.holder.Stop()
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}

	a.Logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) close() error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		a.redis = nil
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		a.DB = nil
	}
	return errors.Join(errs...)
}

// SetupLogger builds the process logger and sets the global level.
func SetupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Reload re-reads the config file and applies its reloadable settings.
func (a *App) Reload() error {
	if a.holder == nil {
		return errors.New("no config file to reload")
	}
	return a.holder.Reload()
}
