package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/urfave/cli/v3"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/db"
	"github.com/MrEthical07/goSession/middleware"
)

const (
	defaultReadTimeout    = 30 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultMaxHeaderBytes = 1 << 20
	shutdownTimeout       = 10 * time.Second
)

func newServeCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "start server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "listen address; overrides server.listen",
				Sources: cli.EnvVars("GOSESSION_LISTEN"),
				Config:  cli.StringConfig{TrimSpace: true},
			},
		},
		Action: withEngine(serveAction),
	}
}

func serveAction(ctx context.Context, clicmd *cli.Command, d *deps) error {
	logger := zerolog.Ctx(ctx)

	if d.cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, d.db); err != nil {
			return err
		}
	}
	if err := d.engine.Ping(ctx); err != nil {
		return fmt.Errorf("backend check failed: %w", err)
	}
	for _, w := range d.cfg.Engine.Lint() {
		logger.Warn().Str("code", w.Code).Msg(w.Message)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		d.engine.Metrics(),
	)
	if err := db.RegisterMetrics(reg, d.db); err != nil {
		return err
	}

	listen := d.cfg.Server.Listen
	if a := clicmd.String("address"); a != "" {
		listen = a
	}

	srv := &http.Server{
		Addr:           listen,
		Handler:        newRouter(*logger, d.cfg.Server, d.engine, reg),
		ReadTimeout:    defaultReadTimeout,
		WriteTimeout:   defaultWriteTimeout,
		MaxHeaderBytes: defaultMaxHeaderBytes,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runSweeper(ctx, d.engine, d.cfg.Engine.Session.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", listen).Msg("server: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("server: stopping")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server failed: %w", err)
	}

	logger.Info().Uint64("audit_dropped", d.engine.AuditDropped()).Msg("server: stopped")

	return nil
}

func newRouter(logger zerolog.Logger, cfg serverConfig, engine *goSession.Engine, reg *prometheus.Registry) http.Handler {
	router := chi.NewRouter()
	router.Use(chimw.Heartbeat("/ping"))
	router.Use(chimw.RealIP)

	router.Group(func(group chi.Router) {
		group.Use(hlog.NewHandler(logger))
		group.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
		group.Use(hlog.RemoteAddrHandler("remote"))
		group.Use(hlog.MethodHandler("method"))
		group.Use(hlog.URLHandler("url"))
		group.Use(hlog.AccessHandler(logAccess))
		group.Use(chimw.Recoverer)
		group.Use(chimw.NoCache)
		group.Use(newPromMiddleware(reg, "api"))

		group.Mount(cfg.APIPrefix, middleware.Routes(engine))
	})

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := engine.Ping(r.Context()); err != nil {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if cfg.MetricsPath != "" {
		router.Handle(cfg.MetricsPath, promhttp.InstrumentMetricHandler(
			reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{DisableCompression: true})))
	}

	return router
}

func logAccess(r *http.Request, status, size int, duration time.Duration) {
	level := zerolog.InfoLevel
	if status >= http.StatusInternalServerError {
		level = zerolog.WarnLevel
	}

	hlog.FromRequest(r).WithLevel(level).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request finished")
}

// runSweeper deletes expired durable sessions every interval.
func runSweeper(ctx context.Context, engine *goSession.Engine, interval time.Duration) {
	logger := zerolog.Ctx(ctx)
	if interval <= 0 {
		logger.Info().Msg("sweeper: disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := engine.SweepExpired(ctx); err != nil {
				logger.Error().Err(err).Msg("sweeper: delete expired sessions failed")
			}
		}
	}
}
