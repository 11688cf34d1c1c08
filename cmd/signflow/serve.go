package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	app "github.com/R3E-Network/signflow/internal/app"
	"github.com/R3E-Network/signflow/internal/app/httpapi"
	"github.com/R3E-Network/signflow/internal/middleware"
	"github.com/R3E-Network/signflow/pkg/version"
)

const shutdownTimeout = 30 * time.Second

var runMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background workers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&runMigrations, "migrate", false, "apply pending database migrations before starting")
}

func serve(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	log = log.WithField("version", version.Version)

	application, err := app.Open(ctx, cfg, runMigrations, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.WithError(err).Warn("close resources")
		}
	}()

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = middleware.NewRateLimiter(float64(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst, nil,
			log.WithField("component", "ratelimit"))
		limiter.StartCleanup(ctx, 10*time.Minute)
	}

	server := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: httpapi.NewHandler(application, httpapi.Options{
			CORSOrigins:    cfg.Server.Origins(),
			RateLimiter:    limiter,
			TrustForwarded: cfg.Server.TrustProxy,
			Logger:         log.WithField("component", "http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	if err := application.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", server.Addr).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
		return application.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
