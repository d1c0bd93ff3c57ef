package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/medical-deserts/apl-dashboard/internal/config"
	"github.com/medical-deserts/apl-dashboard/internal/dashboard"
)

var (
	servePort    int
	serveWarmup  bool
	shutdownWait = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(cfg)
		if err != nil {
			return err
		}

		srv, err := newDashboardServer(env, cfg)
		if err != nil {
			return err
		}
		go srv.Sessions().Run(ctx, time.Minute)

		if serveWarmup {
			// A failed warmup is not fatal: the API answers 503 until the
			// dataset becomes reachable.
			if _, err := env.Loader.Load(ctx, cfg.Dataset.URL); err != nil {
				zap.L().Warn("dataset warmup failed", zap.String("url", cfg.Dataset.URL), zap.Error(err))
			}
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.String("dataset", cfg.Dataset.URL))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newDashboardServer maps server config onto dashboard options.
func newDashboardServer(env *appEnv, c *config.Config) (*dashboard.Server, error) {
	return dashboard.NewServer(env.Loader, env.Catalog, dashboard.Options{
		DatasetURL:  c.Dataset.URL,
		CORSOrigins: c.Server.CORSOrigins,
		RateLimit:   rate.Limit(c.Server.RateLimitRPS),
		RateBurst:   c.Server.RateLimitBurst,
		SessionTTL:  time.Duration(c.Server.SessionTTLMins) * time.Minute,
	})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveWarmup, "warmup", true, "load the dataset before accepting requests")
	rootCmd.AddCommand(serveCmd)
}
