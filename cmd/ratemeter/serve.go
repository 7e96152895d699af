package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AlexKimmel/ratemeter/internal/auth"
	"github.com/AlexKimmel/ratemeter/internal/config"
	"github.com/AlexKimmel/ratemeter/internal/gateway"
	"github.com/AlexKimmel/ratemeter/internal/obs"
	"github.com/AlexKimmel/ratemeter/internal/proxy"
	"github.com/AlexKimmel/ratemeter/internal/ratelimit/memory"
	"github.com/AlexKimmel/ratemeter/internal/routing"
)

func newServeCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rate limiting reverse proxy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, obs.SetupLogger(cfg.Observability.LogLevel))
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "./config.yaml", "path to the YAML config")
	return cmd
}

// newHandler wires the middleware chain for cfg around the limiter.
func newHandler(cfg *config.Root, logger zerolog.Logger, lim *memory.Limiter, reg *prometheus.Registry, m *obs.Metrics) (http.Handler, error) {
	rr, err := routing.FromConfig(cfg.Routes)
	if err != nil {
		return nil, err
	}

	skip := map[string]struct{}{
		"/health":                         {},
		"/version":                        {},
		cfg.Observability.PrometheusPath: {},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(version))
	})
	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", proxy.Handler(proxy.NewHTTPTransport()))

	authStore := auth.NewStatic(cfg.Auth.Header, cfg.Auth.AllowAnonymous, cfg.Auth.Keys)

	return gateway.Chain(
		mux,
		obs.Logger(logger),
		m.Middleware(skip),
		gateway.BodyLimit(cfg.Server.MaxBody()),
		authStore.Middleware(skip),
		gateway.RouteMatcher(rr, skip),
		gateway.RateLimit(lim, gateway.RateLimitOptions{
			Default:    cfg.Limits.Default.Policy(),
			CostHeader: cfg.Limits.CostHeader,
			Skip:       skip,
			Hooks:      m.Hooks(),
		}),
	), nil
}

func serve(ctx context.Context, cfg *config.Root, logger zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	var m *obs.Metrics
	lim := memory.New(
		memory.WithLogger(logger),
		memory.WithEviction(cfg.Limits.EvictInterval, cfg.Limits.MaxIdle),
		memory.OnEvict(func(n int) { m.ObserveEvictions(n) }),
	)
	defer lim.Close()
	m = obs.NewMetrics(reg, lim.Len)

	handler, err := newHandler(cfg, logger, lim, reg, m)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return lim.Run(ctx)
	})
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Int("routes", len(cfg.Routes)).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("bye")
	return err
}
