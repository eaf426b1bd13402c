package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mbp-platform/envmodel/internal/api"
	"github.com/mbp-platform/envmodel/internal/config"
	"github.com/mbp-platform/envmodel/internal/deploy"
	"github.com/mbp-platform/envmodel/internal/events"
	"github.com/mbp-platform/envmodel/internal/gateway"
	"github.com/mbp-platform/envmodel/internal/lifecycle"
	"github.com/mbp-platform/envmodel/internal/session"
	"github.com/mbp-platform/envmodel/internal/store"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	lg := zerolog.New(os.Stdout).With().Timestamp().Str("svc", "envmodel").Logger()

	configPath := os.Getenv("ENVMODEL_CONFIG")
	if configPath == "" {
		exePath, err := os.Executable()
		if err != nil {
			lg.Fatal().Err(err).Msg("failed to get executable path")
		}
		configPath = filepath.Join(filepath.Dir(exePath), "envmodel.config.xml")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		lg.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Advanced.LogLevel); err == nil {
		lg = lg.Level(level)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		lg.Fatal().Err(err).Msg("failed to create directories")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, local, closeGateway, err := buildGateway(ctx, cfg, lg)
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to initialize gateway")
	}
	defer closeGateway()

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.Enabled {
		p, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, lg)
		if err != nil {
			lg.Warn().Err(err).Msg("event publishing disabled")
		} else {
			publisher = p
		}
	}
	defer publisher.Close()

	palette, err := config.LoadPalette(cfg.Editor.PaletteFile)
	if err != nil {
		lg.Fatal().Err(err).Str("path", cfg.Editor.PaletteFile).Msg("failed to load palette")
	}

	sessionMgr := session.NewManager(gw, palette, session.Config{
		MaxSessions:  cfg.Editor.MaxSessions,
		Orchestrator: []lifecycle.Option{
			lifecycle.WithClearAfter(cfg.ClearAfter()),
			lifecycle.WithConcurrency(cfg.Editor.Concurrency),
			lifecycle.WithPublisher(publisher),
		},
	}, lg)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.SetupMiddleware(e, lg, cfg.Advanced.EnableRequestLogging)
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	handlers := api.NewHandlers(&api.Dependencies{
		Sessions:    sessionMgr,
		Gateway:     gw,
		Local:       local,
		GatewayMode: cfg.Gateway.Mode,
		Version:     Version,
		Logger:      lg,
	})
	api.RegisterRoutes(e, handlers)

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      e,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Environment Model Editor                        ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Gateway:    %-45s║\n", gatewayLabel(cfg))
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Storage:   %-46s║\n", cfg.Storage.Driver)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sessionMgr.RunCleanup(gctx, cfg.CleanupInterval(), cfg.SessionTimeout())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		lg.Info().Msg("shutting down")
		return s.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		lg.Error().Err(err).Msg("server stopped")
	}
}

// buildGateway returns the configured gateway. In local mode it also
// returns the in-process backend so its REST surface can be mounted.
func buildGateway(ctx context.Context, cfg *config.AppConfig, lg zerolog.Logger) (gateway.Gateway, *gateway.Local, func(), error) {
	if cfg.Gateway.Mode == config.GatewayRemote {
		client, err := gateway.NewClient(gateway.ClientConfig{
			BaseURL:  cfg.Gateway.BaseURL,
			Username: cfg.Gateway.Username,
			Password: cfg.Gateway.Password,
			Timeout:  cfg.GatewayTimeout(),
		}, lg)
		if err != nil {
			return nil, nil, nil, err
		}
		return client, nil, func() {}, nil
	}

	st, err := store.Open(cfg.Storage.Driver, cfg.Storage.DSN, lg,
		store.WithThreads(cfg.Advanced.DuckDBThreads),
		store.WithMemoryLimit(cfg.Advanced.DuckDBMemoryLimit),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	var rt deploy.Runtime
	closeRuntime := func() {}
	switch cfg.Runtime.Kind {
	case deploy.KindDocker:
		dr, err := deploy.NewDockerRuntime(cfg.Runtime.Network, lg)
		if err != nil {
			st.Close()
			return nil, nil, nil, fmt.Errorf("docker runtime: %w", err)
		}
		rt = dr
		closeRuntime = func() { _ = dr.Close() }
	default:
		rt = deploy.NewSimulatedRuntime(lg)
	}

	local := gateway.NewLocal(st, rt, lg)
	adapters := make([]gateway.AdapterPayload, 0, len(cfg.Runtime.Adapters))
	for _, a := range cfg.Runtime.Adapters {
		adapters = append(adapters, gateway.AdapterPayload{Name: a.Name, Image: a.Image})
	}
	if err := local.SeedAdapters(ctx, adapters); err != nil {
		lg.Warn().Err(err).Msg("failed to seed adapters")
	}

	return local, local, func() {
		closeRuntime()
		if err := st.Close(); err != nil {
			lg.Warn().Err(err).Msg("failed to close store")
		}
	}, nil
}

func gatewayLabel(cfg *config.AppConfig) string {
	if cfg.Gateway.Mode == config.GatewayRemote {
		return "remote " + cfg.Gateway.BaseURL
	}
	return "local (" + cfg.Runtime.Kind + ")"
}
