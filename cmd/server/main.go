package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/talkrooms/internal/adapters/http"
	"github.com/dkeye/talkrooms/internal/adapters/identity"
	"github.com/dkeye/talkrooms/internal/adapters/rtc"
	wsignal "github.com/dkeye/talkrooms/internal/adapters/signal"
	"github.com/dkeye/talkrooms/internal/adapters/store"
	"github.com/dkeye/talkrooms/internal/app"
	"github.com/dkeye/talkrooms/internal/app/orch"
	"github.com/dkeye/talkrooms/internal/config"
	"github.com/dkeye/talkrooms/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	st, closeStore, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	verifier, err := openVerifier(ctx, cfg.Identity)
	if err != nil {
		return err
	}

	ice, err := rtc.ICEServers(cfg.ICEServers)
	if err != nil {
		return fmt.Errorf("ice servers: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	o := orch.New(st, verifier, core.RealClock(), orch.Options{
		GracePeriod:            cfg.GracePeriod,
		DefaultMaxParticipants: cfg.DefaultMaxParticipants,
		ICEServers:             ice,
		Policy:                 app.SimplePolicy{},
		Registerer:             reg,
	})
	limiter := wsignal.NewRoomRateLimiter(cfg.CreateRoomLimit, cfg.CreateRoomInterval, o.Clock)
	ctl := wsignal.NewSignalWSController(o, limiter, wsignal.Options{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		SendBuffer:     cfg.SendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{Orch: o, Signal: ctl, Gatherer: reg})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("talkrooms server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		return nil
	})
	return g.Wait()
}

func openStore(cfg config.DatabaseConfig) (core.Store, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		log.Warn().Str("module", "main").Msg("using in-memory store, state is lost on restart")
		return store.NewMemory(), func() {}, nil
	case "postgres":
		pg, err := store.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return pg, func() {
			if err := pg.Close(); err != nil {
				log.Warn().Err(err).Str("module", "main").Msg("close postgres")
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func openVerifier(ctx context.Context, cfg config.IdentityConfig) (*identity.Verifier, error) {
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("identity.project_id (or issuer and audience) must be set")
	}
	v, err := identity.NewRemoteVerifier(ctx, cfg.JWKSURL, cfg.RefreshInterval, identity.Options{
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
	})
	if err != nil {
		return nil, fmt.Errorf("identity verifier: %w", err)
	}
	return v, nil
}
