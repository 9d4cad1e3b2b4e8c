package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/acme/product-pipeline/internal/application"
	"github.com/acme/product-pipeline/internal/infrastructure/cache"
	"github.com/acme/product-pipeline/internal/infrastructure/db"
	"github.com/acme/product-pipeline/internal/infrastructure/velocity"
	httpapi "github.com/acme/product-pipeline/internal/interfaces/http"
)

// runtime bundles the wired backing services for one command invocation.
type runtime struct {
	cfg      *application.Config
	manager  *db.Manager
	cache    cache.Cache
	velocity velocity.Provider
}

func buildRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	rt := &runtime{cfg: cfg, manager: manager}
	if cfg.Cache.Enabled {
		rt.cache = cache.NewRedisCache(cfg.Cache)
	}
	if cfg.Velocity.Enabled {
		rt.velocity = velocity.NewHTTPProvider(cfg.Velocity)
	}

	return rt, nil
}

func (rt *runtime) close() {
	if rt.cache != nil {
		if err := rt.cache.Close(); err != nil {
			log.Warn().Err(err).Msg("cache close failed")
		}
	}
	if err := rt.manager.Close(); err != nil {
		log.Warn().Err(err).Msg("database close failed")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	repos := rt.manager.Repository()
	if repos == nil {
		return fmt.Errorf("the server requires database.enabled: true")
	}

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		rt.cfg.Server.Addr = addr
	}

	admitter := application.NewAdmissionRunner(repos, rt.cache, rt.cfg, log.Logger)
	stageK := application.NewStageKRunner(repos, rt.cache, rt.velocity, log.Logger)

	metrics := httpapi.NewMetricsRegistry()
	admitter.SetMetrics(metrics)
	stageK.SetMetrics(metrics)
	handlers := httpapi.NewHandlers(admitter, stageK, repos, metrics, log.Logger)
	health := httpapi.NewHealthHandler(rt.manager.Health(), rt.cache, version)

	server, err := httpapi.NewServer(rt.cfg.Server, handlers, health, metrics, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runHealth(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	healthy := true

	if rt.manager.IsEnabled() {
		if err := rt.manager.Health().Ping(ctx); err != nil {
			healthy = false
			fmt.Printf("database: unhealthy (%v)\n", err)
		} else {
			fmt.Println("database: healthy")
		}
	} else {
		fmt.Println("database: disabled")
	}

	if rt.cache != nil {
		if rt.cache.Health(ctx) {
			fmt.Println("cache: healthy")
		} else {
			healthy = false
			fmt.Println("cache: unhealthy")
		}
	} else {
		fmt.Println("cache: disabled")
	}

	if !healthy {
		return fmt.Errorf("one or more backing services are unhealthy")
	}
	return nil
}
