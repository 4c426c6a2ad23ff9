package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/qavit/smorrery/internal/api"
	"github.com/qavit/smorrery/internal/auth"
	"github.com/qavit/smorrery/internal/metrics"
	"github.com/qavit/smorrery/internal/sbdb"
	"github.com/qavit/smorrery/internal/store"
	"github.com/qavit/smorrery/web"
)

type upstreamConfig struct {
	QueryURL string
	CADURL   string
}

type cacheConfig struct {
	BodiesPath     string
	ApproachesPath string
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	addr := os.Getenv("SMORRERY_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	upstreamCfg := loadUpstreamConfig(logger)
	cacheCfg := loadCacheConfig(logger)

	bodies := store.New("bodies", cacheCfg.BodiesPath, logger)
	approaches := store.New("close_approaches", cacheCfg.ApproachesPath, logger)

	// Warm the memory slots from any snapshot left by a previous run so the
	// orrery can serve before the first upstream fetch.
	if data, ok := bodies.Snapshot(); ok {
		logger.Info("restored bodies snapshot", "records", store.RecordCount(data))
	}
	if data, ok := approaches.Snapshot(); ok {
		logger.Info("restored close-approach snapshot", "records", store.RecordCount(data))
	}

	client := sbdb.NewClient(upstreamCfg.QueryURL, upstreamCfg.CADURL, logger)

	texturesDir := os.Getenv("SMORRERY_TEXTURES_DIR")

	srv, err := api.NewServer(addr, logger, authCfg, client, bodies, approaches, web.Content, texturesDir)
	if err != nil {
		logger.Error("building server", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background goroutine to update snapshot age gauges.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, s := range []*store.Store{bodies, approaches} {
					if age := s.Age(); age >= 0 {
						metrics.SetCacheAge(s.Name(), age)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server", "addr", addr, "auth_enabled", authCfg.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("SMORRERY_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("SMORRERY_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("SMORRERY_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("SMORRERY_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

func loadUpstreamConfig(logger *slog.Logger) upstreamConfig {
	cfg := upstreamConfig{
		QueryURL: os.Getenv("SMORRERY_SBDB_QUERY_URL"),
		CADURL:   os.Getenv("SMORRERY_CAD_URL"),
	}

	logger.Info("upstream config",
		"sbdb_query_url", orDefault(cfg.QueryURL, "jpl default"),
		"cad_url", orDefault(cfg.CADURL, "jpl default"),
	)

	return cfg
}

func loadCacheConfig(logger *slog.Logger) cacheConfig {
	cfg := cacheConfig{
		BodiesPath:     "neo20.json",
		ApproachesPath: "neoCA.json",
	}

	if v := os.Getenv("SMORRERY_BODIES_CACHE"); v != "" {
		cfg.BodiesPath = v
	}
	if v := os.Getenv("SMORRERY_CA_CACHE"); v != "" {
		cfg.ApproachesPath = v
	}

	logger.Info("cache config",
		"bodies_path", cfg.BodiesPath,
		"close_approaches_path", cfg.ApproachesPath,
	)

	return cfg
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
