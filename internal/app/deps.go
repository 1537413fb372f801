package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lensfolio/backend/internal/auth"
	"github.com/lensfolio/backend/internal/config"
	"github.com/lensfolio/backend/internal/db"
	"github.com/lensfolio/backend/internal/download"
	"github.com/lensfolio/backend/internal/handlers"
	"github.com/lensfolio/backend/internal/middleware"
	"github.com/lensfolio/backend/internal/repositories"
	"github.com/lensfolio/backend/internal/storage"
	"github.com/lensfolio/backend/internal/watermark"
)

// buildDependencies wires together the concrete implementations used by the
// HTTP handlers. The returned cleanup stops background workers and must be
// called during shutdown.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, func(context.Context) error, error) {
	store, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
	if err != nil {
		return handlers.Dependencies{}, nil, fmt.Errorf("configure object storage: %w", err)
	}

	renderer := watermark.NewCachingRenderer(watermark.NewRenderer(store), cfg.PreviewCacheTTL)

	galleries := repositories.NewPostgresGallerySessionRepository(pool)
	files := repositories.NewPostgresFileRepository(pool)
	policies := repositories.NewPostgresPolicyRepository(pool)
	entitlements := repositories.NewPostgresEntitlementRepository(pool)
	downloads := repositories.NewPostgresDownloadRepository(pool)

	pipeline := download.NewOrchestrator(
		galleries,
		download.NewPolicyResolver(policies),
		download.NewEntitlementEngine(entitlements, downloads),
		download.NewFileResolver(files),
		download.NewDeliveryStage(downloads, store, renderer, cfg.DownloadTokenTTL, cfg.SignedURLTTL),
		downloads,
	)

	sweeper := download.NewSweeper(downloads, download.SweeperConfig{
		Interval: cfg.Sweep.Interval,
		MaxAge:   cfg.Sweep.MaxAge,
	}, logger)
	cleanup := func(ctx context.Context) error {
		return sweeper.Shutdown(ctx)
	}

	sessionStore := repositories.NewPostgresSessionStore(pool)

	deps := handlers.Dependencies{
		Pipeline:     pipeline,
		Users:        repositories.NewPostgresUserRepository(pool),
		Sessions:     auth.NewManager(cfg.AccessTokenTTL, cfg.RefreshTokenTTL, sessionStore),
		Galleries:    galleries,
		Policies:     policies,
		Entitlements: entitlements,
		Downloads:    downloads,
		Limiter:      middleware.NewClientRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow, cfg.RateLimitBurst, 5*time.Minute),
		OrderSecret:  cfg.OrderWebhookSecret,

		PipelineTimeout: cfg.PipelineTimeout,
		IncludeDebug:    !cfg.IsProduction(),
	}
	return deps, cleanup, nil
}
