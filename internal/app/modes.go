package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// TradeMode runs the full control plane: reconciliation, the price feed with
// live exit triggers, opportunity intake, archiving, and the operator API.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runControlPlane(ctx, deps, true)
}

// MonitorMode runs the same loops as trade mode but with a seller that only
// alerts, and without opportunity intake. Nothing reaches the venue's order
// endpoints.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode, no orders will be placed")
	return a.runControlPlane(ctx, deps, false)
}

// ServerMode serves the operator API over the on-disk state without touching
// the venue. Useful for inspecting a stopped deployment.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	if deps.Server == nil {
		return errors.New("app: server mode requires server.enabled")
	}
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

func (a *App) runControlPlane(ctx context.Context, deps *Dependencies, trading bool) error {
	deps.Machine.Start()

	if err := deps.Coordinator.SeedRecentlySold(ctx); err != nil {
		a.logger.Warn("seeding recently-sold markers failed", "error", err.Error())
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Reconciler.Run(ctx)
	})
	g.Go(func() error {
		return deps.Subscriber.Run(ctx)
	})

	if trading && deps.Intake != nil {
		g.Go(func() error {
			return deps.Intake.Run(ctx)
		})
	}
	if deps.Archiver != nil {
		interval := a.cfg.S3.ArchiveInterval.Duration
		g.Go(func() error {
			return deps.Archiver.Run(ctx, interval)
		})
	}
	a.startServer(ctx, g, deps)

	return g.Wait()
}

// startServer runs the API server, if enabled, and shuts it down when ctx is
// cancelled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Server == nil {
		return
	}
	g.Go(func() error {
		return deps.Server.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := deps.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: server shutdown: %w", err)
		}
		return ctx.Err()
	})
}
