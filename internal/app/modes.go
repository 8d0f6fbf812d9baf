package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clearstrike/clearstrike/internal/crypto"
	"github.com/clearstrike/clearstrike/internal/relayer"
	"github.com/clearstrike/clearstrike/internal/server"
	"github.com/clearstrike/clearstrike/internal/server/handler"
	"github.com/clearstrike/clearstrike/internal/server/ws"
	"github.com/clearstrike/clearstrike/internal/service"
)

// ServeMode runs the HTTP + WebSocket API server on top of the settlement
// engine, plus the notification bridge and the daily settlement archive job.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	// WebSocket hub -- requires a signal bus.
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Market, a.logger),
		Feeds:     handler.NewFeedHandler(deps.Oracle, deps.Market, deps.Service, a.logger),
		Rounds:    handler.NewRoundHandler(deps.Service, a.logger),
		Positions: handler.NewPositionHandler(deps.Service, a.logger),
		Vault:     handler.NewVaultHandler(deps.Reserve, deps.Sequencer, a.logger),
		Admin:     handler.NewAdminHandler(deps.Market, deps.Sequencer, a.logger),
	}

	rateWindow := time.Duration(a.cfg.Server.RateWindowSec) * time.Second
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.AuthToken,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  rateWindow,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if deps.SignalBus != nil {
		g.Go(func() error {
			return a.runNotifyBridge(ctx, deps)
		})
	}

	if deps.Archiver != nil && deps.ClosedPositions != nil {
		g.Go(func() error {
			return a.runArchiveJob(ctx, deps)
		})
	}

	return g.Wait()
}

// RelayMode runs the price relayer: it observes the upstream exchange trade
// stream and pushes signed rounds into the engine through the settlement
// service.
func (a *App) RelayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting relay mode")

	rel, err := a.buildRelayer(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rel.Run(ctx)
	})
	return g.Wait()
}

// FullMode runs the API server and the relayer in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	rel, err := a.buildRelayer(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.ServeMode(ctx, deps)
	})
	g.Go(func() error {
		return rel.Run(ctx)
	})
	return g.Wait()
}

// buildRelayer assembles the relayer from the configured feed bindings and
// the signing key.
func (a *App) buildRelayer(deps *Dependencies) (*relayer.Relayer, error) {
	keyHex, err := crypto.LoadSignerKey(crypto.KeyfileConfig{
		RawPrivateKey:    a.cfg.Signer.PrivateKey,
		EncryptedKeyPath: a.cfg.Signer.EncryptedKeyPath,
		KeyPassword:      a.cfg.Signer.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: signer key: %w", err)
	}
	signer, err := crypto.NewRoundSigner(keyHex)
	if err != nil {
		return nil, fmt.Errorf("app: signer: %w", err)
	}

	bindings := make([]relayer.Binding, 0, len(a.cfg.Relayer.Symbols))
	for i, symbol := range a.cfg.Relayer.Symbols {
		feedAddr, err := parseAddress("feed address", a.cfg.Feeds[i].Address)
		if err != nil {
			return nil, fmt.Errorf("app: relayer binding: %w", err)
		}
		bindings = append(bindings, relayer.Binding{Symbol: symbol, Feed: feedAddr})
	}

	return relayer.New(relayer.Config{
		WSURL:        a.cfg.Relayer.SourceWSURL,
		Bindings:     bindings,
		PushInterval: a.cfg.Relayer.PushInterval.Duration,
		LockTTL:      a.cfg.Relayer.LockTTL.Duration,
	}, signer, deps.Service, deps.LockManager, a.logger), nil
}

// runNotifyBridge subscribes to position events on the signal bus and fans
// them out to the configured notification channels.
func (a *App) runNotifyBridge(ctx context.Context, deps *Dependencies) error {
	ch, err := deps.SignalBus.Subscribe(ctx, service.ChannelPositions)
	if err != nil {
		return fmt.Errorf("app: notify bridge subscribe: %w", err)
	}
	a.logger.InfoContext(ctx, "notify bridge started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var event struct {
				Event      string `json:"event"`
				PositionID uint64 `json:"position_id"`
			}
			if err := json.Unmarshal(payload, &event); err != nil || event.Event == "" {
				continue
			}
			title := fmt.Sprintf("%s #%d", event.Event, event.PositionID)
			if err := deps.Notifier.Notify(ctx, event.Event, title, string(payload)); err != nil {
				a.logger.WarnContext(ctx, "notify bridge dispatch failed",
					slog.String("event", event.Event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// runArchiveJob archives the previous UTC day's settled positions shortly
// after each midnight.
func (a *App) runArchiveJob(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "archive job started")

	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24*time.Hour + 5*time.Minute)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(next.Sub(now)):
		}

		day := time.Now().UTC().AddDate(0, 0, -1)
		count, err := deps.Archiver.ArchiveDay(ctx, day)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive job failed",
				slog.String("day", day.Format("2006-01-02")),
				slog.String("error", err.Error()),
			)
			continue
		}
		if count > 0 {
			a.logger.InfoContext(ctx, "settled positions archived",
				slog.String("day", day.Format("2006-01-02")),
				slog.Int64("count", count),
			)
		}
	}
}
