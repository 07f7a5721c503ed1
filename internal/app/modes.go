package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fanpredict/marketd/internal/domain"
	"github.com/fanpredict/marketd/internal/notify"
	"github.com/fanpredict/marketd/internal/server"
	"github.com/fanpredict/marketd/internal/server/handler"
	"github.com/fanpredict/marketd/internal/server/ws"
	"github.com/fanpredict/marketd/internal/service"
)

const version = "0.1.0"

// services bundles the three domain services every mode builds from the
// wired dependencies.
type services struct {
	markets    *service.MarketService
	bets       *service.BetService
	wallets    *service.WalletService
	settlement *service.SettlementService
}

func (a *App) buildServices(deps *Dependencies) services {
	return services{
		markets: service.NewMarketService(deps.Ledger, deps.MarketStore, deps.MarketCache, a.logger),
		bets: service.NewBetService(
			deps.Ledger, deps.BetStore, deps.MarketCache, deps.AuditStore, deps.SignalBus, a.logger,
		),
		wallets: service.NewWalletService(deps.Tokens, deps.AuditStore, a.logger),
		settlement: service.NewSettlementService(
			deps.Ledger, deps.Reconciler, deps.MarketStore, deps.BetStore,
			deps.MarketCache, deps.AuditStore, deps.SignalBus, a.logger,
		),
	}
}

// ServerMode runs the HTTP and WebSocket API without the background workers.
// Resolutions still publish events; a separate reconcile-mode process picks
// them up, or an operator triggers passes through the reconcile endpoint.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	a.startHTTPServer(ctx, g, deps, svcs)
	a.startNotifyWorker(ctx, g, deps)

	return g.Wait()
}

// ReconcileMode runs only the background workers: the reconciliation loop
// that settles mirror rows after markets resolve, the notification relay,
// and the archive loop when enabled.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	a.startReconcileWorker(ctx, g, deps, svcs.settlement)
	a.startNotifyWorker(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)

	return g.Wait()
}

// FullMode runs the API and all background workers in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	a.startReconcileWorker(ctx, g, deps, svcs.settlement)
	a.startNotifyWorker(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)

	return g.Wait()
}

// startHTTPServer adds the API server and WebSocket hub goroutines to the
// errgroup. The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs services) {
	hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(version),
		Markets:    handler.NewMarketHandler(svcs.markets, deps.CreatorAddr, deps.TokenAddr, a.logger),
		Bets:       handler.NewBetHandler(svcs.bets, svcs.markets, a.logger),
		Wallets:    handler.NewWalletHandler(svcs.wallets, a.logger),
		Settlement: handler.NewSettlementHandler(svcs.settlement, deps.CreatorAddr, a.logger),
		Audit:      handler.NewAuditHandler(deps.AuditStore, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, deps.BlobDeleter, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminKey:    a.cfg.Server.AdminKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startReconcileWorker adds the goroutines that keep the mirror settled: a
// live subscriber on the resolution channel and a polling loop that replays
// the durable resolution stream and sweeps resolved markets. Every pass is
// idempotent, so overlap between the two paths is harmless.
func (a *App) startReconcileWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies, settlement *service.SettlementService) {
	// Live path: react to resolutions as they are published.
	g.Go(func() error {
		ch, err := deps.SignalBus.Subscribe(ctx, domain.ChannelMarketResolved)
		if err != nil {
			return fmt.Errorf("reconcile worker: subscribe: %w", err)
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case payload, ok := <-ch:
				if !ok {
					return nil
				}
				var ev domain.MarketResolvedEvent
				if err := json.Unmarshal(payload, &ev); err != nil {
					a.logger.WarnContext(ctx, "reconcile worker: bad resolution event",
						slog.String("error", err.Error()))
					continue
				}
				a.reconcileQuestion(ctx, deps, settlement, ev.QuestionID)
			}
		}
	})

	// Catch-up path: replay the durable stream (covers resolutions published
	// while no worker was listening), then sweep resolved markets on a timer
	// in case a stream append was lost too.
	g.Go(func() error {
		interval := a.cfg.Settlement.PollInterval.Duration
		if interval <= 0 {
			interval = time.Minute
		}

		lastID := "0"
		runOnce := func() {
			msgs, err := deps.SignalBus.StreamRead(ctx, domain.ChannelMarketResolved, lastID, 100)
			if err != nil {
				a.logger.WarnContext(ctx, "reconcile worker: stream read failed",
					slog.String("error", err.Error()))
			}
			for _, msg := range msgs {
				lastID = msg.ID
				var ev domain.MarketResolvedEvent
				if err := json.Unmarshal(msg.Payload, &ev); err != nil {
					continue
				}
				a.reconcileQuestion(ctx, deps, settlement, ev.QuestionID)
			}

			resolved, err := deps.MarketStore.ListResolved(ctx, domain.ListOpts{Limit: 200})
			if err != nil {
				a.logger.WarnContext(ctx, "reconcile worker: list resolved failed",
					slog.String("error", err.Error()))
				return
			}
			for _, m := range resolved {
				a.reconcileQuestion(ctx, deps, settlement, m.QuestionID)
			}
		}

		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				runOnce()
			}
		}
	})
}

// reconcileQuestion runs reconciliation passes for one question until the
// pass leaves no failed rows, up to the configured retry budget. Failures
// never propagate to the worker loop; the next poll retries what is left.
func (a *App) reconcileQuestion(ctx context.Context, deps *Dependencies, settlement *service.SettlementService, questionID string) {
	backoff := a.cfg.Settlement.RetryBackoff.Duration
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	for attempt := 0; ; attempt++ {
		res, err := settlement.Reconcile(ctx, questionID)
		if err == nil && !res.Failed() {
			if res.Won+res.Lost > 0 {
				a.notifyReconcile(ctx, deps, res.QuestionID, res.Won, res.Lost, res.Skipped, 0)
			}
			return
		}
		if err != nil {
			a.logger.WarnContext(ctx, "reconcile pass failed",
				slog.String("question_id", questionID),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
		}

		if attempt >= a.cfg.Settlement.MaxRetries {
			if err == nil {
				a.logger.ErrorContext(ctx, "reconcile pass left failed rows",
					slog.String("question_id", questionID),
					slog.Int("failed_rows", len(res.FailedRowIDs)),
				)
				a.notifyReconcile(ctx, deps, res.QuestionID, res.Won, res.Lost, res.Skipped, len(res.FailedRowIDs))
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (a *App) notifyReconcile(ctx context.Context, deps *Dependencies, questionID string, won, lost, skipped, failed int) {
	if deps.Notifier == nil {
		return
	}
	event, title, message := notify.FormatReconcile(questionID, won, lost, skipped, failed)
	if err := deps.Notifier.Notify(ctx, event, title, message); err != nil {
		a.logger.WarnContext(ctx, "reconcile notification failed",
			slog.String("error", err.Error()))
	}
}

// startNotifyWorker relays settlement bus events to the configured
// notification channels. It is a no-op when no sender is configured.
func (a *App) startNotifyWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil {
		return
	}

	channels := []string{
		domain.ChannelBetPlaced,
		domain.ChannelMarketResolved,
		domain.ChannelClaimed,
	}
	for _, channel := range channels {
		channel := channel
		g.Go(func() error {
			ch, err := deps.SignalBus.Subscribe(ctx, channel)
			if err != nil {
				return fmt.Errorf("notify worker: subscribe %s: %w", channel, err)
			}
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case payload, ok := <-ch:
					if !ok {
						return nil
					}
					event, title, message, ok := notify.FormatEvent(channel, payload)
					if !ok {
						continue
					}
					if err := deps.Notifier.Notify(ctx, event, title, message); err != nil {
						a.logger.WarnContext(ctx, "notification failed",
							slog.String("event", event),
							slog.String("error", err.Error()),
						)
					}
				}
			}
		})
	}
}

// startArchiveLoop adds the goroutine that periodically exports settled
// mirror rows past the retention window to object storage. It is a no-op
// when archiving is disabled.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	batchSize := a.cfg.Archive.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	g.Go(func() error {
		runOnce := func() {
			cutoff := time.Now().UTC().Add(-retention)
			var total int64
			for {
				n, err := deps.Archiver.ArchiveSettledBets(ctx, cutoff, batchSize)
				if err != nil {
					a.logger.ErrorContext(ctx, "archive batch failed",
						slog.String("error", err.Error()))
					return
				}
				total += n
				if n == 0 {
					break
				}
			}
			if total > 0 {
				a.logger.InfoContext(ctx, "archive run complete",
					slog.Int64("rows", total))
			}
		}

		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				runOnce()
			}
		}
	})
}
