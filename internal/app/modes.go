package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arvindrk/silverbot/internal/domain"
	"github.com/arvindrk/silverbot/internal/engine"
	"github.com/arvindrk/silverbot/internal/server"
	"github.com/arvindrk/silverbot/internal/server/handler"
)

// TradeMode runs the full bot: feed, trader state machine, scheduler loop,
// and the control server.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	tcfg := a.cfg.Trading
	loc := a.cfg.Location()

	lifecycleCfg := engine.DefaultLifecycleConfig()
	if tcfg.EntryBufferPct > 0 {
		lifecycleCfg.EntryBufferPct = tcfg.EntryBufferPct
	}
	lifecycle := engine.NewLifecycle(lifecycleCfg, deps.Broker, deps.Trades, deps.Metrics, a.logger)

	trader := engine.NewTrader(
		engine.Config{
			InstrumentKey:     a.cfg.Broker.InstrumentKey,
			Quantity:          tcfg.Quantity,
			Trail:             engine.TrailConfig{Multiplier: tcfg.TrailMultiplier, Margin: tcfg.TrailMarginPoints},
			StopMultiplier:    tcfg.StopMultiplier,
			ATRFloor:          tcfg.ATRFloor,
			ATRDefault:        tcfg.ATRDefault,
			GhostStopBuffer:   tcfg.GhostStopBuffer,
			ReconcileStopGap:  tcfg.ReconcileStopGap,
			MarketOpenMinute:  tcfg.MarketOpenMinute,
			MarketCloseMinute: tcfg.MarketCloseMinute,
			NoEntryMinute:     tcfg.NoEntryMinute,
			ForceExitMinute:   tcfg.ForceExitMinute,
			Cooldown:          time.Duration(tcfg.CooldownMin) * time.Minute,
			PostExitWatch:     time.Duration(tcfg.PostExitWatchMin) * time.Minute,
			Location:          loc,
		},
		lifecycle, deps.Broker, deps.Snapshots, deps.Trades, deps.Archiver,
		deps.Metrics, a.logger,
	)
	if !tcfg.Enabled {
		trader.SetTradingEnabled(ctx, false)
	}

	// Bring local state current: last persisted snapshot first, then the
	// broker's truth wins.
	snap, err := deps.Snapshots.LoadSnapshot(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.logger.InfoContext(ctx, "no persisted snapshot, starting flat")
	case err != nil:
		return err
	default:
		trader.Restore(snap)
		a.logger.InfoContext(ctx, "snapshot restored",
			slog.String("side", string(snap.Position.Side)),
			slog.Float64("total_pnl", snap.TotalPnL),
		)
	}
	if err := trader.Reconcile(ctx); err != nil {
		// The broker may be unreachable outside API hours; the first
		// scheduler pass retries nothing, but trading is gated on the
		// session window anyway.
		a.logger.WarnContext(ctx, "startup reconciliation failed",
			slog.String("error", err.Error()),
		)
	}

	g, ctx := errgroup.WithContext(ctx)

	// Market data feed.
	deps.Feed.OnTick(func(tick domain.Tick) {
		trader.OnTick(ctx, tick)
	})
	if err := deps.Feed.Connect(ctx); err != nil {
		// Not fatal: the scheduler watchdog reconnects once the session
		// opens and a token is available.
		a.logger.WarnContext(ctx, "initial feed connect failed",
			slog.String("error", err.Error()),
		)
	}

	// Scheduler loop.
	scheduler := engine.NewScheduler(
		engine.SchedulerConfig{
			Interval:          a.cfg.SchedulerPeriod(),
			CandlePeriod:      a.cfg.CandlePeriod(),
			MinSessionCandles: tcfg.MinSessionCandles,
			MinConfidence:     a.cfg.Oracle.MinConfidence,
			ATRPeriod:         tcfg.ATRPeriod,
			ATRMultiplier:     tcfg.ATRMultiplier,
			APIStartMinute:    tcfg.APIStartMinute,
			MarketOpenMinute:  tcfg.MarketOpenMinute,
			MarketCloseMinute: tcfg.MarketCloseMinute,
			Location:          loc,
		},
		trader, deps.Broker, deps.Oracle, deps.Feed, deps.Metrics, a.logger,
	)
	g.Go(func() error {
		return scheduler.Run(ctx)
	})

	// Control server.
	if a.cfg.Server.Enabled {
		srv := server.NewServer(
			server.Config{Port: a.cfg.Server.Port, APIKey: a.cfg.Server.APIKey},
			server.Handlers{
				Status:  handler.NewStatusHandler(trader, deps.Feed, deps.Trades, a.logger),
				Control: handler.NewControlHandler(trader, a.logger),
			},
			deps.Metrics, a.logger,
		)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	// Let in-flight verifications land before teardown so no fill is lost.
	trader.Wait()
	_ = deps.Feed.Close()
	return err
}

// MonitorMode serves the persisted snapshot and trade log read-only. No
// feed, no orders; useful while the trading instance runs elsewhere.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	srv := server.NewServer(
		server.Config{Port: a.cfg.Server.Port, APIKey: a.cfg.Server.APIKey},
		server.Handlers{
			Status: handler.NewStatusHandler(
				snapshotView{snapshots: deps.Snapshots},
				nil, deps.Trades, a.logger,
			),
		},
		deps.Metrics, a.logger,
	)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// snapshotView adapts the snapshot store to the status handler's read
// surface for the monitor mode, where no trader is running.
type snapshotView struct {
	snapshots domain.SnapshotStore
}

func (v snapshotView) View(feedConnected, online bool) domain.View {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := v.snapshots.LoadSnapshot(ctx)
	if err != nil {
		snap = domain.Snapshot{Position: domain.Position{Side: domain.SideFlat}}
	}
	return domain.View{
		Snapshot:      snap,
		FeedConnected: feedConnected,
		Online:        false,
	}
}
