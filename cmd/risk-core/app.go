package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ducminhle1904/risk-orchestrator/internal/audit"
	"github.com/ducminhle1904/risk-orchestrator/internal/config"
	"github.com/ducminhle1904/risk-orchestrator/internal/control"
	"github.com/ducminhle1904/risk-orchestrator/internal/exchange/bybit"
	"github.com/ducminhle1904/risk-orchestrator/internal/execution"
	"github.com/ducminhle1904/risk-orchestrator/internal/ingress"
	"github.com/ducminhle1904/risk-orchestrator/internal/killswitch"
	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
	"github.com/ducminhle1904/risk-orchestrator/internal/monitoring"
	"github.com/ducminhle1904/risk-orchestrator/internal/notifications"
	"github.com/ducminhle1904/risk-orchestrator/internal/orchestrator"
	"github.com/ducminhle1904/risk-orchestrator/internal/portfolio"
	"github.com/ducminhle1904/risk-orchestrator/internal/reconcile"
	"github.com/ducminhle1904/risk-orchestrator/internal/regime"
	"github.com/ducminhle1904/risk-orchestrator/internal/report"
	"github.com/ducminhle1904/risk-orchestrator/internal/risk"
	"github.com/ducminhle1904/risk-orchestrator/internal/safety"
	"github.com/ducminhle1904/risk-orchestrator/internal/state"
	"github.com/ducminhle1904/risk-orchestrator/internal/storage"
	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

const portfolioRefresh = 10 * time.Second

// app owns every long-lived component of the risk core
type app struct {
	cfg *config.Config
	log *logger.Logger

	modes        *state.Manager
	breakers     *safety.Registry
	ledger       *portfolio.Ledger
	killSwitch   *killswitch.KillSwitch
	orchestrator *orchestrator.Orchestrator
	reconciler   *reconcile.Reconciler
	control      *control.Service
	source       ingress.Source
	health       *monitoring.HealthChecker

	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, log)

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg
	log := a.log

	notifier := notifications.NewFanout().Add(notifications.NewLogNotifier(log), notifications.SeverityInfo)
	if cfg.Telegram.Enabled {
		minSeverity, err := notifications.ParseSeverity(cfg.Telegram.MinSeverity)
		if err != nil {
			return err
		}
		notifier.Add(notifications.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID), minSeverity)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	// system state
	a.modes = state.NewManager(store, notifier, log)
	if err := a.modes.Restore(ctx); err != nil {
		log.LogError("restore system state", err)
	}
	modeNames := make([]string, len(state.AllModes))
	for i, m := range state.AllModes {
		modeNames[i] = string(m)
	}
	monitoring.SetMode(string(a.modes.Mode()), modeNames)
	a.modes.Subscribe(func(ch state.ModeChange) {
		monitoring.SetMode(string(ch.To), modeNames)
	})

	a.breakers = safety.NewDefaultRegistry(notifier, log, cfg.Breakers)

	// book and risk
	a.ledger = portfolio.NewLedger(portfolio.Options{
		StartingCash: cfg.Portfolio.StartingCash,
		Symbols:      cfg.Symbols,
		Correlations: cfg.Correlations,
		Store:        store,
		Logger:       log,
		Location:     config.Location(cfg.Portfolio.Timezone),
	})
	if err := a.ledger.Restore(ctx); err != nil {
		log.LogError("restore ledger", err)
	}

	calibration := risk.NewCalibrationMonitor()
	sizer := risk.NewPositionSizer(cfg.Risk.BaseRisk, cfg.Risk.RegimeMultipliers)
	gate := risk.NewGate(sizer, calibration, cfg.Symbols)
	safety.InstallDefaultDegradations(a.breakers, a.modes, calibration)

	tracker := regime.NewTracker(cfg.Regime.MaxAge)

	// fills that cannot be booked leave the ledger out of step with the venue
	fills := execution.FillHandlerFunc(func(ctx context.Context, fill types.Fill) error {
		err := a.ledger.ApplyFill(ctx, fill)
		if err != nil && a.killSwitch != nil {
			a.killSwitch.ReportCriticalError(ctx, "ledger", err)
		}
		return err
	})

	executor, venue, err := a.openExecutor(fills)
	if err != nil {
		return err
	}

	sink, err := a.openAudit()
	if err != nil {
		return err
	}

	a.killSwitch = killswitch.New(a.modes, a.ledger, executor, a.ledger, killswitch.Options{
		OrderTimeout: cfg.KillSwitch.OrderTimeout,
		Store:        store,
		Notifier:     notifier,
		Logger:       log,
	})
	if err := a.killSwitch.Restore(ctx); err != nil {
		log.LogError("restore kill switch", err)
	}
	a.killSwitch.Subscribe(func(rec killswitch.Record) {
		report.KillSwitch(os.Stdout, rec)
	})

	a.orchestrator, err = orchestrator.New(cfg.Orchestrator, orchestrator.Dependencies{
		Modes:         a.modes,
		KillSwitch:    a.killSwitch,
		Regimes:       tracker,
		Compatibility: cfg.Regime.Compatibility,
		Gate:          gate,
		Book:          a.ledger,
		Executor:      executor,
		Breakers:      a.breakers,
		Audit:         sink,
		Notifier:      notifier,
		Logger:        log,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	a.reconciler = reconcile.New(venue, a.ledger, notifier, cfg.Reconcile.Timeout, log)

	a.control = control.NewService(a.modes, a.killSwitch, control.ServiceOptions{
		Breakers:   a.breakers,
		Metrics:    a.ledger,
		Reconciler: a.reconciler,
		Logger:     log,
	})

	handlers := &ingress.Handlers{
		Signals:          a.orchestrator.Submit,
		Regimes:          tracker,
		Calibration:      calibration,
		Marks:            a.ledger,
		PriceBreaker:     a.breakers.MustGet(safety.BreakerPriceFeed),
		ModelBreaker:     a.breakers.MustGet(safety.BreakerModelInference),
		ProducerBreakers: make(map[string]*safety.CircuitBreaker),
		Logger:           log,
	}
	for _, p := range cfg.Ingress.NewsProducers {
		handlers.ProducerBreakers[strings.ToLower(p)] = a.breakers.MustGet(safety.BreakerNewsFeed)
	}
	if cfg.Ingress.Enabled {
		src, err := ingress.NewKafkaSource(cfg.Ingress.Kafka, handlers, log)
		if err != nil {
			return fmt.Errorf("kafka ingress: %w", err)
		}
		a.source = src
	}

	a.health = a.healthChecks()
	return nil
}

func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageMemory:
		return storage.NewMemory(), nil
	case config.StorageRedis:
		rs, err := storage.DialRedis(ctx, a.cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs)
		return rs, nil
	default:
		return storage.NewFileStore(a.cfg.Storage.Dir)
	}
}

// openExecutor returns the order executor and the venue's view of positions
func (a *app) openExecutor(fills execution.FillHandler) (execution.Executor, execution.PositionSource, error) {
	if a.cfg.Executor == config.ExecutorBybit {
		client := bybit.NewClient(a.cfg.Bybit, fills, a.log)
		a.log.Info("bybit executor on %s", client.GetEnvironment())
		return client, client, nil
	}
	paper := execution.NewPaperExecutor(a.cfg.Paper, fills, a.ledger, a.log)
	return paper, paper, nil
}

func (a *app) openAudit() (audit.Sink, error) {
	jsonl, err := audit.NewJSONLSink(a.cfg.Audit.JSONLPath)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	sinks := audit.Fanout{jsonl}
	if a.cfg.Audit.Postgres {
		pg, err := audit.OpenPostgres(a.cfg.Audit.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres audit: %w", err)
		}
		a.closers = append(a.closers, pg)
		sinks = append(sinks, pg)
	}
	return sinks, nil
}

func (a *app) healthChecks() *monitoring.HealthChecker {
	h := monitoring.NewHealthChecker()
	h.AddCheck("mode", func() (bool, interface{}) {
		st := a.modes.Current()
		return st.Mode != state.ModeEmergency, st
	})
	h.AddCheck("kill_switch", func() (bool, interface{}) {
		return !a.killSwitch.Triggered(), a.killSwitch.Status()
	})
	h.AddCheck("circuit_breakers", func() (bool, interface{}) {
		open := a.breakers.OpenBreakers()
		return len(open) == 0, a.breakers.Snapshot()
	})
	h.AddCheck("reconciliation", func() (bool, interface{}) {
		res, ok := a.reconciler.Last()
		if !ok {
			return true, "not run yet"
		}
		return res.Clean, res
	})
	return h
}

// Run starts every worker and blocks until ctx is cancelled or one fails
func (a *app) Run(ctx context.Context) error {
	cfg := a.cfg
	report.Status(os.Stdout, a.control.Snapshot())

	router := control.NewRouter(a.control, cfg.HTTP.JWTSecret, control.RouterOptions{
		Health:  a.health,
		Metrics: monitoring.Handler(),
		Logger:  a.log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.orchestrator.Run(gctx) })
	g.Go(func() error { return a.breakers.Run(gctx, cfg.BreakerTick) })
	g.Go(func() error { return a.killSwitch.Run(gctx, cfg.KillSwitch.EvalInterval) })
	g.Go(func() error { return a.reconciler.Schedule(gctx, cfg.Reconcile.Schedule, cfg.Reconcile.Timezone) })
	g.Go(func() error { return control.Serve(gctx, cfg.HTTP.Addr, router, a.log) })
	g.Go(func() error { return a.exportPortfolio(gctx) })
	if a.source != nil {
		g.Go(func() error { return a.source.Run(gctx) })
	}

	a.log.Info("risk core running: executor=%s mode=%s", cfg.Executor, a.modes.Mode())
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) exportPortfolio(ctx context.Context) error {
	ticker := time.NewTicker(portfolioRefresh)
	defer ticker.Stop()
	for {
		m := a.ledger.Metrics()
		monitoring.UpdatePortfolio(m.Equity, m.Drawdown)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}
}
