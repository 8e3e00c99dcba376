package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"rsi-grid-bot/internal/alerts"
	"rsi-grid-bot/internal/binance/rest"
	"rsi-grid-bot/internal/binance/ws"
	"rsi-grid-bot/internal/config"
	"rsi-grid-bot/internal/exchange"
	"rsi-grid-bot/internal/exec"
	"rsi-grid-bot/internal/market"
	"rsi-grid-bot/internal/metrics"
	"rsi-grid-bot/internal/state"
	"rsi-grid-bot/internal/state/sqlite"
	"rsi-grid-bot/internal/strategy"
	"rsi-grid-bot/internal/timescale"
	"rsi-grid-bot/internal/tradelog"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TradeLog receives one record per executed trade.
type TradeLog interface {
	Append(rec tradelog.Record) error
}

// UpdateSource delivers operator chat messages.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]alerts.Update, error)
}

// Deps are the collaborators of the live loop. Market, Exchange and Store
// are required; everything else has a default.
type Deps struct {
	Market         market.Source
	Stream         *market.Stream
	Exchange       exchange.Client
	Store          state.Store
	TradeLog       TradeLog
	Alerter        alerts.Alerter
	Operator       UpdateSource
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	Timescale      *timescale.Writer
	Now            func() time.Time
	Sleep          func(ctx context.Context, d time.Duration) error
}

type App struct {
	cfg            *config.Config
	log            *zap.Logger
	store          state.Store
	market         market.Source
	stream         *market.Stream
	executor       *exec.Executor
	botState       *state.BotStateStore
	tradeLog       TradeLog
	alerts         alerts.Alerter
	updates        UpdateSource
	metrics        *metrics.Metrics
	metricsHandler http.Handler
	timescale      *timescale.Writer
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error

	opsMu          sync.RWMutex
	paused         bool
	operatorWarned bool
	failures       int
}

// New wires the production collaborators from cfg.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	deps, err := buildDeps(cfg, log)
	if err != nil {
		return nil, err
	}
	application, err := NewWithDeps(cfg, log, deps)
	if err != nil {
		_ = deps.Store.Close()
		return nil, err
	}
	return application, nil
}

func buildDeps(cfg *config.Config, log *zap.Logger) (Deps, error) {
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return Deps{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	seeded, err := state.SeedDefaults(ctx, store, cfg.State.DefaultsPath)
	if err != nil {
		_ = store.Close()
		return Deps{}, fmt.Errorf("seed state defaults: %w", err)
	}
	if seeded > 0 {
		log.Info("seeded state defaults", zap.Int("keys", seeded), zap.String("path", cfg.State.DefaultsPath))
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.REST.RequestsPerSec), cfg.REST.Burst)
	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, limiter, log)
	klines := market.NewBinanceKlines(restClient, log)
	deps := Deps{Market: klines, Store: store}
	if cfg.WS.Enabled {
		wsClient := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
		deps.Stream = market.NewStream(wsClient, klines, cfg.Bot.Asset, cfg.Bot.KlineInterval, 2*cfg.Bot.Lookback, log)
		deps.Market = deps.Stream
	}

	if cfg.Bot.DryRun {
		deps.Exchange = exchange.NewPaper(latestClose(deps.Market, cfg.Bot.KlineInterval), 1)
		log.Info("dry run: orders fill on the paper exchange")
	} else {
		apiKey := config.Secret("BINANCE_API_KEY")
		secretKey := config.Secret("BINANCE_SECRET_KEY")
		if apiKey == "" || secretKey == "" {
			_ = store.Close()
			return Deps{}, errors.New("BINANCE_API_KEY and BINANCE_SECRET_KEY are required unless bot.dry_run is set")
		}
		deps.Exchange = exchange.NewBinance(restClient.WithCredentials(apiKey, secretKey), log)
	}

	telegram := alerts.NewTelegram(cfg.Telegram, log)
	if telegram.Enabled() {
		deps.Alerter = telegram
		deps.Operator = telegram
	}
	if cfg.Metrics.EnabledValue() {
		prom := metrics.NewPrometheus()
		deps.Metrics = prom.Metrics
		deps.MetricsHandler = prom.Handler()
	}
	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		log.Warn("timescale disabled", zap.Error(err))
	} else {
		deps.Timescale = writer
	}
	return deps, nil
}

// NewWithDeps builds an App around injected collaborators.
func NewWithDeps(cfg *config.Config, log *zap.Logger, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Market == nil || deps.Exchange == nil || deps.Store == nil {
		return nil, errors.New("market, exchange and store are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	initial, ok := strategy.ParseState(cfg.Bot.InitialState)
	if !ok {
		initial = strategy.StateWaitingToBuy
	}
	if deps.TradeLog == nil {
		deps.TradeLog = tradelog.New(cfg.TradeLog.Dir)
	}
	if deps.Alerter == nil {
		deps.Alerter = alerts.NewLog(log)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	executor := exec.New(deps.Exchange, deps.Store, exec.Config{
		PollInterval: cfg.Bot.FillPollInterval,
		PollMax:      cfg.Bot.FillPollMax,
		PollAttempts: cfg.Bot.FillPollAttempts,
	}, log)
	botState := state.NewBotStateStore(deps.Store, cfg.Bot.Asset, initial.IsBuying())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := botState.Load(ctx); errors.Is(err, state.ErrAssetMismatch) {
		return nil, fmt.Errorf("bot.asset: %w", err)
	}
	return &App{
		cfg:            cfg,
		log:            log,
		store:          deps.Store,
		market:         deps.Market,
		stream:         deps.Stream,
		executor:       executor,
		botState:       botState,
		tradeLog:       deps.TradeLog,
		alerts:         deps.Alerter,
		updates:        deps.Operator,
		metrics:        deps.Metrics,
		metricsHandler: deps.MetricsHandler,
		timescale:      deps.Timescale,
		now:            deps.Now,
		sleep:          deps.Sleep,
	}, nil
}

// Run executes cycles until ctx is done. The first cycle starts
// immediately; later ones follow bot.poll_interval. Cycles never overlap.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()
	a.startMetricsServer(ctx)
	a.timescale.Start(ctx)
	if a.stream != nil {
		go func() {
			if err := a.stream.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn("kline stream stopped", zap.Error(err))
			}
		}()
	}
	a.startOperator(ctx)
	a.log.Info("live loop started",
		zap.String("asset", a.cfg.Bot.Asset),
		zap.Int("window", a.cfg.Bot.Window),
		zap.Float64("entry", a.cfg.Bot.Entry),
		zap.Float64("exit", a.cfg.Bot.Exit),
		zap.Duration("poll_interval", a.cfg.Bot.PollInterval),
		zap.Bool("dry_run", a.cfg.Bot.DryRun),
	)

	ticker := time.NewTicker(a.cfg.Bot.PollInterval)
	defer ticker.Stop()
	for {
		if a.isPaused() {
			a.log.Debug("cycle skipped: paused")
		} else {
			res := a.Cycle(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if cooldown := a.afterCycle(ctx, res); cooldown > 0 {
				if err := a.sleep(ctx, cooldown); err != nil {
					return err
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// afterCycle tracks consecutive failures and returns the cooldown to wait
// before the next cycle.
func (a *App) afterCycle(ctx context.Context, res CycleResult) time.Duration {
	if res.Err == nil {
		if a.failures > 0 {
			a.log.Info("cycle recovered", zap.Int("failures", a.failures))
		}
		a.failures = 0
		return 0
	}
	a.failures++
	a.metrics.CycleFailures.WithLabel(string(res.Kind)).Inc()
	a.log.Warn("cycle failed",
		zap.String("kind", string(res.Kind)),
		zap.Int("consecutive_failures", a.failures),
		zap.String("action", string(res.Decision.Action)),
		zap.Error(res.Err),
	)
	if a.failures == a.cfg.Bot.AlertAfterFailure {
		a.notify(ctx, fmt.Sprintf("%s: %d consecutive failed cycles, last (%s): %v", a.cfg.Bot.Asset, a.failures, res.Kind, res.Err))
	}
	if res.Kind == KindUnfilled {
		return a.cfg.Bot.UnfilledCooldown
	}
	return a.cfg.Bot.ErrorCooldown
}

func (a *App) startMetricsServer(ctx context.Context) {
	if a.metricsHandler == nil || a.cfg.Metrics.Address == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.metricsHandler)
	srv := &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("metrics listening", zap.String("address", a.cfg.Metrics.Address), zap.String("path", a.cfg.Metrics.Path))
}

func (a *App) Close() {
	if err := a.timescale.Close(); err != nil {
		a.log.Warn("timescale close failed", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("state store close failed", zap.Error(err))
	}
}

func (a *App) notify(ctx context.Context, message string) {
	if err := a.alerts.Send(ctx, message); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
		return
	}
	a.metrics.AlertsSent.Inc()
}

func latestClose(src market.Source, interval time.Duration) exchange.PriceFunc {
	return func(ctx context.Context, asset string) (float64, error) {
		series, err := src.RecentPrices(ctx, asset, 1, interval)
		if err != nil {
			return 0, err
		}
		if len(series) == 0 {
			return 0, fmt.Errorf("no price for %s", asset)
		}
		return series[len(series)-1].Close, nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
