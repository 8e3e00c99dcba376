package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"rsi-grid-bot/internal/backtest"
	"rsi-grid-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

var schemaPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Tick is one live cycle: the closing price it saw and the RSI it computed.
type Tick struct {
	Time     time.Time
	Asset    string
	Price    float64
	RSI      float64
	PrevRSI  float64
	Action   string
	IsBuying bool
}

type Trade struct {
	Time     time.Time
	Asset    string
	Side     string
	Price    float64
	Quantity float64
	OrderID  string
}

// Writer records live ticks and trades through bounded queues drained by
// one goroutine; a full queue drops. Sweep matrices are written
// synchronously.
type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	ticks      chan Tick
	trades     chan Trade
	started    atomic.Bool
	dropTicks  atomic.Uint64
	dropTrades atomic.Uint64
}

// New connects and ensures the schema. It returns nil, nil when disabled.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema, err := normalizeSchema(cfg.Schema)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		db:     db,
		log:    log,
		schema: schema,
		ticks:  make(chan Tick, queueSize),
		trades: make(chan Trade, queueSize),
	}
}

func normalizeSchema(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return "public", nil
	}
	if !schemaPattern.MatchString(schema) {
		return "", fmt.Errorf("invalid timescale schema %q", schema)
	}
	return schema, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueTick(tick Tick) {
	if w == nil {
		return
	}
	select {
	case w.ticks <- tick:
	default:
		if w.dropTicks.Add(1) == 1 {
			w.log.Warn("timescale tick queue full")
		}
	}
}

func (w *Writer) EnqueueTrade(trade Trade) {
	if w == nil {
		return
	}
	select {
	case w.trades <- trade:
	default:
		if w.dropTrades.Add(1) == 1 {
			w.log.Warn("timescale trade queue full")
		}
	}
}

// Dropped returns how many ticks and trades were discarded on full queues.
func (w *Writer) Dropped() (ticks, trades uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropTicks.Load(), w.dropTrades.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-w.ticks:
			w.writeTick(ctx, tick)
		case trade := <-w.trades:
			w.writeTrade(ctx, trade)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		asset TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		rsi DOUBLE PRECISION,
		prev_rsi DOUBLE PRECISION,
		action TEXT NOT NULL,
		is_buying BOOLEAN NOT NULL
	)`, w.table("rsi_ticks"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		asset TEXT NOT NULL,
		side TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		order_id TEXT NOT NULL
	)`, w.table("trades"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		run_id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		asset TEXT NOT NULL,
		metric TEXT NOT NULL,
		entry DOUBLE PRECISION NOT NULL,
		exit DOUBLE PRECISION NOT NULL,
		value DOUBLE PRECISION,
		PRIMARY KEY (run_id, metric, entry, exit)
	)`, w.table("sweep_cells"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"rsi_ticks", "trades"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeTick(ctx context.Context, tick Tick) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, asset, price, rsi, prev_rsi, action, is_buying)
	VALUES ($1,$2,$3,$4,$5,$6,$7)`, w.table("rsi_ticks"))
	if _, err := w.db.ExecContext(ctx, query,
		tick.Time,
		tick.Asset,
		tick.Price,
		nullable(tick.RSI),
		nullable(tick.PrevRSI),
		tick.Action,
		tick.IsBuying,
	); err != nil {
		w.log.Warn("timescale tick insert failed", zap.Error(err))
	}
}

func (w *Writer) writeTrade(ctx context.Context, trade Trade) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, asset, side, price, quantity, order_id)
	VALUES ($1,$2,$3,$4,$5,$6)`, w.table("trades"))
	if _, err := w.db.ExecContext(ctx, query,
		trade.Time,
		trade.Asset,
		trade.Side,
		trade.Price,
		trade.Quantity,
		trade.OrderID,
	); err != nil {
		w.log.Warn("timescale trade insert failed", zap.Error(err))
	}
}

// WriteMatrix stores every cell of a sweep matrix under runID in one
// transaction. NaN cells are stored as NULL.
func (w *Writer) WriteMatrix(ctx context.Context, runID, asset string, m *backtest.Matrix) error {
	if w == nil || w.db == nil {
		return errors.New("timescale writer not initialized")
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (run_id, ts, asset, metric, entry, exit, value)
	VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (run_id, metric, entry, exit) DO UPDATE SET value = EXCLUDED.value`, w.table("sweep_cells"))
	now := time.Now().UTC()
	for x, exit := range m.Exits {
		for e, entry := range m.Entries {
			if _, err := tx.ExecContext(ctx, query, runID, now, asset, string(m.Metric), entry, exit, nullable(m.At(e, x))); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("sweep cell entry=%g exit=%g: %w", entry, exit, err)
			}
		}
	}
	return tx.Commit()
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
