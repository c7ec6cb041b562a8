package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"hl-grid-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// OrderSubmitted is written for every order request right before it is sent.
type OrderSubmitted struct {
	Time       time.Time
	Cloid      string
	Symbol     string
	Side       string
	Kind       string
	Price      float64
	Size       float64
	ReduceOnly bool
}

// FillObserved is written for every fill applied to a tracked order.
type FillObserved struct {
	Time    time.Time
	Cloid   string
	OrderID int64
	Symbol  string
	Side    string
	Price   float64
	Size    float64
	Fee     float64
	Final   bool
}

// Writer appends audit records to Postgres from a background goroutine. The
// enqueue methods never block; records are dropped when the queue is full.
type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	orders    chan OrderSubmitted
	fills     chan FillObserved
	started   atomic.Bool
	stop      context.CancelFunc
	done      chan struct{}
	dropOrder atomic.Uint64
	dropFill  atomic.Uint64
}

// New returns a nil writer when auditing is disabled. A nil *Writer accepts
// and discards every record.
func New(cfg config.AuditConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("audit dsn is required")
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
	w := newWriter(db, cfg.Schema, cfg.QueueSize, log)
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		db:     db,
		log:    log,
		schema: schema,
		orders: make(chan OrderSubmitted, queueSize),
		fills:  make(chan FillObserved, queueSize),
		done:   make(chan struct{}),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	ctx, w.stop = context.WithCancel(ctx)
	go w.run(ctx)
}

// Close stops the background goroutine, waits for any in-flight insert and
// then closes the database.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	if w.started.Load() {
		w.stop()
		<-w.done
	}
	if w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) RecordSubmitted(rec OrderSubmitted) {
	if w == nil {
		return
	}
	select {
	case w.orders <- rec:
	default:
		if w.dropOrder.Add(1) == 1 {
			w.log.Warn("audit order queue full")
		}
	}
}

func (w *Writer) RecordFill(rec FillObserved) {
	if w == nil {
		return
	}
	select {
	case w.fills <- rec:
	default:
		if w.dropFill.Add(1) == 1 {
			w.log.Warn("audit fill queue full")
		}
	}
}

// Dropped reports how many records of each kind were discarded.
func (w *Writer) Dropped() (orders, fills uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropOrder.Load(), w.dropFill.Load()
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-w.orders:
			w.writeOrder(ctx, rec)
		case rec := <-w.fills:
			w.writeFill(ctx, rec)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("audit db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		cloid TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		kind TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		reduce_only BOOLEAN NOT NULL
	)`, w.table("order_requests"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		cloid TEXT NOT NULL,
		oid BIGINT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		fee DOUBLE PRECISION NOT NULL,
		final BOOLEAN NOT NULL
	)`, w.table("order_fills"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"order_requests", "order_fills"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("audit hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeOrder(ctx context.Context, rec OrderSubmitted) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, cloid, symbol, side, kind, price, size, reduce_only)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, w.table("order_requests"))
	if _, err := w.db.ExecContext(ctx, query,
		rec.Time, rec.Cloid, rec.Symbol, rec.Side, rec.Kind, rec.Price, rec.Size, rec.ReduceOnly,
	); err != nil {
		w.log.Warn("audit order insert failed", zap.String("cloid", rec.Cloid), zap.Error(err))
	}
}

func (w *Writer) writeFill(ctx context.Context, rec FillObserved) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, cloid, oid, symbol, side, price, size, fee, final)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, w.table("order_fills"))
	if _, err := w.db.ExecContext(ctx, query,
		rec.Time, rec.Cloid, rec.OrderID, rec.Symbol, rec.Side, rec.Price, rec.Size, rec.Fee, rec.Final,
	); err != nil {
		w.log.Warn("audit fill insert failed", zap.String("cloid", rec.Cloid), zap.Error(err))
	}
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
