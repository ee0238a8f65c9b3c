package journal

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/efp-desk/internal/eventloop"
	"github.com/rickgao/efp-desk/internal/model"
)

const (
	insertTurnSQL = `
		INSERT INTO conversation_turns (correlation_id, session_id, role, text, at)
		VALUES ($1, $2, $3, $4, $5)`

	insertRecapSQL = `
		INSERT INTO recaps (recap_key, index_name, price, lots, cash_ref, recap_text, created_at, seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (recap_key) DO NOTHING`

	finalFlushTimeout = 5 * time.Second
)

// BatchSender sends a queued batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds writer configuration.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1024,
	}
}

// Metrics contains writer counters.
type Metrics struct {
	Turns     int64
	Recaps    int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64
}

// row is one pending insert.
type row struct {
	sql  string
	args []any
	turn bool
}

// Writer journals turns and recaps in batches.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	db     BatchSender

	input *eventloop.Queue[row]

	batch       []row
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	consumed chan struct{}

	metrics Metrics
	now     func() time.Time
}

// NewWriter creates a journal writer.
func NewWriter(cfg Config, db BatchSender, logger *slog.Logger) *Writer {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "journal"),
		input:  eventloop.NewQueue[row](cfg.BufferSize),
		batch:  make([]row, 0, cfg.BatchSize),
		now:    time.Now,
	}
}

// Start begins consuming entries and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)
	w.consumed = make(chan struct{})

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued entries, flushes them and shuts down.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	// Closing the queue lets the consumer drain what is left and exit.
	w.input.Close()

	if w.consumed != nil {
		select {
		case <-w.consumed:
		case <-ctx.Done():
			w.logger.Warn("journal writer stop timed out")
		}
	}

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}
	w.wg.Wait()

	// Final flush with its own deadline; the run context is gone.
	flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	w.flush(flushCtx)

	w.logger.Info("journal writer stopped")
	return nil
}

// RecordTurn queues a conversation turn. It never blocks; it returns
// false once the writer is stopping.
func (w *Writer) RecordTurn(turn model.ConversationTurn, sessionID string) bool {
	at := turn.At
	if at.IsZero() {
		at = w.now()
	}
	return w.enqueue(row{
		sql:  insertTurnSQL,
		args: []any{turn.CorrelationID, sessionID, string(turn.Role), turn.Text, at},
		turn: true,
	})
}

// RecordRecaps queues every recap in a pushed recap log. Recaps already
// journaled are skipped by the database. A recap is identified by its
// content, so one without created_at is still written only once.
func (w *Writer) RecordRecaps(recaps []model.Recap) int {
	seenAt := w.now()
	queued := 0
	for _, r := range recaps {
		var createdAt any
		if !r.CreatedAt.IsZero() {
			createdAt = r.CreatedAt.Time
		}
		if w.enqueue(row{
			sql:  insertRecapSQL,
			args: []any{recapKey(r), r.IndexName, r.Price, r.Lots, r.CashRef, r.RecapText, createdAt, seenAt},
		}) {
			queued++
		}
	}
	return queued
}

// recapKey identifies a recap across pushes.
func recapKey(r model.Recap) string {
	created := ""
	if !r.CreatedAt.IsZero() {
		created = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return r.IndexName + "|" + created + "|" + r.RecapText + "|" +
		strconv.Itoa(r.Lots) + "|" + strconv.FormatFloat(r.Price, 'g', -1, 64)
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *Writer) enqueue(r row) bool {
	if w.input.Push(r) {
		return true
	}
	w.batchMu.Lock()
	w.metrics.Dropped++
	w.batchMu.Unlock()
	return false
}

// consumeLoop moves queued entries into the batch until the queue closes.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()
	defer close(w.consumed)

	for {
		r, ok := w.input.Pop()
		if !ok {
			return
		}

		w.batchMu.Lock()
		w.batch = append(w.batch, r)
		shouldFlush := len(w.batch) >= w.cfg.BatchSize
		w.batchMu.Unlock()

		if shouldFlush {
			w.flush(w.ctx)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	turns, recaps, conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Turns += int64(turns)
	w.metrics.Recaps += int64(recaps)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert sends rows in one pgx.Batch.
func (w *Writer) batchInsert(ctx context.Context, rows []row) (turns, recaps, conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(r.sql, r.args...)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for _, r := range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, 0, 0, err
		}
		switch {
		case ct.RowsAffected() == 0:
			conflicts++
		case r.turn:
			turns++
		default:
			recaps++
		}
	}

	return turns, recaps, conflicts, nil
}
