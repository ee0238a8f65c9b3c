package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/efp-desk/internal/model"
	"github.com/rickgao/efp-desk/internal/runstate"
)

// Source fetches snapshots from the backend.
type Source interface {
	GetRunSnapshot(ctx context.Context) (model.RunSnapshot, error)
	GetBlotter(ctx context.Context) ([]model.BlotterTrade, error)
}

// Handler receives fetched snapshots along with the revision mark taken
// before the fetch started.
type Handler interface {
	HandleRunSnapshot(snap model.RunSnapshot, mark runstate.Mark)
	HandleBlotter(trades []model.BlotterTrade, mark runstate.Mark)
}

// MarkFunc returns the store's current revision mark.
type MarkFunc func() runstate.Mark

// Config holds loader configuration.
type Config struct {
	Interval time.Duration // Refresh interval; 0 disables refresh
	Timeout  time.Duration // Per-request timeout (default: 10s)
	Blotter  bool          // Also fetch the blotter
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Blotter: true,
	}
}

// Stats contains loader counters.
type Stats struct {
	Loads       int64
	Failures    int64
	LastSuccess time.Time
}

// Loader fetches REST snapshots on demand and on a schedule.
type Loader struct {
	cfg     Config
	source  Source
	mark    MarkFunc
	handler Handler
	logger  *slog.Logger

	loads       atomic.Int64
	failures    atomic.Int64
	lastSuccess atomic.Int64 // unix nanos

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a loader. mark may be nil, in which case every snapshot is
// offered with a zero mark.
func New(cfg Config, source Source, mark MarkFunc, handler Handler, logger *slog.Logger) *Loader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if mark == nil {
		mark = func() runstate.Mark { return runstate.Mark{} }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		cfg:     cfg,
		source:  source,
		mark:    mark,
		handler: handler,
		logger:  logger.With("component", "snapshot"),
	}
}

// Load fetches every configured snapshot once, concurrently, and hands
// each successful result to the handler. The fetches are independent: a
// failure leaves only its own collection untouched. Failures are joined
// and returned.
func (l *Loader) Load(ctx context.Context) error {
	start := time.Now()
	l.loads.Add(1)

	var g errgroup.Group
	var runErr, blotterErr error
	g.Go(func() error {
		runErr = l.loadRun(ctx)
		return nil
	})
	if l.cfg.Blotter {
		g.Go(func() error {
			blotterErr = l.loadBlotter(ctx)
			return nil
		})
	}
	g.Wait()

	if err := errors.Join(runErr, blotterErr); err != nil {
		l.failures.Add(1)
		l.logger.Warn("snapshot load failed", "err", err, "duration", time.Since(start))
		return err
	}

	l.lastSuccess.Store(time.Now().UnixNano())
	l.logger.Debug("snapshot load complete", "duration", time.Since(start))
	return nil
}

// Start begins periodic refresh if an interval is configured. It does not
// load immediately; call Load for the bootstrap.
func (l *Loader) Start(ctx context.Context) error {
	if l.cfg.Interval <= 0 {
		return nil
	}
	l.ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go l.run()

	l.logger.Info("snapshot refresh started", "interval", l.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the refresh loop.
func (l *Loader) Stop(ctx context.Context) error {
	if l.cancel != nil {
		l.cancel()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns loader counters.
func (l *Loader) Stats() Stats {
	s := Stats{
		Loads:    l.loads.Load(),
		Failures: l.failures.Load(),
	}
	if ns := l.lastSuccess.Load(); ns != 0 {
		s.LastSuccess = time.Unix(0, ns)
	}
	return s
}

func (l *Loader) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.Load(l.ctx)
		}
	}
}

func (l *Loader) loadRun(ctx context.Context) error {
	mark := l.mark()

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	snap, err := l.source.GetRunSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("fetch run snapshot: %w", err)
	}
	if l.handler != nil {
		l.handler.HandleRunSnapshot(snap, mark)
	}
	return nil
}

func (l *Loader) loadBlotter(ctx context.Context) error {
	mark := l.mark()

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	trades, err := l.source.GetBlotter(ctx)
	if err != nil {
		return fmt.Errorf("fetch blotter: %w", err)
	}
	if l.handler != nil {
		l.handler.HandleBlotter(trades, mark)
	}
	return nil
}
