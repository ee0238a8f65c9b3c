package desk

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/efp-desk/internal/api"
	"github.com/rickgao/efp-desk/internal/composer"
	"github.com/rickgao/efp-desk/internal/config"
	"github.com/rickgao/efp-desk/internal/connection"
	"github.com/rickgao/efp-desk/internal/directory"
	"github.com/rickgao/efp-desk/internal/eventloop"
	"github.com/rickgao/efp-desk/internal/model"
	"github.com/rickgao/efp-desk/internal/runstate"
	"github.com/rickgao/efp-desk/internal/session"
	"github.com/rickgao/efp-desk/internal/snapshot"
)

// Errors
var (
	ErrAlreadyOpen = errors.New("desk already open")
	ErrClosed      = errors.New("desk closed")
)

// Journal records conversation turns and recaps.
type Journal interface {
	RecordTurn(turn model.ConversationTurn, sessionID string) bool
	RecordRecaps(recaps []model.Recap) int
}

// Option configures a Desk.
type Option func(*Desk)

// WithManager shares an existing connection manager instead of creating
// one. The desk releases its subscriptions on Close but does not close a
// shared manager.
func WithManager(m connection.Manager) Option {
	return func(d *Desk) {
		d.manager = m
		d.ownsManager = false
	}
}

// WithJournal records every conversation turn and recap push.
func WithJournal(j Journal) Option {
	return func(d *Desk) {
		d.journal = j
	}
}

// WithClient replaces the REST client built from configuration.
func WithClient(c *api.Client) Option {
	return func(d *Desk) {
		d.client = c
	}
}

// FeedState is the status of one of the desk's feeds.
type FeedState struct {
	Kind runstate.Kind `json:"kind"`
	connection.FeedStatus
}

// Stats aggregates component counters.
type Stats struct {
	Loop     eventloop.Stats
	Store    runstate.Stats
	Snapshot snapshot.Stats
	Feeds    connection.ManagerStats
}

// feed binds a store collection to its endpoint.
type feed struct {
	kind  runstate.Kind
	path  string
	apply func([]byte) error
}

// Desk is one connected dashboard view.
type Desk struct {
	cfg    config.DeskConfig
	logger *slog.Logger

	client      *api.Client
	manager     connection.Manager
	ownsManager bool
	journal     Journal

	loop      *eventloop.Loop
	store     *runstate.Store
	loader    *snapshot.Loader
	directory *directory.Directory
	session   *session.Session
	composer  *composer.Composer

	mu      sync.Mutex
	opened  bool
	closed  bool
	handles map[runstate.Kind]*connection.Handle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a desk from configuration. Nothing connects until Open.
func New(cfg config.DeskConfig, logger *slog.Logger, opts ...Option) *Desk {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Desk{
		cfg:         cfg,
		logger:      logger,
		ownsManager: true,
		handles:     make(map[runstate.Kind]*connection.Handle),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.client == nil {
		d.client = api.NewClient(cfg.API.RestURL,
			api.WithTimeout(cfg.API.Timeout),
			api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
			api.WithLogger(logger.With("component", "api")),
		)
	}
	if d.manager == nil {
		d.manager = connection.NewManager(managerConfig(cfg), logger)
	}

	d.loop = eventloop.New(logger)
	var storeOpts []runstate.Option
	if !recapFeedEnabled(cfg) {
		// Without a recap feed the run feed's bundled recaps are the only source.
		storeOpts = append(storeOpts, runstate.WithBundledRecaps())
	}
	d.store = runstate.NewStore(logger, storeOpts...)
	d.session = session.New()
	d.directory = directory.New(d.client, cfg.Directory.Contacts, logger)
	d.composer = composer.New(composer.Config{
		Prefix:          cfg.Composer.CommandPrefix,
		SuggestionLimit: cfg.Composer.SuggestionLimit,
	}, d.client, d.directory, d.session, logger)
	d.loader = snapshot.New(snapshot.Config{
		Interval: cfg.Snapshot.RefreshInterval,
		Timeout:  cfg.Snapshot.Timeout,
		Blotter:  d.blotterEnabled(),
	}, d.client, d.store.Revision, bootstrapHandler{d}, logger)

	if d.journal != nil {
		d.composer.OnTurn(func(turn model.ConversationTurn) {
			id, _ := d.session.ID()
			d.journal.RecordTurn(turn, id)
		})
	}

	return d
}

func managerConfig(cfg config.DeskConfig) connection.ManagerConfig {
	client := connection.DefaultClientConfig()
	if cfg.Feeds.PingTimeout > 0 {
		client.PingTimeout = cfg.Feeds.PingTimeout
		if client.PingInterval >= client.PingTimeout {
			client.PingInterval = client.PingTimeout / 2
		}
	}
	if cfg.Feeds.WriteTimeout > 0 {
		client.WriteTimeout = cfg.Feeds.WriteTimeout
	}
	if cfg.Feeds.BufferSize > 0 {
		client.BufferSize = cfg.Feeds.BufferSize
	}
	return connection.ManagerConfig{
		BaseURL: cfg.API.WSURL,
		Feed: connection.FeedConfig{
			ReconnectDelay:    cfg.Feeds.ReconnectDelay,
			ReconnectMaxDelay: cfg.Feeds.ReconnectMaxDelay,
			Client:            client,
		},
	}
}

func recapFeedEnabled(cfg config.DeskConfig) bool {
	return !cfg.Feeds.DisableRecaps && cfg.Feeds.RecapPath != ""
}

func (d *Desk) blotterEnabled() bool {
	return !d.cfg.Feeds.DisableBlotter && d.cfg.Feeds.BlotterPath != ""
}

func (d *Desk) feeds() []feed {
	feeds := []feed{
		{kind: runstate.KindRun, path: d.cfg.Feeds.RunPath, apply: d.store.ApplyRunUpdate},
	}
	if recapFeedEnabled(d.cfg) {
		feeds = append(feeds, feed{kind: runstate.KindRecaps, path: d.cfg.Feeds.RecapPath, apply: d.store.ApplyRecapUpdate})
	}
	if d.blotterEnabled() {
		feeds = append(feeds, feed{kind: runstate.KindBlotter, path: d.cfg.Feeds.BlotterPath, apply: d.store.ApplyBlotterUpdate})
	}
	return feeds
}

// Open subscribes to the live feeds, then bootstraps the store and loads
// the directory concurrently. Fetch failures are logged and leave the
// affected state empty; the feeds keep running regardless. Open returns an
// error only if a feed cannot be subscribed or ctx ends first.
func (d *Desk) Open(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.opened {
		d.mu.Unlock()
		return ErrAlreadyOpen
	}
	d.opened = true
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.mu.Unlock()

	d.loop.Start()

	for _, f := range d.feeds() {
		h, err := d.manager.Acquire(f.path, d.subscriber(f))
		if err != nil {
			d.releaseAll()
			return err
		}
		d.mu.Lock()
		if d.closed {
			// Close ran while this Acquire was in flight.
			d.mu.Unlock()
			if err := d.manager.Release(h); err != nil {
				d.logger.Warn("release feed failed", "feed", f.kind, "err", err)
			}
			return ErrClosed
		}
		d.handles[f.kind] = h
		d.mu.Unlock()
	}

	if d.journal != nil {
		d.startRecapJournal()
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := d.loader.Load(ctx); err != nil {
			d.logger.Info("bootstrap incomplete, waiting for live updates")
		}
		return nil
	})
	g.Go(func() error {
		// Failures fall back to the static contacts and are logged there.
		_ = d.directory.Load(ctx)
		return nil
	})
	g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if d.isClosed() {
		return ErrClosed
	}

	if err := d.loader.Start(d.ctx); err != nil {
		return err
	}

	d.logger.Info("desk opened",
		"rest_url", d.client.BaseURL(),
		"ws_url", d.cfg.API.WSURL,
		"feeds", len(d.feeds()),
		"destinations", d.directory.Len(),
	)
	return nil
}

// subscriber routes a feed's messages and reconnects through the loop.
func (d *Desk) subscriber(f feed) connection.Subscriber {
	logger := d.logger.With("feed", f.kind)
	return connection.Subscriber{
		OnMessage: func(msg connection.TimestampedMessage) {
			d.loop.Post(func() {
				if err := f.apply(msg.Data); err != nil {
					logger.Debug("update rejected", "err", err)
				}
			})
		},
		OnState: func(ev connection.StateEvent) {
			switch ev.State {
			case connection.StateConnected:
				// A new connection may restart the server's numbering.
				d.loop.Post(func() {
					d.store.ResetSequence(f.kind)
				})
			case connection.StateReconnecting:
				logger.Info("feed disconnected", "failures", ev.Failures, "retry_in", ev.RetryIn, "err", ev.Err)
			}
		},
	}
}

// bootstrapHandler applies REST snapshots through the loop.
type bootstrapHandler struct {
	d *Desk
}

func (h bootstrapHandler) HandleRunSnapshot(snap model.RunSnapshot, mark runstate.Mark) {
	h.d.loop.Post(func() {
		if !h.d.store.ApplyBootstrap(snap, mark) {
			h.d.logger.Debug("run snapshot superseded by live update")
		}
	})
}

func (h bootstrapHandler) HandleBlotter(trades []model.BlotterTrade, mark runstate.Mark) {
	h.d.loop.Post(func() {
		h.d.store.ApplyBlotterBootstrap(trades, mark)
	})
}

func (d *Desk) startRecapJournal() {
	changes := d.store.Subscribe()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.store.Unsubscribe(changes)
		for {
			select {
			case <-d.ctx.Done():
				return
			case c := <-changes:
				for _, k := range c.Kinds {
					if k == runstate.KindRecaps {
						d.journal.RecordRecaps(d.store.Current().Recaps)
						break
					}
				}
			}
		}
	}()
}

// Close releases the feeds, stops refresh and the event loop. Updates that
// arrive afterwards are dropped. Close is safe to call more than once.
func (d *Desk) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	cancel := d.cancel
	d.mu.Unlock()

	d.releaseAll()

	var errs []error
	if d.ownsManager {
		if err := d.manager.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.loader.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	if err := d.loop.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	d.logger.Info("desk closed")
	return errors.Join(errs...)
}

func (d *Desk) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Desk) releaseAll() {
	d.mu.Lock()
	handles := d.handles
	d.handles = make(map[runstate.Kind]*connection.Handle)
	d.mu.Unlock()

	for kind, h := range handles {
		if err := d.manager.Release(h); err != nil {
			d.logger.Warn("release feed failed", "feed", kind, "err", err)
		}
	}
}

// View returns the latest state.
func (d *Desk) View() *runstate.View {
	return d.store.Current()
}

// Changes returns a channel announcing accepted state changes and a func
// that unsubscribes and closes it.
func (d *Desk) Changes() (<-chan runstate.Change, func()) {
	ch := d.store.Subscribe()
	return ch, func() { d.store.Unsubscribe(ch) }
}

// Composer returns the command composer.
func (d *Desk) Composer() *composer.Composer {
	return d.composer
}

// Directory returns the destination directory.
func (d *Desk) Directory() *directory.Directory {
	return d.directory
}

// FeedStates returns the status of each subscribed feed.
func (d *Desk) FeedStates() []FeedState {
	d.mu.Lock()
	handles := make(map[string]runstate.Kind, len(d.handles))
	for kind, h := range d.handles {
		handles[h.Endpoint()] = kind
	}
	d.mu.Unlock()

	var out []FeedState
	for endpoint, st := range d.manager.Status() {
		if kind, ok := handles[endpoint]; ok {
			out = append(out, FeedState{Kind: kind, FeedStatus: st})
		}
	}
	sortFeedStates(out)
	return out
}

// Orders fetches the persisted order list.
func (d *Desk) Orders(ctx context.Context) ([]model.Order, error) {
	return d.client.GetOrders(ctx)
}

// Refresh re-fetches the REST snapshots immediately.
func (d *Desk) Refresh(ctx context.Context) error {
	return d.loader.Load(ctx)
}

// Stats returns component counters.
func (d *Desk) Stats() Stats {
	return Stats{
		Loop:     d.loop.Stats(),
		Store:    d.store.Stats(),
		Snapshot: d.loader.Stats(),
		Feeds:    d.manager.Stats(),
	}
}

func sortFeedStates(states []FeedState) {
	order := map[runstate.Kind]int{runstate.KindRun: 0, runstate.KindRecaps: 1, runstate.KindBlotter: 2}
	for i := 1; i < len(states); i++ {
		for j := i; j > 0 && order[states[j].Kind] < order[states[j-1].Kind]; j-- {
			states[j], states[j-1] = states[j-1], states[j]
		}
	}
}
