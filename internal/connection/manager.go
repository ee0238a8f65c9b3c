package connection

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Manager shares feeds between subscribers, one Feed per endpoint.
type Manager interface {
	// Acquire subscribes to endpoint, opening its feed if this is the first
	// subscriber. Endpoints starting with "/" are joined onto the base URL.
	Acquire(endpoint string, sub Subscriber) (*Handle, error)

	// Release unsubscribes a handle and closes the feed when no subscribers
	// remain. No callback for the handle runs after Release returns.
	Release(h *Handle) error

	// Status returns the status of every open feed, keyed by endpoint.
	Status() map[string]FeedStatus

	// Stats returns current connection and subscription statistics.
	Stats() ManagerStats

	// Close releases every handle and closes every feed.
	Close(ctx context.Context) error
}

// sharedFeed is one Feed plus its subscribers.
type sharedFeed struct {
	feed *Feed

	// mu is held while fanning out so Release can wait out in-flight callbacks.
	mu        sync.RWMutex
	subs      map[string]Subscriber
	lastState StateEvent
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	feeds  map[string]*sharedFeed
	closed bool

	newFeed func(FeedConfig, *slog.Logger) *Feed
}

// NewManager creates a new connection manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &manager{
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		feeds:   make(map[string]*sharedFeed),
		newFeed: NewFeed,
	}
}

// Acquire subscribes to an endpoint.
func (m *manager) Acquire(endpoint string, sub Subscriber) (*Handle, error) {
	url := m.resolve(endpoint)
	h := &Handle{id: uuid.NewString(), endpoint: url}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrAlreadyClosed
	}

	if sf, ok := m.feeds[url]; ok {
		sf.mu.Lock()
		sf.subs[h.id] = sub
		last := sf.lastState
		sf.mu.Unlock()
		m.mu.Unlock()

		// Bring the late subscriber up to date.
		if sub.OnState != nil && last.State != "" {
			sub.OnState(last)
		}

		m.logger.Debug("feed shared", "endpoint", url, "handle", h.id)
		return h, nil
	}

	sf := &sharedFeed{
		subs: map[string]Subscriber{h.id: sub},
	}
	sf.feed = m.newFeed(m.cfg.Feed, m.logger)
	sf.feed.OnState(sf.publishState)
	if err := sf.feed.Open(m.ctx, url, sf.publishMessage); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.feeds[url] = sf
	m.mu.Unlock()

	m.logger.Info("feed acquired", "endpoint", url, "handle", h.id)
	return h, nil
}

// Release unsubscribes a handle.
func (m *manager) Release(h *Handle) error {
	if h == nil {
		return ErrUnknownHandle
	}

	m.mu.Lock()
	sf, ok := m.feeds[h.endpoint]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownHandle
	}

	sf.mu.Lock()
	if _, ok := sf.subs[h.id]; !ok {
		sf.mu.Unlock()
		m.mu.Unlock()
		return ErrUnknownHandle
	}
	delete(sf.subs, h.id)
	remaining := len(sf.subs)
	sf.mu.Unlock()

	if remaining > 0 {
		m.mu.Unlock()
		m.logger.Debug("feed released", "endpoint", h.endpoint, "handle", h.id, "remaining", remaining)
		return nil
	}

	delete(m.feeds, h.endpoint)
	m.mu.Unlock()

	m.logger.Info("closing feed, last subscriber released", "endpoint", h.endpoint)
	return sf.feed.Close()
}

// Status returns the status of every open feed.
func (m *manager) Status() map[string]FeedStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]FeedStatus, len(m.feeds))
	for url, sf := range m.feeds {
		result[url] = sf.feed.Status()
	}
	return result
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := ManagerStats{Feeds: len(m.feeds)}
	for _, sf := range m.feeds {
		if sf.feed.Status().State == StateConnected {
			stats.Connected++
		}
		sf.mu.RLock()
		stats.Subscribers += len(sf.subs)
		sf.mu.RUnlock()
	}
	return stats
}

// Close closes every feed.
func (m *manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	feeds := m.feeds
	m.feeds = make(map[string]*sharedFeed)
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		for _, sf := range feeds {
			sf.feed.Close()
		}
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("connection manager stopped", "feeds", len(feeds))
		return nil
	case <-ctx.Done():
		m.logger.Warn("connection manager stop timed out")
		return ctx.Err()
	}
}

func (m *manager) resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "/") {
		return strings.TrimRight(m.cfg.BaseURL, "/") + endpoint
	}
	return endpoint
}

func (sf *sharedFeed) publishMessage(msg TimestampedMessage) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	for _, sub := range sf.subs {
		if sub.OnMessage != nil {
			sub.OnMessage(msg)
		}
	}
}

func (sf *sharedFeed) publishState(ev StateEvent) {
	sf.mu.Lock()
	sf.lastState = ev
	sf.mu.Unlock()

	sf.mu.RLock()
	defer sf.mu.RUnlock()
	for _, sub := range sf.subs {
		if sub.OnState != nil {
			sub.OnState(ev)
		}
	}
}
