package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// MessageHandler receives each well-formed frame of a feed.
type MessageHandler func(TimestampedMessage)

// StateHandler receives feed state transitions.
type StateHandler func(StateEvent)

// Feed is one persistent push connection with automatic redial.
type Feed struct {
	cfg    FeedConfig
	logger *slog.Logger

	// newClient is swapped in tests.
	newClient func(ClientConfig, *slog.Logger) Client

	mu       sync.Mutex
	endpoint string
	onState  StateHandler
	status   FeedStatus
	opened   bool
	closed   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFeed creates a Feed. It does nothing until Open.
func NewFeed(cfg FeedConfig, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultFeedConfig().ReconnectDelay
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectDelay {
		cfg.ReconnectMaxDelay = cfg.ReconnectDelay
	}
	return &Feed{
		cfg:       cfg,
		logger:    logger,
		newClient: NewClient,
		status:    FeedStatus{State: StateIdle},
	}
}

// OnState registers a handler for state transitions. It must be called
// before Open.
func (f *Feed) OnState(fn StateHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

// Open starts delivering frames from endpoint to onMessage and returns
// immediately. The connection is dialed, and redialed after every close or
// error, on a background goroutine until Close or ctx is done. onMessage
// runs on that goroutine, one frame at a time.
func (f *Feed) Open(ctx context.Context, endpoint string, onMessage MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrAlreadyClosed
	}
	if f.opened {
		return ErrAlreadyOpen
	}
	f.opened = true
	f.endpoint = endpoint
	f.status.Endpoint = endpoint

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	f.logger = f.logger.With("feed", endpoint)

	go f.run(runCtx, onMessage)
	return nil
}

// Close stops the feed and waits for its goroutine to exit. No handler is
// invoked after Close returns. Close must not be called from a handler.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	cancel, done := f.cancel, f.done
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Status returns the feed's current status.
func (f *Feed) Status() FeedStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// run is the connect/pump/redial loop.
func (f *Feed) run(ctx context.Context, onMessage MessageHandler) {
	defer close(f.done)
	defer f.transition(StateClosed, nil, 0)

	delay := f.cfg.ReconnectDelay

	for {
		f.transition(StateConnecting, nil, 0)

		clientCfg := f.cfg.Client
		clientCfg.URL = f.endpoint
		c := f.newClient(clientCfg, f.logger)

		err := c.Connect(ctx)
		if err == nil {
			delay = f.cfg.ReconnectDelay
			f.markConnected()
			f.logger.Info("feed connected")

			err = f.pump(ctx, c, onMessage)
			c.Close()
			if ctx.Err() != nil {
				return
			}
			f.logger.Info("feed disconnected", "error", err)
		} else {
			c.Close()
			if ctx.Err() != nil {
				return
			}
			f.logger.Info("feed connect failed", "error", err, "retry_in", delay)
		}

		f.transition(StateReconnecting, err, delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = nextDelay(delay, f.cfg.ReconnectMaxDelay)
	}
}

// pump delivers frames until the connection ends or ctx is done.
func (f *Feed) pump(ctx context.Context, c Client, onMessage MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.Messages():
			f.deliver(msg, onMessage)
		case err := <-c.Errors():
			// Frames read before the error are still delivered.
			for {
				select {
				case msg := <-c.Messages():
					f.deliver(msg, onMessage)
				default:
					if err == nil {
						err = errors.New("connection closed")
					}
					return err
				}
			}
		}
	}
}

func (f *Feed) deliver(msg TimestampedMessage, onMessage MessageHandler) {
	if !json.Valid(msg.Data) {
		f.mu.Lock()
		f.status.Dropped++
		f.mu.Unlock()
		f.logger.Debug("dropping malformed frame", "bytes", len(msg.Data))
		return
	}

	f.mu.Lock()
	f.status.Messages++
	f.mu.Unlock()

	if onMessage != nil {
		onMessage(msg)
	}
}

func (f *Feed) markConnected() {
	f.mu.Lock()
	f.status.Failures = 0
	f.status.LastError = ""
	f.status.ConnectedSince = time.Now()
	f.status.Connects++
	f.mu.Unlock()
	f.transition(StateConnected, nil, 0)
}

// transition records a state change and notifies the state handler.
func (f *Feed) transition(state State, cause error, retryIn time.Duration) {
	f.mu.Lock()
	if state == StateReconnecting {
		f.status.Failures++
		if cause != nil {
			f.status.LastError = cause.Error()
		}
	}
	if state != StateConnected {
		f.status.ConnectedSince = time.Time{}
	}
	f.status.State = state
	ev := StateEvent{
		Endpoint: f.endpoint,
		State:    state,
		Failures: f.status.Failures,
		Err:      cause,
		RetryIn:  retryIn,
		At:       time.Now(),
	}
	onState := f.onState
	f.mu.Unlock()

	if onState != nil {
		onState(ev)
	}
}

// nextDelay doubles d up to max.
func nextDelay(d, max time.Duration) time.Duration {
	next := d * 2
	if next > max || next <= 0 {
		return max
	}
	return next
}
