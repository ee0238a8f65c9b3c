package composer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/rickgao/efp-desk/internal/api"
	"github.com/rickgao/efp-desk/internal/model"
	"github.com/rickgao/efp-desk/internal/session"
)

const (
	DefaultPrefix          = "send"
	DefaultSuggestionLimit = 8

	errorPrefix     = "Error: "
	unknownError    = "unknown"
	unreadableReply = "unreadable response from backend"
)

// Dispatcher sends a command to the backend.
type Dispatcher interface {
	Chat(ctx context.Context, req api.CommandRequest) (api.CommandReply, error)
}

// Directory provides suggestions and name substitution.
type Directory interface {
	Suggest(partial string, limit int) []model.Destination
	Substitute(text string, pinned map[string]string) string
}

// Config holds composer settings.
type Config struct {
	// Prefix is the command word that enables destination autocomplete.
	Prefix string

	// SuggestionLimit caps the suggestion list.
	SuggestionLimit int
}

// DefaultConfig returns the standard composer settings.
func DefaultConfig() Config {
	return Config{
		Prefix:          DefaultPrefix,
		SuggestionLimit: DefaultSuggestionLimit,
	}
}

// Composer is the operator's command line and conversation log.
type Composer struct {
	cfg        Config
	dispatcher Dispatcher
	directory  Directory
	session    *session.Session
	logger     *slog.Logger

	mu          sync.Mutex
	input       string
	suggestions []model.Destination
	refs        map[string]string // accepted name -> id
	log         []model.ConversationTurn
	observers   []func(model.ConversationTurn)

	inflight atomic.Int32

	newID func() string
	now   func() time.Time
}

// New creates a composer. A nil session starts a fresh one.
func New(cfg Config, dispatcher Dispatcher, dir Directory, sess *session.Session, logger *slog.Logger) *Composer {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.SuggestionLimit <= 0 {
		cfg.SuggestionLimit = DefaultSuggestionLimit
	}
	if sess == nil {
		sess = session.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		cfg:        cfg,
		dispatcher: dispatcher,
		directory:  dir,
		session:    sess,
		logger:     logger.With("component", "composer"),
		refs:       make(map[string]string),
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Session returns the conversation session the composer dispatches with.
func (c *Composer) Session() *session.Session {
	return c.session
}

// OnTurn registers fn to be called, outside any lock, with every turn
// appended to the log.
func (c *Composer) OnTurn(fn func(model.ConversationTurn)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Input returns the current buffer.
func (c *Composer) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Suggestions returns the current suggestion list.
func (c *Composer) Suggestions() []model.Destination {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Destination(nil), c.suggestions...)
}

// Log returns a copy of the conversation so far.
func (c *Composer) Log() []model.ConversationTurn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ConversationTurn(nil), c.log...)
}

// Pending returns the number of dispatches awaiting a reply.
func (c *Composer) Pending() int {
	return int(c.inflight.Load())
}

// OnInputChanged replaces the buffer and recomputes suggestions. Suggestions
// are offered only when the buffer starts with the command prefix and the
// last token after it is non-empty.
func (c *Composer) OnInputChanged(text string) []model.Destination {
	partial, ok := c.partialName(text)

	var suggestions []model.Destination
	if ok && c.directory != nil {
		suggestions = c.directory.Suggest(partial, c.cfg.SuggestionLimit)
	}

	c.mu.Lock()
	c.input = text
	c.suggestions = suggestions
	c.mu.Unlock()

	return append([]model.Destination(nil), suggestions...)
}

// AcceptSuggestion puts dest's name into the buffer in place of the text
// being completed and pins that name to dest's id for dispatch. Returns the
// new buffer.
func (c *Composer) AcceptSuggestion(dest model.Destination) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.completionStart(c.input, dest.Name)
	c.input = c.input[:start] + dest.Name
	c.suggestions = nil
	if dest.Name != "" {
		c.refs[dest.Name] = dest.ID
	}
	return c.input
}

// Submit sets the buffer to text and dispatches it.
func (c *Composer) Submit(ctx context.Context, text string) (model.ConversationTurn, bool) {
	c.OnInputChanged(text)
	return c.Dispatch(ctx)
}

// Dispatch sends the buffer as a command. Empty or whitespace-only input is
// ignored and returns false. Otherwise the buffer is logged as an operator
// turn and cleared, the command is sent, and the resulting system turn is
// appended to the log and returned.
//
// Dispatch may be called again before an earlier call returns; replies are
// logged in arrival order and carry the correlation id of their command.
func (c *Composer) Dispatch(ctx context.Context) (model.ConversationTurn, bool) {
	c.mu.Lock()
	text := c.input
	if strings.TrimSpace(text) == "" {
		c.mu.Unlock()
		return model.ConversationTurn{}, false
	}

	correlationID := c.newID()
	operatorTurn := model.ConversationTurn{
		Role:          model.RoleOperator,
		Text:          text,
		CorrelationID: correlationID,
		At:            c.now(),
	}
	c.log = append(c.log, operatorTurn)
	refs := c.refs
	c.input = ""
	c.suggestions = nil
	c.refs = make(map[string]string)
	observers := c.observers
	c.mu.Unlock()

	notify(observers, operatorTurn)

	message := text
	if c.directory != nil {
		message = c.directory.Substitute(text, refs)
	}

	c.inflight.Add(1)
	reply := c.send(ctx, message, correlationID)
	c.inflight.Add(-1)

	c.mu.Lock()
	c.log = append(c.log, reply)
	observers = c.observers
	c.mu.Unlock()

	notify(observers, reply)
	return reply, true
}

func (c *Composer) send(ctx context.Context, message, correlationID string) model.ConversationTurn {
	sessionID, _ := c.session.ID()
	logger := c.logger.With("correlation_id", correlationID)

	turn := model.ConversationTurn{
		Role:          model.RoleSystem,
		CorrelationID: correlationID,
	}

	if c.dispatcher == nil {
		turn.Text = errorPrefix + "no backend configured"
		turn.Failed = true
		turn.At = c.now()
		return turn
	}

	start := time.Now()
	reply, err := c.dispatcher.Chat(ctx, api.CommandRequest{
		Message:       message,
		SessionID:     sessionID,
		CorrelationID: correlationID,
	})
	turn.At = c.now()

	if err != nil {
		logger.Warn("command failed", "err", err, "duration", time.Since(start))
		turn.Text = errorText(err)
		turn.Failed = true
		return turn
	}

	if c.session.AdoptIfAbsent(reply.SessionID) {
		logger.Info("session started", "session_id", reply.SessionID)
	}
	turn.Text = reply.DisplayText()
	logger.Debug("command replied", "duration", time.Since(start))
	return turn
}

// errorText describes a failed dispatch, preferring the backend's own
// detail message.
func errorText(err error) string {
	var apiErr *api.APIError
	switch {
	case errors.As(err, &apiErr):
		if detail := apiErr.Detail(); detail != "" {
			return errorPrefix + detail
		}
		if apiErr.Message != "" {
			return errorPrefix + apiErr.Message
		}
		return errorPrefix + apiErr.Error()
	case errors.Is(err, api.ErrMalformedReply):
		return errorPrefix + unreadableReply
	case err.Error() != "":
		return errorPrefix + err.Error()
	default:
		return errorPrefix + unknownError
	}
}

func notify(observers []func(model.ConversationTurn), turn model.ConversationTurn) {
	for _, fn := range observers {
		fn(turn)
	}
}

// partialName returns the last token of text when text starts with the
// command prefix as a whole word and a non-empty token follows it.
func (c *Composer) partialName(text string) (string, bool) {
	if text == "" || isSpace(text[len(text)-1]) {
		return "", false
	}
	fields := strings.Fields(text)
	if len(fields) < 2 || !strings.EqualFold(fields[0], c.cfg.Prefix) {
		return "", false
	}
	return fields[len(fields)-1], true
}

// completionStart returns where name should be inserted into input: the
// start of the longest whitespace-delimited suffix that name begins with,
// ignoring case, or else the start of the last token.
func (c *Composer) completionStart(input, name string) int {
	lowerName := strings.ToLower(name)

	// Candidate starts are the beginnings of tokens after the prefix word.
	floor := 0
	if trimmed := strings.TrimLeftFunc(input, unicode.IsSpace); len(trimmed) > 0 {
		lead := len(input) - len(trimmed)
		if end := strings.IndexFunc(trimmed, unicode.IsSpace); end > 0 &&
			strings.EqualFold(trimmed[:end], c.cfg.Prefix) {
			floor = lead + end
		}
	}

	lastToken := len(input)
	for i := len(input); i > floor; i-- {
		if isSpace(input[i-1]) {
			break
		}
		lastToken = i - 1
	}

	for i := floor; i < len(input); i++ {
		if i > 0 && !isSpace(input[i-1]) {
			continue
		}
		if isSpace(input[i]) {
			continue
		}
		if strings.HasPrefix(lowerName, strings.ToLower(input[i:])) {
			return i
		}
	}
	return lastToken
}

// isSpace reports whether b is ASCII whitespace. Bytes of multi-byte
// runes never match.
func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
