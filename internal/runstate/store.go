package runstate

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/efp-desk/internal/model"
)

// ErrStaleUpdate is returned when a sequenced push is not newer than the
// last one applied to the same collection.
var ErrStaleUpdate = errors.New("stale update")

// ChangeBufferSize is the capacity of each subscription channel.
const ChangeBufferSize = 16

// Kind names one of the collections held by the store.
type Kind string

const (
	KindRun     Kind = "run"
	KindRecaps  Kind = "recaps"
	KindBlotter Kind = "blotter"
)

// Source records where an accepted collection came from.
type Source string

const (
	SourceBootstrap Source = "bootstrap"
	SourceFeed      Source = "feed"
)

// View is an immutable point-in-time copy of every collection. Callers
// must not modify the slices.
type View struct {
	Rows    []model.RunRow
	Recaps  []model.Recap
	Blotter []model.BlotterTrade

	// Revision increases by one for every accepted change.
	Revision  uint64
	UpdatedAt time.Time
}

// Change describes one accepted update.
type Change struct {
	Kinds    []Kind
	Source   Source
	Revision uint64
}

// Mark captures per-collection revisions so a bootstrap fetched after the
// mark can tell whether the feed has moved on in the meantime.
type Mark struct {
	Run     uint64
	Recaps  uint64
	Blotter uint64
}

// Stats contains store counters.
type Stats struct {
	Applied   int64
	Malformed int64
	Stale     int64
	Skipped   int64 // bootstraps superseded by feed updates
}

// Option configures a Store.
type Option func(*Store)

// WithBundledRecaps accepts the recap log carried inside run pushes. Use it
// only when no recap feed is subscribed; otherwise the two feeds would
// overwrite each other. Bundled recaps go through the recap sequence guard.
func WithBundledRecaps() Option {
	return func(s *Store) {
		s.bundledRecaps = true
	}
}

// Store is the single owner of the run, recap and blotter collections.
// Reads are lock free; writers are serialized.
type Store struct {
	logger *slog.Logger
	view   atomic.Pointer[View]

	mu   sync.Mutex
	revs map[Kind]uint64
	seqs map[Kind]int64
	subs []chan Change

	bundledRecaps bool

	applied   atomic.Int64
	malformed atomic.Int64
	stale     atomic.Int64
	skipped   atomic.Int64

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		logger: logger.With("component", "runstate"),
		revs:   make(map[Kind]uint64),
		seqs:   make(map[Kind]int64),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.view.Store(&View{
		Rows:    []model.RunRow{},
		Recaps:  []model.Recap{},
		Blotter: []model.BlotterTrade{},
	})
	return s
}

// Current returns the latest view. It never returns nil.
func (s *Store) Current() *View {
	return s.view.Load()
}

// Revision returns the current per-collection revisions.
func (s *Store) Revision() Mark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Mark{
		Run:     s.revs[KindRun],
		Recaps:  s.revs[KindRecaps],
		Blotter: s.revs[KindBlotter],
	}
}

// ApplyBootstrap installs a fetched snapshot. Each collection in the
// snapshot is applied only if no update for it was accepted since mark was
// taken. Returns true if anything was applied.
func (s *Store) ApplyBootstrap(snap model.RunSnapshot, mark Mark) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.view.Load()
	var kinds []Kind

	if s.revs[KindRun] == mark.Run {
		next.Rows = nonNil(snap.Rows)
		kinds = append(kinds, KindRun)
	} else {
		s.skipped.Add(1)
		s.logger.Debug("bootstrap rows superseded by feed", "mark", mark.Run, "current", s.revs[KindRun])
	}

	if snap.HasRecaps {
		if s.revs[KindRecaps] == mark.Recaps {
			next.Recaps = nonNil(snap.Recaps)
			kinds = append(kinds, KindRecaps)
		} else {
			s.skipped.Add(1)
			s.logger.Debug("bootstrap recaps superseded by feed", "mark", mark.Recaps, "current", s.revs[KindRecaps])
		}
	}

	if len(kinds) == 0 {
		return false
	}
	s.commitLocked(&next, SourceBootstrap, kinds...)
	return true
}

// ApplyBlotterBootstrap installs a fetched blotter unless a blotter push
// was accepted since mark was taken.
func (s *Store) ApplyBlotterBootstrap(trades []model.BlotterTrade, mark Mark) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revs[KindBlotter] != mark.Blotter {
		s.skipped.Add(1)
		return false
	}
	next := *s.view.Load()
	next.Blotter = nonNil(trades)
	s.commitLocked(&next, SourceBootstrap, KindBlotter)
	return true
}

// ApplyRunUpdate replaces the run rows from a pushed document. A recap log
// bundled in the document is ignored unless the store was created
// WithBundledRecaps, in which case it replaces the recaps when its stamp
// passes the recap sequence guard.
func (s *Store) ApplyRunUpdate(data []byte) error {
	p, err := model.DecodeRunPayload(data)
	if err != nil {
		return s.rejectMalformed(KindRun, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSequenceLocked(KindRun, p.Seq); err != nil {
		return err
	}

	next := *s.view.Load()
	next.Rows = p.Snapshot.Rows
	kinds := []Kind{KindRun}
	if s.bundledRecaps && p.Snapshot.HasRecaps {
		if err := s.checkSequenceLocked(KindRecaps, p.Seq); err == nil {
			next.Recaps = p.Snapshot.Recaps
			kinds = append(kinds, KindRecaps)
		}
	}
	s.commitLocked(&next, SourceFeed, kinds...)
	return nil
}

// ApplyRecapUpdate replaces the recap log from a pushed document.
func (s *Store) ApplyRecapUpdate(data []byte) error {
	recaps, seq, err := model.DecodeRecapPayload(data)
	if err != nil {
		return s.rejectMalformed(KindRecaps, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSequenceLocked(KindRecaps, seq); err != nil {
		return err
	}

	next := *s.view.Load()
	next.Recaps = recaps
	s.commitLocked(&next, SourceFeed, KindRecaps)
	return nil
}

// ApplyBlotterUpdate replaces the blotter from a pushed document.
func (s *Store) ApplyBlotterUpdate(data []byte) error {
	trades, seq, err := model.DecodeBlotterPayload(data)
	if err != nil {
		return s.rejectMalformed(KindBlotter, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSequenceLocked(KindBlotter, seq); err != nil {
		return err
	}

	next := *s.view.Load()
	next.Blotter = trades
	s.commitLocked(&next, SourceFeed, KindBlotter)
	return nil
}

// ResetSequence forgets the last accepted stamp for kind. Called when the
// feed for that collection reconnects, since the server may restart its
// numbering.
func (s *Store) ResetSequence(kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seqs, kind)
}

// Subscribe returns a channel that receives a Change for every accepted
// update. When the channel is full the oldest change is dropped.
func (s *Store) Subscribe() <-chan Change {
	ch := make(chan Change, ChangeBufferSize)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe. Unknown
// channels are ignored.
func (s *Store) Unsubscribe(ch <-chan Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Stats returns store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Applied:   s.applied.Load(),
		Malformed: s.malformed.Load(),
		Stale:     s.stale.Load(),
		Skipped:   s.skipped.Load(),
	}
}

func (s *Store) rejectMalformed(kind Kind, err error) error {
	s.malformed.Add(1)
	s.logger.Debug("dropping malformed payload", "kind", kind, "err", err)
	return fmt.Errorf("apply %s update: %w", kind, err)
}

// checkSequenceLocked rejects a stamped push that is not newer than the
// last stamped push for kind, and records accepted stamps.
func (s *Store) checkSequenceLocked(kind Kind, seq model.Sequence) error {
	if !seq.Set {
		return nil
	}
	if last, ok := s.seqs[kind]; ok && seq.Value <= last {
		s.stale.Add(1)
		s.logger.Debug("dropping stale payload", "kind", kind, "seq", seq.Value, "last", last)
		return fmt.Errorf("apply %s update: seq %d <= %d: %w", kind, seq.Value, last, ErrStaleUpdate)
	}
	s.seqs[kind] = seq.Value
	return nil
}

// commitLocked publishes next as the current view. Must be called with mu held.
func (s *Store) commitLocked(next *View, source Source, kinds ...Kind) {
	for _, k := range kinds {
		s.revs[k]++
	}
	next.Revision = s.view.Load().Revision + 1
	next.UpdatedAt = s.now()
	s.view.Store(next)
	s.applied.Add(1)

	change := Change{Kinds: kinds, Source: source, Revision: next.Revision}
	for _, ch := range s.subs {
		notifyChange(ch, change)
	}
}

// notifyChange sends without blocking, dropping the oldest pending change
// when the channel is full.
func notifyChange(ch chan Change, change Change) {
	select {
	case ch <- change:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- change:
		default:
		}
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
