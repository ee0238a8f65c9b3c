package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rickgao/efp-desk/internal/model"
)

// Fetcher retrieves the backend's destination list.
type Fetcher interface {
	GetDestinations(ctx context.Context) ([]model.Destination, error)
}

// Directory is the combined set of addressable destinations.
type Directory struct {
	fetcher Fetcher
	static  []model.Destination
	logger  *slog.Logger

	loadMu sync.Mutex
	loaded bool

	mu      sync.RWMutex
	entries []model.Destination
	byName  map[string]string // name -> id, first entry wins
	longest []string          // names, longest first
}

// New creates a directory holding only the static contacts until Load
// is called. fetcher may be nil for an offline directory.
func New(fetcher Fetcher, static []model.Destination, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{
		fetcher: fetcher,
		static:  append([]model.Destination(nil), static...),
		logger:  logger.With("component", "directory"),
	}
	d.install(merge(nil, d.static))
	return d
}

// Load fetches the backend destinations once and merges them ahead of the
// static contacts, deduplicating by id. Later calls do nothing. If the
// fetch fails the directory keeps the static contacts and the error is
// returned for reporting.
func (d *Directory) Load(ctx context.Context) error {
	d.loadMu.Lock()
	defer d.loadMu.Unlock()

	if d.loaded {
		return nil
	}
	d.loaded = true

	if d.fetcher == nil {
		return nil
	}

	remote, err := d.fetcher.GetDestinations(ctx)
	if err != nil {
		d.logger.Warn("destination fetch failed, using static contacts only",
			"err", err,
			"static", len(d.static),
		)
		return fmt.Errorf("load destinations: %w", err)
	}

	entries := merge(remote, d.static)
	d.install(entries)

	d.logger.Info("directory loaded",
		"remote", len(remote),
		"static", len(d.static),
		"total", len(entries),
	)
	return nil
}

// Loaded reports whether Load has run.
func (d *Directory) Loaded() bool {
	d.loadMu.Lock()
	defer d.loadMu.Unlock()
	return d.loaded
}

// All returns a copy of the combined collection in merge order.
func (d *Directory) All() []model.Destination {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.Destination(nil), d.entries...)
}

// Len returns the number of destinations.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Suggest returns up to limit destinations whose name contains partial,
// ignoring case, in collection order. A limit of zero or less returns
// every match.
func (d *Directory) Suggest(partial string, limit int) []model.Destination {
	needle := strings.ToLower(partial)

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []model.Destination
	for _, e := range d.entries {
		if !strings.Contains(strings.ToLower(e.Name), needle) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Resolve returns the id for an exact name match. When two destinations
// share a name the first in collection order wins.
func (d *Directory) Resolve(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byName[name]
	return id, ok
}

// install swaps in a new collection. entries must already be deduplicated.
func (d *Directory) install(entries []model.Destination) {
	byName := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		if _, dup := byName[e.Name]; dup {
			d.logger.Debug("duplicate destination name, keeping first", "name", e.Name, "id", e.ID)
			continue
		}
		byName[e.Name] = e.ID
	}

	d.mu.Lock()
	d.entries = entries
	d.byName = byName
	d.longest = longestFirst(byName)
	d.mu.Unlock()
}

// merge concatenates the lists and drops later entries whose id was
// already seen.
func merge(lists ...[]model.Destination) []model.Destination {
	seen := make(map[string]struct{})
	out := []model.Destination{}
	for _, list := range lists {
		for _, e := range list {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}
