// Package search runs the debounced, paginated title-suggestion flow behind
// the search box. Keystrokes funnel through a debouncer; superseded lookups
// are cancelled rather than raced.
package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/rs/zerolog"

	"mictap/internal/domain"
	"mictap/internal/ports"
)

// Config controls debouncing and query admission.
type Config struct {
	Debounce      time.Duration
	MinQueryRunes int
}

// Flow owns the live suggestion state for one search box.
type Flow struct {
	index    ports.TitleIndex
	events   ports.EventSink
	debounce func(func())
	cfg      Config
	log      zerolog.Logger

	mu         sync.Mutex
	query      string
	page       int
	totalPages int
	cancel     context.CancelFunc
}

func NewFlow(index ports.TitleIndex, events ports.EventSink, cfg Config, log zerolog.Logger) *Flow {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	if cfg.MinQueryRunes <= 0 {
		cfg.MinQueryRunes = 2
	}
	return &Flow{
		index:    index,
		events:   events,
		debounce: debounce.New(cfg.Debounce),
		cfg:      cfg,
		log:      log.With().Str("component", "search").Logger(),
	}
}

// QueryChanged records the latest query text. Lookups fire only after the
// debounce window passes without further edits; queries below the admission
// length clear the suggestion list instead.
func (f *Flow) QueryChanged(query string) {
	trimmed := strings.TrimSpace(query)

	f.mu.Lock()
	f.query = trimmed
	f.page = 1
	f.totalPages = 0
	f.mu.Unlock()

	if len([]rune(trimmed)) < f.cfg.MinQueryRunes {
		f.cancelInFlight()
		f.events.SuggestionsReady(domain.SuggestionPage{Query: trimmed, Page: 1})
		return
	}

	f.debounce(func() {
		f.lookup(trimmed, 1)
	})
}

// NextPage requests the following suggestion page for the current query.
// Pagination is user-initiated, so it bypasses the debounce window.
func (f *Flow) NextPage() {
	f.mu.Lock()
	query := f.query
	next := f.page + 1
	if f.totalPages > 0 && next > f.totalPages {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	if len([]rune(query)) < f.cfg.MinQueryRunes {
		return
	}
	go f.lookup(query, next)
}

// Close cancels any in-flight lookup.
func (f *Flow) Close() {
	f.cancelInFlight()
}

func (f *Flow) lookup(query string, page int) {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.mu.Unlock()
	defer cancel()

	result, err := f.index.Search(ctx, query, page)
	if ctx.Err() != nil {
		return // superseded by a newer query
	}
	if err != nil {
		f.log.Warn().Str("query", query).Err(err).Msg("suggestion lookup failed")
		f.events.SearchFailed(query, err.Error())
		return
	}

	f.mu.Lock()
	stale := f.query != query
	if !stale {
		f.page = result.Page
		f.totalPages = result.TotalPages
	}
	f.mu.Unlock()
	if stale {
		return
	}

	f.events.SuggestionsReady(result)
}

func (f *Flow) cancelInFlight() {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.mu.Unlock()
}
