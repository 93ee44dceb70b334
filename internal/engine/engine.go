package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskboard/internal/config"
	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/logging"
	"taskboard/internal/metrics"
	"taskboard/internal/repo"
)

// Notifier receives the user-facing message produced by a mutation.
type Notifier interface {
	Notify(text string, typ domain.NotificationType)
}

// Engine owns the card store and the deleted store. Every mutation runs under
// one lock, replaces the affected slice wholesale and then writes a snapshot.
type Engine struct {
	Store   repo.KV
	Events  events.Recorder
	Notify  Notifier
	Metrics *metrics.Metrics
	Log     *zap.SugaredLogger
	Config  *config.Config
	Now     func() time.Time
	NewID   func() string

	mu      sync.Mutex
	cards   []domain.Card
	deleted []domain.DeletedCard
}

func New(store repo.KV, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Engine{
		Store:   store,
		Events:  events.Discard{},
		Log:     logging.Nop(),
		Config:  cfg,
		Now:     time.Now,
		NewID:   uuid.NewString,
		cards:   []domain.Card{},
		deleted: []domain.DeletedCard{},
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Engine) log() *zap.SugaredLogger {
	if e.Log != nil {
		return e.Log
	}
	return logging.Nop()
}

func (e *Engine) notify(text string, typ domain.NotificationType) {
	if e.Notify != nil {
		e.Notify.Notify(text, typ)
	}
}

func (e *Engine) record(ctx context.Context, evtType, kind, id string, payload events.EventPayload) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Append(ctx, evtType, kind, id, payload); err != nil {
		e.log().Warnw("event log append failed", "type", evtType, "error", err)
	}
}

// Cards returns the card store in priority order.
func (e *Engine) Cards() []domain.Card {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.cards)
}

// CardsIn filters the store by column, keeping store order.
func (e *Engine) CardsIn(column domain.Column) []domain.Card {
	e.mu.Lock()
	defer e.mu.Unlock()
	return filterColumn(e.cards, column)
}

func (e *Engine) Card(id string) (domain.Card, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := indexOf(e.cards, id); i >= 0 {
		return e.cards[i], true
	}
	return domain.Card{}, false
}

// Deleted returns the history, most recent first.
func (e *Engine) Deleted() []domain.DeletedCard {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.deleted)
}

// Add appends a card built from text to the end of the store. Blank text is
// ignored and reported with ok=false.
func (e *Engine) Add(ctx context.Context, column domain.Column, text string) (domain.Card, bool, error) {
	if !column.Valid() {
		return domain.Card{}, false, fmt.Errorf("%w: %q", domain.ErrInvalidColumn, column)
	}
	title := strings.TrimSpace(text)
	if title == "" {
		return domain.Card{}, false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	card := domain.Card{ID: e.newID(), Title: title, Column: column}
	next := make([]domain.Card, 0, len(e.cards)+1)
	next = append(next, e.cards...)
	next = append(next, card)
	e.cards = next
	e.saveCards(ctx)
	e.Metrics.Added(string(column))
	e.record(ctx, "card.added", "card", card.ID, events.EventPayload{"title": card.Title, "column": card.Column})
	e.notify(fmt.Sprintf("Added: \"%s\"", card.Title), domain.NotifyColumn(column))
	return card, true, nil
}

// Move relocates draggedID into column, immediately before beforeID, or at
// the very end of the store when beforeID is domain.EndOfColumn (or empty).
// It reports false without mutating when the dragged card or the target card
// is gone, or when the card is dropped on its own leading edge.
func (e *Engine) Move(ctx context.Context, draggedID string, column domain.Column, beforeID string) (bool, error) {
	if !column.Valid() {
		return false, fmt.Errorf("%w: %q", domain.ErrInvalidColumn, column)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	from := indexOf(e.cards, draggedID)
	if from < 0 {
		e.log().Debugw("move ignored: dragged card gone", "card_id", draggedID)
		return false, nil
	}
	if beforeID == draggedID {
		return false, nil
	}
	moved := e.cards[from]
	moved.Column = column
	work := make([]domain.Card, 0, len(e.cards))
	for _, c := range e.cards {
		if c.ID != draggedID {
			work = append(work, c)
		}
	}
	if beforeID == "" || beforeID == domain.EndOfColumn {
		work = append(work, moved)
	} else {
		at := indexOf(work, beforeID)
		if at < 0 {
			e.log().Debugw("move ignored: target card gone", "card_id", draggedID, "before_id", beforeID)
			return false, nil
		}
		work = slices.Insert(work, at, moved)
	}
	e.cards = work
	e.saveCards(ctx)
	e.Metrics.Moved(string(column))
	e.record(ctx, "card.moved", "card", moved.ID, events.EventPayload{"column": column, "before_id": beforeID})
	e.notify(fmt.Sprintf("Moved: \"%s\" → %s", moved.Title, e.Config.ColumnTitle(column)), domain.NotifyColumn(column))
	return true, nil
}

// Reset restores the default seed cards. The deleted history is kept.
func (e *Engine) Reset(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cards = domain.DefaultCards()
	e.saveCards(ctx)
	e.record(ctx, "board.reset", "board", "", nil)
	e.notify("Board reset to defaults", domain.NotifyDefault)
}

func (e *Engine) setTitle(ctx context.Context, id, title string) (domain.Card, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := indexOf(e.cards, id)
	if i < 0 {
		return domain.Card{}, false
	}
	next := slices.Clone(e.cards)
	next[i].Title = title
	e.cards = next
	e.saveCards(ctx)
	e.record(ctx, "card.edited", "card", id, events.EventPayload{"title": title})
	return next[i], true
}

func indexOf(cards []domain.Card, id string) int {
	return slices.IndexFunc(cards, func(c domain.Card) bool { return c.ID == id })
}

func filterColumn(cards []domain.Card, column domain.Column) []domain.Card {
	out := []domain.Card{}
	for _, c := range cards {
		if c.Column == column {
			out = append(out, c)
		}
	}
	return out
}
