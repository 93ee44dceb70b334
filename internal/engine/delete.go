package engine

import (
	"context"
	"fmt"

	"taskboard/internal/domain"
	"taskboard/internal/events"
)

// Deletion entry points, used as metric and event labels.
const (
	SourceExplicit = "explicit"
	SourceTrash    = "trash"
	SourceEdit     = "edit"
)

const deletedAtLayout = "2006-01-02T15:04:05.000Z07:00"

// Delete removes a card from the board through the delete button.
func (e *Engine) Delete(ctx context.Context, id string) (domain.DeletedCard, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeAndSoftDelete(ctx, id, "", SourceExplicit)
}

// Trash removes a card dropped onto the trash target.
func (e *Engine) Trash(ctx context.Context, id string) (domain.DeletedCard, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeAndSoftDelete(ctx, id, "", SourceTrash)
}

// removeAndSoftDelete is the single path by which a card leaves the board.
// A non-empty title overrides the stored one in the history entry. Callers
// hold e.mu.
func (e *Engine) removeAndSoftDelete(ctx context.Context, id, title, source string) (domain.DeletedCard, bool) {
	i := indexOf(e.cards, id)
	if i < 0 {
		e.log().Debugw("delete ignored: card gone", "card_id", id, "source", source)
		return domain.DeletedCard{}, false
	}
	card := e.cards[i]
	if title != "" {
		card.Title = title
	}
	next := make([]domain.Card, 0, len(e.cards)-1)
	next = append(next, e.cards[:i]...)
	next = append(next, e.cards[i+1:]...)
	e.cards = next
	e.saveCards(ctx)
	return e.softDelete(ctx, card, source), true
}

func (e *Engine) softDelete(ctx context.Context, card domain.Card, source string) domain.DeletedCard {
	entry := domain.DeletedCard{
		ID:        card.ID,
		Title:     card.Title,
		Column:    card.Column,
		DeletedAt: e.now().UTC().Format(deletedAtLayout),
		DeletedID: e.newID(),
	}
	next := make([]domain.DeletedCard, 0, len(e.deleted)+1)
	next = append(next, entry)
	next = append(next, e.deleted...)
	e.deleted = next
	e.saveDeleted(ctx)
	e.Metrics.Deleted(source)
	e.record(ctx, "card.deleted", "card", card.ID, events.EventPayload{
		"title": card.Title, "column": card.Column, "deleted_id": entry.DeletedID, "source": source,
	})
	e.notify(fmt.Sprintf("Deleted: \"%s\"", card.Title), domain.NotifyDelete)
	return entry
}

// PermanentlyRemove drops one history entry. Removing an absent entry is a
// no-op that still acknowledges the request.
func (e *Engine) PermanentlyRemove(ctx context.Context, deletedID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := make([]domain.DeletedCard, 0, len(e.deleted))
	for _, d := range e.deleted {
		if d.DeletedID != deletedID {
			next = append(next, d)
		}
	}
	removed := len(next) != len(e.deleted)
	if removed {
		e.deleted = next
		e.saveDeleted(ctx)
		e.Metrics.Purged(1)
		e.record(ctx, "trash.removed", "trash", deletedID, nil)
	}
	e.notify("Permanently removed", domain.NotifyDelete)
	return removed
}

// ClearAll empties the history and reports how many entries were dropped.
func (e *Engine) ClearAll(ctx context.Context) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.deleted)
	e.deleted = []domain.DeletedCard{}
	e.saveDeleted(ctx)
	e.Metrics.Purged(n)
	e.record(ctx, "trash.cleared", "trash", "", events.EventPayload{"count": n})
	e.notify("Cleared deleted history", domain.NotifyDelete)
	return n
}
