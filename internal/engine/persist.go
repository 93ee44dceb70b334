package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"taskboard/internal/domain"
)

var errMalformed = errors.New("malformed snapshot")

// DecodeCards parses a card store snapshot. A null document, a card without
// an id or title, a duplicate id or an unknown column make the snapshot malformed.
func DecodeCards(raw string) ([]domain.Card, error) {
	var cards []domain.Card
	if err := json.Unmarshal([]byte(raw), &cards); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if cards == nil {
		return nil, fmt.Errorf("%w: null card list", errMalformed)
	}
	seen := make(map[string]struct{}, len(cards))
	for _, c := range cards {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: card without id", errMalformed)
		}
		if strings.TrimSpace(c.Title) == "" {
			return nil, fmt.Errorf("%w: card %s has an empty title", errMalformed, c.ID)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate card id %s", errMalformed, c.ID)
		}
		seen[c.ID] = struct{}{}
		if !c.Column.Valid() {
			return nil, fmt.Errorf("%w: card %s has column %q", errMalformed, c.ID, c.Column)
		}
	}
	return cards, nil
}

// DecodeDeleted parses a deleted store snapshot.
func DecodeDeleted(raw string) ([]domain.DeletedCard, error) {
	var deleted []domain.DeletedCard
	if err := json.Unmarshal([]byte(raw), &deleted); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if deleted == nil {
		return nil, fmt.Errorf("%w: null history", errMalformed)
	}
	return deleted, nil
}

// Load hydrates both stores. An absent or unreadable card snapshot falls back
// to the default seed, an absent or unreadable history to an empty list. The
// hydrated state is written back so the seed survives the next start.
func (e *Engine) Load(ctx context.Context) {
	cards := e.loadCards(ctx)
	deleted := e.loadDeleted(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cards = cards
	e.deleted = deleted
	e.saveCards(ctx)
	e.saveDeleted(ctx)
}

func (e *Engine) loadCards(ctx context.Context) []domain.Card {
	key := e.Config.Storage.Keys.Cards
	raw, ok, err := e.Store.Get(ctx, key)
	if err != nil {
		e.log().Warnw("read card snapshot failed, using defaults", "key", key, "error", err)
		return domain.DefaultCards()
	}
	if !ok {
		return domain.DefaultCards()
	}
	cards, err := DecodeCards(raw)
	if err != nil {
		e.log().Warnw("card snapshot unreadable, using defaults", "key", key, "error", err)
		return domain.DefaultCards()
	}
	return cards
}

func (e *Engine) loadDeleted(ctx context.Context) []domain.DeletedCard {
	key := e.Config.Storage.Keys.Deleted
	raw, ok, err := e.Store.Get(ctx, key)
	if err != nil || !ok {
		if err != nil {
			e.log().Warnw("read deleted snapshot failed", "key", key, "error", err)
		}
		return []domain.DeletedCard{}
	}
	deleted, err := DecodeDeleted(raw)
	if err != nil {
		e.log().Warnw("deleted snapshot unreadable, starting empty", "key", key, "error", err)
		return []domain.DeletedCard{}
	}
	return deleted
}

func (e *Engine) saveCards(ctx context.Context) {
	e.write(ctx, e.Config.Storage.Keys.Cards, e.cards)
}

func (e *Engine) saveDeleted(ctx context.Context) {
	e.write(ctx, e.Config.Storage.Keys.Deleted, e.deleted)
}

// write is best effort: a failed write never rolls back the in-memory state.
func (e *Engine) write(ctx context.Context, key string, v any) {
	if e.Store == nil {
		return
	}
	data, err := json.Marshal(v)
	if err == nil {
		err = e.Store.Set(ctx, key, string(data))
	}
	if err != nil {
		e.Metrics.PersistFailed(key)
		e.log().Warnw("persist snapshot failed", "key", key, "error", err)
	}
}
