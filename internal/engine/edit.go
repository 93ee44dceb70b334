package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskboard/internal/domain"
)

type EditState string

const (
	Viewing EditState = "viewing"
	Editing EditState = "editing"
)

var ErrNotEditing = errors.New("card is not being edited")

// Edit is the in-place title editor of one card. It starts in Viewing.
type Edit struct {
	engine   *Engine
	cardID   string
	original string
	text     string
	state    EditState
}

// EditResult describes a committed edit. Deleted is set when the commit
// emptied the title; Stale when the card had already left the board.
type EditResult struct {
	Card    *domain.Card        `json:"card,omitempty"`
	Deleted *domain.DeletedCard `json:"deleted,omitempty"`
	Stale   bool                `json:"stale,omitempty"`
}

// Edit returns a viewing-state editor for a card on the board.
func (e *Engine) Edit(id string) (*Edit, error) {
	card, ok := e.Card(id)
	if !ok {
		return nil, fmt.Errorf("card %s: %w", id, domain.ErrNotFound)
	}
	return &Edit{engine: e, cardID: id, original: card.Title, text: card.Title, state: Viewing}, nil
}

func (ed *Edit) State() EditState { return ed.state }
func (ed *Edit) Text() string     { return ed.text }

// Activate enters editing with the card's current title as working text.
func (ed *Edit) Activate() {
	if ed.state == Editing {
		return
	}
	if card, ok := ed.engine.Card(ed.cardID); ok {
		ed.original = card.Title
	}
	ed.text = ed.original
	ed.state = Editing
}

// SetText replaces the working text. The text may be empty while editing.
func (ed *Edit) SetText(text string) error {
	if ed.state != Editing {
		return ErrNotEditing
	}
	ed.text = text
	return nil
}

// Cancel restores the pre-edit text without touching the board.
func (ed *Edit) Cancel() {
	ed.text = ed.original
	ed.state = Viewing
}

// Commit trims the working text. Empty text deletes the card, recording its
// pre-edit title in the history; anything else becomes the new title.
func (ed *Edit) Commit(ctx context.Context) (EditResult, error) {
	if ed.state != Editing {
		return EditResult{}, ErrNotEditing
	}
	ed.state = Viewing
	title := strings.TrimSpace(ed.text)
	if title == "" {
		ed.engine.mu.Lock()
		entry, ok := ed.engine.removeAndSoftDelete(ctx, ed.cardID, ed.original, SourceEdit)
		ed.engine.mu.Unlock()
		if !ok {
			return EditResult{Stale: true}, nil
		}
		return EditResult{Deleted: &entry}, nil
	}
	card, ok := ed.engine.setTitle(ctx, ed.cardID, title)
	if !ok {
		return EditResult{Stale: true}, nil
	}
	ed.original = title
	ed.text = title
	return EditResult{Card: &card}, nil
}

// Retitle runs a full activate/set/commit cycle.
func (e *Engine) Retitle(ctx context.Context, id, text string) (EditResult, error) {
	ed, err := e.Edit(id)
	if err != nil {
		return EditResult{}, err
	}
	ed.Activate()
	if err := ed.SetText(text); err != nil {
		return EditResult{}, err
	}
	return ed.Commit(ctx)
}
