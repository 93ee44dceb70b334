package dnd

import (
	"context"
	"fmt"
	"sync"

	"taskboard/internal/domain"
)

// Board is the part of the engine a drag session drives.
type Board interface {
	Card(id string) (domain.Card, bool)
	Cards() []domain.Card
	Move(ctx context.Context, draggedID string, column domain.Column, beforeID string) (bool, error)
	Trash(ctx context.Context, id string) (domain.DeletedCard, bool)
}

// DropResult reports how a drag gesture ended.
type DropResult struct {
	CardID  string              `json:"card_id"`
	Target  *domain.Indicator   `json:"target,omitempty"`
	Moved   bool                `json:"moved"`
	Deleted *domain.DeletedCard `json:"deleted,omitempty"`
}

// Controller runs one drag gesture at a time against a Board.
type Controller struct {
	Board    Board
	Registry *Registry
	Layout   Layout
	Offset   float64

	mu       sync.Mutex
	dragging string
}

func NewController(board Board, layout Layout, offset float64) *Controller {
	return &Controller{Board: board, Registry: NewRegistry(), Layout: layout, Offset: offset}
}

// Begin captures the dragged card id. The card must be on the board.
func (c *Controller) Begin(cardID string) error {
	if _, ok := c.Board.Card(cardID); !ok {
		return fmt.Errorf("card %s: %w", cardID, domain.ErrNotFound)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dragging = cardID
	return nil
}

// Dragging returns the id captured by Begin.
func (c *Controller) Dragging() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dragging, c.dragging != ""
}

// Hover resolves the nearest indicator of column and makes it the active one.
// Measured indicators, when given, replace the rendered ones for that column.
func (c *Controller) Hover(y float64, column domain.Column, measured []domain.Indicator) (domain.Indicator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dragging == "" {
		return domain.Indicator{}, domain.ErrNoDrag
	}
	ind, err := c.resolve(y, column, measured)
	if err != nil {
		return domain.Indicator{}, err
	}
	c.Registry.Highlight(ind)
	return ind, nil
}

// Drop resolves the target like Hover and hands it to the board. Highlight
// and drag state are cleared whatever the outcome.
func (c *Controller) Drop(ctx context.Context, y float64, column domain.Column, measured []domain.Indicator) (DropResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.reset()
	if c.dragging == "" {
		return DropResult{}, domain.ErrNoDrag
	}
	res := DropResult{CardID: c.dragging}
	ind, err := c.resolve(y, column, measured)
	if err != nil {
		return res, err
	}
	res.Target = &ind
	moved, err := c.Board.Move(ctx, c.dragging, ind.Column, ind.BeforeID)
	if err != nil {
		return res, err
	}
	res.Moved = moved
	return res, nil
}

// DropOnTrash ends the gesture on the trash target, deleting the card.
func (c *Controller) DropOnTrash(ctx context.Context) (DropResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.reset()
	if c.dragging == "" {
		return DropResult{}, domain.ErrNoDrag
	}
	res := DropResult{CardID: c.dragging}
	if entry, ok := c.Board.Trash(ctx, c.dragging); ok {
		res.Deleted = &entry
	}
	return res, nil
}

// Cancel abandons the gesture without touching the board.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *Controller) resolve(y float64, column domain.Column, measured []domain.Indicator) (domain.Indicator, error) {
	if !column.Valid() {
		return domain.Indicator{}, fmt.Errorf("%w: %q", domain.ErrInvalidColumn, column)
	}
	if len(measured) > 0 {
		if err := c.Registry.Place(column, measured); err != nil {
			return domain.Indicator{}, err
		}
	} else {
		c.Registry.Render(c.Board.Cards(), c.Layout)
	}
	ind := Nearest(y, c.Registry.Indicators(column), c.Offset)
	ind.Column = column
	return ind, nil
}

func (c *Controller) reset() {
	c.dragging = ""
	c.Registry.ClearHighlights()
}
