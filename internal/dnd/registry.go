package dnd

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"taskboard/internal/config"
	"taskboard/internal/domain"
)

var ErrBadIndicators = errors.New("invalid indicator set")

// Layout positions rendered cards vertically inside a column.
type Layout struct {
	Top             float64
	CardHeight      float64
	IndicatorHeight float64
	Gap             float64
}

func LayoutFrom(cfg config.LayoutConfig) Layout {
	return Layout{Top: cfg.Top, CardHeight: cfg.CardHeight, IndicatorHeight: cfg.IndicatorHeight, Gap: cfg.Gap}
}

// Row is the height taken by one indicator plus the card it precedes.
func (l Layout) Row() float64 {
	return l.IndicatorHeight + l.CardHeight + l.Gap
}

// Registry holds the drop targets of every column and the single active one.
type Registry struct {
	mu      sync.Mutex
	columns map[domain.Column][]domain.Indicator
	active  *domain.Indicator
}

func NewRegistry() *Registry {
	return &Registry{columns: map[domain.Column][]domain.Indicator{}}
}

// Render rebuilds all columns from the card store: one indicator before each
// card in store order, then the terminal indicator.
func (r *Registry) Render(cards []domain.Card, layout Layout) {
	next := make(map[domain.Column][]domain.Indicator, len(domain.Columns))
	tops := make(map[domain.Column]float64, len(domain.Columns))
	for _, col := range domain.Columns {
		tops[col] = layout.Top
	}
	for _, c := range cards {
		if !c.Column.Valid() {
			continue
		}
		next[c.Column] = append(next[c.Column], domain.Indicator{Column: c.Column, BeforeID: c.ID, Top: tops[c.Column]})
		tops[c.Column] += layout.Row()
	}
	for _, col := range domain.Columns {
		next[col] = append(next[col], domain.Indicator{Column: col, BeforeID: domain.EndOfColumn, Top: tops[col]})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.columns = next
	r.dropStaleActive()
}

// Place replaces one column with indicators measured by a client. The set
// must end with exactly one terminal indicator.
func (r *Registry) Place(column domain.Column, indicators []domain.Indicator) error {
	if !column.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidColumn, column)
	}
	if len(indicators) == 0 || !indicators[len(indicators)-1].Terminal() {
		return fmt.Errorf("%w: terminal indicator must be last", ErrBadIndicators)
	}
	placed := make([]domain.Indicator, len(indicators))
	for i, ind := range indicators {
		if i < len(indicators)-1 && (ind.BeforeID == "" || ind.Terminal()) {
			return fmt.Errorf("%w: indicator %d has no card", ErrBadIndicators, i)
		}
		ind.Column = column
		placed[i] = ind
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.columns == nil {
		r.columns = map[domain.Column][]domain.Indicator{}
	}
	r.columns[column] = placed
	r.dropStaleActive()
	return nil
}

// Indicators returns a column's drop targets, terminal last.
func (r *Registry) Indicators(column domain.Column) []domain.Indicator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.columns[column])
}

// Highlight makes ind the only active indicator on the board.
func (r *Registry) Highlight(ind domain.Indicator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = &ind
}

func (r *Registry) ClearHighlights() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = nil
}

func (r *Registry) Active() (domain.Indicator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return domain.Indicator{}, false
	}
	return *r.active, true
}

func (r *Registry) dropStaleActive() {
	if r.active == nil {
		return
	}
	for _, ind := range r.columns[r.active.Column] {
		if ind.BeforeID == r.active.BeforeID {
			return
		}
	}
	r.active = nil
}
