package server

import (
	"encoding/json"

	"taskboard/internal/config"
	"taskboard/internal/domain"
)

// Request payloads

type AddCardRequest struct {
	Column domain.Column `json:"column" enum:"backlog,todo,doing,done"`
	Title  string        `json:"title"`
}

type EditCardRequest struct {
	Title string `json:"title"`
}

type MoveCardRequest struct {
	Column   domain.Column `json:"column" enum:"backlog,todo,doing,done"`
	BeforeID string        `json:"before_id,omitempty" doc:"Card to insert before; -1 or empty appends"`
}

type DragBeginRequest struct {
	CardID string `json:"card_id"`
}

type DragPointRequest struct {
	Y          float64            `json:"y"`
	Column     domain.Column      `json:"column" enum:"backlog,todo,doing,done"`
	Indicators []domain.Indicator `json:"indicators,omitempty" doc:"Measured drop targets of the column, terminal last"`
}

// Response payloads

type ColumnResponse struct {
	Key   domain.Column `json:"key" enum:"backlog,todo,doing,done"`
	Title string        `json:"title"`
	Cards []domain.Card `json:"cards"`
}

type BoardResponse struct {
	Columns []ColumnResponse     `json:"columns"`
	Deleted []domain.DeletedCard `json:"deleted"`
}

type AddCardResponse struct {
	Added bool         `json:"added"`
	Card  *domain.Card `json:"card,omitempty"`
}

type MoveCardResponse struct {
	Moved bool         `json:"moved"`
	Card  *domain.Card `json:"card,omitempty"`
}

type RemovedResponse struct {
	Removed bool `json:"removed"`
}

type ClearedResponse struct {
	Cleared int `json:"cleared"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func boardResponse(cfg *config.Config, cards []domain.Card, deleted []domain.DeletedCard) BoardResponse {
	res := BoardResponse{Columns: make([]ColumnResponse, 0, len(domain.Columns)), Deleted: deleted}
	for _, col := range domain.Columns {
		cr := ColumnResponse{Key: col, Title: cfg.ColumnTitle(col), Cards: []domain.Card{}}
		for _, c := range cards {
			if c.Column == col {
				cr.Cards = append(cr.Cards, c)
			}
		}
		res.Columns = append(res.Columns, cr)
	}
	if res.Deleted == nil {
		res.Deleted = []domain.DeletedCard{}
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
