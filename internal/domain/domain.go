package domain

import "fmt"

type Column string

const (
	ColumnBacklog Column = "backlog"
	ColumnTodo    Column = "todo"
	ColumnDoing   Column = "doing"
	ColumnDone    Column = "done"
)

// Columns lists the fixed board columns in display order.
var Columns = []Column{ColumnBacklog, ColumnTodo, ColumnDoing, ColumnDone}

func (c Column) Valid() bool {
	for _, col := range Columns {
		if c == col {
			return true
		}
	}
	return false
}

// ParseColumn validates a raw column key.
func ParseColumn(raw string) (Column, error) {
	c := Column(raw)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidColumn, raw)
	}
	return c, nil
}

type Card struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Column Column `json:"column" enum:"backlog,todo,doing,done"`
}

type DeletedCard struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Column    Column `json:"column" enum:"backlog,todo,doing,done"`
	DeletedAt string `json:"deletedAt" format:"date-time"`
	DeletedID string `json:"deletedId"`
}

// Card returns the card fields of a history entry.
func (d DeletedCard) Card() Card {
	return Card{ID: d.ID, Title: d.Title, Column: d.Column}
}

// EndOfColumn is the before-id of the terminal indicator of every column.
const EndOfColumn = "-1"

type Indicator struct {
	Column   Column  `json:"column" enum:"backlog,todo,doing,done"`
	BeforeID string  `json:"before_id"`
	Top      float64 `json:"top"`
}

func (i Indicator) Terminal() bool { return i.BeforeID == EndOfColumn }

type NotificationType string

const (
	NotifyDelete  NotificationType = "delete"
	NotifyDefault NotificationType = "default"
)

// NotifyColumn tags a notification with the column it concerns.
func NotifyColumn(c Column) NotificationType { return NotificationType(c) }

type Notification struct {
	ID        string           `json:"id"`
	Text      string           `json:"text"`
	Type      NotificationType `json:"type" enum:"backlog,todo,doing,done,delete,default"`
	CreatedAt string           `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// DefaultCards seeds an empty or unreadable board.
func DefaultCards() []Card {
	return []Card{
		{ID: "1", Title: "Look into render bug in dashboard", Column: ColumnBacklog},
		{ID: "2", Title: "SOX compliance checklist", Column: ColumnBacklog},
		{ID: "3", Title: "[SPIKE] Migrate to Azure", Column: ColumnBacklog},
		{ID: "4", Title: "Document Notifications service", Column: ColumnBacklog},
		{ID: "5", Title: "Research DB options for new microservice", Column: ColumnTodo},
		{ID: "6", Title: "Postmortem for outage", Column: ColumnTodo},
		{ID: "7", Title: "Sync with product on Q3 roadmap", Column: ColumnTodo},
		{ID: "8", Title: "Refactor context providers to use Zustand", Column: ColumnDoing},
		{ID: "9", Title: "Add logging to daily CRON", Column: ColumnDoing},
		{ID: "10", Title: "Set up DD dashboards for Lambda listener", Column: ColumnDone},
	}
}
