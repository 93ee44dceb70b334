package taskboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskboard HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Card is a board card.
type Card struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Column string `json:"column"`
}

// DeletedCard is a history entry.
type DeletedCard struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Column    string `json:"column"`
	DeletedAt string `json:"deletedAt"`
	DeletedID string `json:"deletedId"`
}

type Column struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Cards []Card `json:"cards"`
}

// Board is the grouped board plus history.
type Board struct {
	Columns []Column      `json:"columns"`
	Deleted []DeletedCard `json:"deleted"`
}

// EditResult reports a committed edit; Deleted is set when the title was emptied.
type EditResult struct {
	Card    *Card        `json:"card,omitempty"`
	Deleted *DeletedCard `json:"deleted,omitempty"`
	Stale   bool         `json:"stale,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Board fetches all columns and the deleted history.
func (c *Client) Board(ctx context.Context) (Board, error) {
	var resp Board
	err := c.do(ctx, http.MethodGet, "board", nil, &resp)
	return resp, err
}

// Add appends a card to a column. A blank title adds nothing and returns ok=false.
func (c *Client) Add(ctx context.Context, column, title string) (Card, bool, error) {
	var resp struct {
		Added bool  `json:"added"`
		Card  *Card `json:"card"`
	}
	if err := c.do(ctx, http.MethodPost, "cards", map[string]any{"column": column, "title": title}, &resp); err != nil {
		return Card{}, false, err
	}
	if !resp.Added || resp.Card == nil {
		return Card{}, false, nil
	}
	return *resp.Card, true, nil
}

// Edit commits a new title; an empty title deletes the card.
func (c *Client) Edit(ctx context.Context, id, title string) (EditResult, error) {
	var resp EditResult
	err := c.do(ctx, http.MethodPatch, "cards/"+url.PathEscape(id), map[string]any{"title": title}, &resp)
	return resp, err
}

// Move places a card before beforeID in column; "-1" or "" appends.
func (c *Client) Move(ctx context.Context, id, column, beforeID string) (bool, error) {
	var resp struct {
		Moved bool `json:"moved"`
	}
	body := map[string]any{"column": column, "before_id": beforeID}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("cards/%s/move", url.PathEscape(id)), body, &resp)
	return resp.Moved, err
}

// Delete moves a card to the history.
func (c *Client) Delete(ctx context.Context, id string) (DeletedCard, error) {
	var resp DeletedCard
	err := c.do(ctx, http.MethodDelete, "cards/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Trash lists the deleted history, most recent first.
func (c *Client) Trash(ctx context.Context) ([]DeletedCard, error) {
	var resp []DeletedCard
	err := c.do(ctx, http.MethodGet, "trash", nil, &resp)
	return resp, err
}

// Remove permanently drops one history entry. Removing twice is harmless.
func (c *Client) Remove(ctx context.Context, deletedID string) (bool, error) {
	var resp struct {
		Removed bool `json:"removed"`
	}
	err := c.do(ctx, http.MethodDelete, "trash/"+url.PathEscape(deletedID), nil, &resp)
	return resp.Removed, err
}

// Clear empties the history and returns how many entries were dropped.
func (c *Client) Clear(ctx context.Context) (int, error) {
	var resp struct {
		Cleared int `json:"cleared"`
	}
	err := c.do(ctx, http.MethodDelete, "trash", nil, &resp)
	return resp.Cleared, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
