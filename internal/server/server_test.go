package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/dnd"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/notify"
	"taskboard/internal/repo"
)

type testServer struct {
	URL    string
	Board  *app.Board
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, secret string) (*testServer, func()) {
	t.Helper()
	cfg := config.Default()
	board, err := app.Open(context.Background(), t.TempDir(), cfg, nil)
	if err != nil {
		t.Fatalf("open board: %v", err)
	}
	handler, err := New(Config{
		Engine:   board.Engine,
		Notices:  board.Notices,
		Events:   board.Log,
		Metrics:  board.Metrics,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: secret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Board:  board,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			board.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return v
}

func TestAddListAndMove(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cards", map[string]any{"column": "doing", "title": "Write tests"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add status %d: %s", res.StatusCode, string(data))
	}
	added := decode[AddCardResponse](t, data)
	if !added.Added || added.Card == nil || added.Card.Column != domain.ColumnDoing || added.Card.Title != "Write tests" {
		t.Fatalf("unexpected add response %+v", added)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cards", map[string]any{"column": "doing", "title": "   "}, nil)
	if res.StatusCode != http.StatusCreated || decode[AddCardResponse](t, data).Added {
		t.Fatalf("blank add should be a no-op, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cards?column=doing", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	doing := decode[[]domain.Card](t, data)
	if len(doing) != 3 || doing[2].ID != added.Card.ID {
		t.Fatalf("expected new card last in doing, got %+v", doing)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cards/"+added.Card.ID+"/move", map[string]any{"column": "todo", "before_id": "5"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move status %d: %s", res.StatusCode, string(data))
	}
	moved := decode[MoveCardResponse](t, data)
	if !moved.Moved || moved.Card.Column != domain.ColumnTodo {
		t.Fatalf("unexpected move response %+v", moved)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/board", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("board status %d: %s", res.StatusCode, string(data))
	}
	board := decode[BoardResponse](t, data)
	if len(board.Columns) != 4 || board.Columns[1].Key != domain.ColumnTodo || board.Columns[1].Title != "TODO" {
		t.Fatalf("unexpected columns %+v", board.Columns)
	}
	if board.Columns[1].Cards[0].ID != added.Card.ID {
		t.Fatalf("moved card should lead todo, got %+v", board.Columns[1].Cards)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cards/"+added.Card.ID+"/move", map[string]any{"column": "todo", "before_id": "ghost"}, nil)
	if res.StatusCode != http.StatusOK || decode[MoveCardResponse](t, data).Moved {
		t.Fatalf("stale target should be a silent no-op, got %d: %s", res.StatusCode, string(data))
	}
}

func TestInvalidColumnUsesErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cards?column=archive", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Error.Code == "" {
		t.Fatalf("expected error envelope, got %s", string(data))
	}
}

func TestDragSession(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/drag/hover", map[string]any{"y": 0, "column": "todo"}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("hover without drag should conflict, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/drag/begin", map[string]any{"card_id": "7"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("begin status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/drag/hover", map[string]any{"y": 10, "column": "todo"}, nil)
	if res.StatusCode != http.StatusOK || decode[domain.Indicator](t, data).BeforeID != "5" {
		t.Fatalf("unexpected hover %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/drag/drop", map[string]any{"y": 10, "column": "todo"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("drop status %d: %s", res.StatusCode, string(data))
	}
	drop := decode[dnd.DropResult](t, data)
	if !drop.Moved || drop.CardID != "7" || drop.Target.BeforeID != "5" {
		t.Fatalf("unexpected drop %+v", drop)
	}
	todo := srv.Board.Engine.CardsIn(domain.ColumnTodo)
	if todo[0].ID != "7" || todo[1].ID != "5" || todo[2].ID != "6" {
		t.Fatalf("unexpected todo order %+v", todo)
	}

	_, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/drag/begin", map[string]any{"card_id": "10"}, nil)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/drag/trash", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("trash status %d: %s", res.StatusCode, string(data))
	}
	if trashed := decode[dnd.DropResult](t, data); trashed.Deleted == nil || trashed.Deleted.ID != "10" {
		t.Fatalf("unexpected trash result %+v", trashed)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/drag/begin", map[string]any{"card_id": "ghost"}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("begin on missing card should 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestDeleteEditAndTrash(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/cards/1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	first := decode[domain.DeletedCard](t, data)
	if first.ID != "1" || first.DeletedID == "" || first.DeletedAt == "" {
		t.Fatalf("unexpected history entry %+v", first)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/cards/1", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete should 404, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/cards/2", map[string]any{"title": "  Renamed "}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("edit status %d: %s", res.StatusCode, string(data))
	}
	if edited := decode[engine.EditResult](t, data); edited.Card == nil || edited.Card.Title != "Renamed" {
		t.Fatalf("unexpected edit result %+v", edited)
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/cards/3", map[string]any{"title": ""}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("empty edit status %d: %s", res.StatusCode, string(data))
	}
	if emptied := decode[engine.EditResult](t, data); emptied.Deleted == nil || emptied.Deleted.Title != "[SPIKE] Migrate to Azure" {
		t.Fatalf("empty edit should delete, got %+v", emptied)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/trash", nil, nil)
	hist := decode[[]domain.DeletedCard](t, data)
	if res.StatusCode != http.StatusOK || len(hist) != 2 || hist[0].ID != "3" {
		t.Fatalf("unexpected trash %d: %+v", res.StatusCode, hist)
	}

	for i, want := range []bool{true, false} {
		res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/trash/"+first.DeletedID, nil, nil)
		if res.StatusCode != http.StatusOK || decode[RemovedResponse](t, data).Removed != want {
			t.Fatalf("remove call %d: %d %s", i, res.StatusCode, string(data))
		}
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/trash", nil, nil)
	if res.StatusCode != http.StatusOK || decode[ClearedResponse](t, data).Cleared != 1 {
		t.Fatalf("unexpected clear %d: %s", res.StatusCode, string(data))
	}
}

func TestNotificationsAndEvents(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()

	_, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cards", map[string]any{"column": "todo", "title": "One"}, nil)
	_, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/cards/4", nil, nil)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications", nil, nil)
	notes := decode[[]domain.Notification](t, data)
	if res.StatusCode != http.StatusOK || len(notes) != 2 {
		t.Fatalf("unexpected notifications %d: %s", res.StatusCode, string(data))
	}
	if notes[0].Type != domain.NotifyDelete || notes[0].Text != `Deleted: "Document Notifications service"` {
		t.Fatalf("newest notification should be the delete, got %+v", notes[0])
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/notifications/"+notes[0].ID, nil, nil)
	if res.StatusCode != http.StatusOK || !decode[RemovedResponse](t, data).Removed {
		t.Fatalf("dismiss failed %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	page := decode[paginatedEvents](t, data)
	if len(page.Items) != 1 || page.Items[0].Type != "card.deleted" || page.NextCursor == "" {
		t.Fatalf("unexpected first page %+v", page)
	}
	if page.Items[0].Payload["source"] != "explicit" {
		t.Fatalf("expected delete source in payload, got %+v", page.Items[0].Payload)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=1&cursor="+page.NextCursor, nil, nil)
	next := decode[paginatedEvents](t, data)
	if res.StatusCode != http.StatusOK || len(next.Items) != 1 || next.Items[0].Type != "card.added" {
		t.Fatalf("unexpected second page %+v", next)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `taskboard_cards_deleted_total{source="explicit"} 1`) {
		t.Fatalf("metrics missing delete counter: %s", string(data))
	}
}

func TestAuthRequiredWithSecret(t *testing.T) {
	srv, cleanup := newTestServer(t, "s3cret")
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should stay open, got %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/board", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || !strings.Contains(string(data), "unauthorized") {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	bad, _ := SignToken("other", "tester", time.Minute)
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/board", nil, map[string]string{"Authorization": "Bearer " + bad})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong secret should 401, got %d", res.StatusCode)
	}
	token, err := SignToken("s3cret", "tester", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/board", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/trash?access_token="+token, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("query token should be accepted, got %d", res.StatusCode)
	}
}

func TestReadOnlyScope(t *testing.T) {
	srv, cleanup := newTestServer(t, "s3cret")
	defer cleanup()
	client := srv.Client()

	reader, _ := SignToken("s3cret", "viewer", time.Minute, ScopeRead)
	auth := map[string]string{"Authorization": "Bearer " + reader}
	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/cards", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("read scope should list cards, got %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/cards/1", nil, auth)
	if res.StatusCode != http.StatusForbidden || !strings.Contains(string(data), ScopeWrite) {
		t.Fatalf("expected 403 naming the write scope, got %d: %s", res.StatusCode, string(data))
	}
	if _, ok := srv.Board.Engine.Card("1"); !ok {
		t.Fatalf("forbidden delete must not touch the board")
	}

	writer, _ := SignToken("s3cret", "editor", time.Minute, ScopeWrite)
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/cards/1", nil, map[string]string{"Authorization": "Bearer " + writer})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("write scope should delete, got %d", res.StatusCode)
	}
}

func TestScopesGateMutations(t *testing.T) {
	srv, cleanup := newTestServer(t, "s3cret")
	defer cleanup()
	client := srv.Client()

	reader, _ := SignToken("s3cret", "viewer", time.Minute, ScopeRead)
	res, data := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/trash", nil, map[string]string{"Authorization": "Bearer " + reader})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("read scope must not clear the trash, got %d: %s", res.StatusCode, string(data))
	}
	body := decode[map[string]apiErrorBody](t, data)["error"]
	if body.Code != "forbidden" || body.Details["scope"] != ScopeWrite {
		t.Fatalf("unexpected envelope %+v", body)
	}

	other, _ := SignToken("s3cret", "stranger", time.Minute, "other")
	auth := map[string]string{"Authorization": "Bearer " + other}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cards", AddCardRequest{Column: domain.ColumnTodo, Title: "sneaky"}, auth)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("unknown scope must not add, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/board", nil, auth)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("unknown scope must not read, got %d", res.StatusCode)
	}
	if len(srv.Board.Engine.Cards()) != 10 {
		t.Fatalf("board changed despite forbidden requests")
	}
}

func TestDefaultNoticesFollowEngine(t *testing.T) {
	cfg := config.Default()
	e := engine.New(repo.NewMemory(0), cfg)
	e.Load(context.Background())
	handler, err := New(Config{Engine: e})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ts := httptest.NewServer(handler)
	defer ts.Close()

	res, _ := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/cards", AddCardRequest{Column: domain.ColumnDoing, Title: "Wire notices"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add: %d", res.StatusCode)
	}
	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/notifications", nil, nil)
	items := decode[[]domain.Notification](t, data)
	if res.StatusCode != http.StatusOK || len(items) != 1 || items[0].Text != `Added: "Wire notices"` {
		t.Fatalf("expected the add notification, got %d %+v", res.StatusCode, items)
	}

	center, ok := e.Notify.(*notify.Center)
	if !ok {
		t.Fatalf("engine should notify the server's center, got %T", e.Notify)
	}
	center.Close()
}

func TestPrincipalAllows(t *testing.T) {
	cases := []struct {
		scopes []string
		method string
		ok     bool
	}{
		{nil, http.MethodPost, true},
		{[]string{ScopeRead}, http.MethodGet, true},
		{[]string{ScopeRead}, http.MethodPatch, false},
		{[]string{ScopeWrite}, http.MethodGet, true},
		{[]string{"other"}, http.MethodGet, false},
	}
	for _, tc := range cases {
		err := Principal{Subject: "x", Scopes: tc.scopes}.Allows(tc.method)
		if (err == nil) != tc.ok {
			t.Fatalf("scopes %v %s: got err=%v", tc.scopes, tc.method, err)
		}
	}
}

func TestOpenAPIAndDocs(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "/v0/drag/drop") {
		t.Fatalf("openapi missing drag route: %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "/v0/openapi.json") {
		t.Fatalf("docs should point at spec: %d", res.StatusCode)
	}
}

func TestWebhookDispatch(t *testing.T) {
	var (
		mu       sync.Mutex
		received []webhookEvent
		headers  []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, evt)
		headers = append(headers, r.Header.Get("X-Taskboard-Secret"))
		mu.Unlock()
	}))
	defer hook.Close()

	ctx := context.Background()
	board, err := app.Open(ctx, t.TempDir(), config.Default(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer board.Close()
	board.Engine.Delete(ctx, "1")

	d := &webhookDispatcher{
		log:      board.Log,
		webhooks: []config.WebhookConfig{{URL: hook.URL, Events: []string{"card.deleted"}, Secret: "shh"}},
		client:   &http.Client{Timeout: time.Second},
		logger:   board.Engine.Log,
		cursors:  map[int]int64{},
	}
	d.dispatchAll(ctx)
	mu.Lock()
	if len(received) != 0 {
		t.Fatalf("history before start should not be replayed, got %+v", received)
	}
	mu.Unlock()

	board.Engine.Add(ctx, domain.ColumnTodo, "ignored by filter")
	board.Engine.Delete(ctx, "2")
	d.dispatchAll(ctx)
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].Type != "card.deleted" || received[0].EntityID != "2" || headers[0] != "shh" {
		t.Fatalf("unexpected deliveries %+v %v", received, headers)
	}
}
