package notify_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"taskboard/internal/domain"
	"taskboard/internal/notify"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestPushPrependsAndExpires(t *testing.T) {
	c := notify.NewCenter(30 * time.Millisecond)
	defer c.Close()
	first := c.Push(`Added: "A"`, domain.NotifyColumn(domain.ColumnTodo))
	second := c.Push(`Deleted: "B"`, domain.NotifyDelete)
	list := c.List()
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if first.Type != "todo" || first.ID == second.ID || first.CreatedAt == "" {
		t.Fatalf("unexpected notification %+v", first)
	}
	waitFor(t, func() bool { return len(c.List()) == 0 })
}

func TestTimersAreIndependent(t *testing.T) {
	c := notify.NewCenter(200 * time.Millisecond)
	defer c.Close()
	old := c.Push("old", domain.NotifyDefault)
	time.Sleep(120 * time.Millisecond)
	fresh := c.Push("fresh", domain.NotifyDefault)
	waitFor(t, func() bool {
		list := c.List()
		return len(list) == 1 && list[0].ID == fresh.ID
	})
	if c.Remove(old.ID) {
		t.Fatalf("expired notification should already be gone")
	}
}

func TestRemoveEarly(t *testing.T) {
	c := notify.NewCenter(time.Hour)
	defer c.Close()
	n := c.Push("x", "")
	if n.Type != domain.NotifyDefault {
		t.Fatalf("empty type should default, got %q", n.Type)
	}
	if !c.Remove(n.ID) {
		t.Fatalf("expected removal")
	}
	if c.Remove(n.ID) {
		t.Fatalf("second removal should report false")
	}
	if len(c.List()) != 0 {
		t.Fatalf("list should be empty")
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	c := notify.NewCenter(time.Hour)
	changes, cancel := c.Subscribe(4)
	n := c.Push("hello", domain.NotifyDefault)
	c.Remove(n.ID)
	got := []notify.Change{<-changes, <-changes}
	if got[0].Kind != notify.KindAdded || got[1].Kind != notify.KindRemoved || got[1].Notification.ID != n.ID {
		t.Fatalf("unexpected changes %+v", got)
	}
	cancel()
	cancel()
	if _, ok := <-changes; ok {
		t.Fatalf("channel should be closed after cancel")
	}
	c.Close()
	c.Push("after close", domain.NotifyDefault)
	if len(c.List()) != 0 {
		t.Fatalf("closed center should not list new notifications")
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) notify.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var raw struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&raw); err != nil {
		t.Fatalf("read: %v", err)
	}
	return notify.Message{Type: raw.Type, Data: raw.Data}
}

func TestHubStreamsAndDismisses(t *testing.T) {
	c := notify.NewCenter(time.Hour)
	defer c.Close()
	existing := c.Push("before connect", domain.NotifyDefault)

	srv := httptest.NewServer(notify.NewHub(c, nil))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	snap := readMessage(t, conn)
	if snap.Type != "snapshot" || !strings.Contains(string(snap.Data.(json.RawMessage)), existing.ID) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	added := c.Push("live", domain.NotifyDelete)
	msg := readMessage(t, conn)
	if msg.Type != notify.KindAdded || !strings.Contains(string(msg.Data.(json.RawMessage)), added.ID) {
		t.Fatalf("unexpected added message %+v", msg)
	}

	if err := conn.WriteJSON(map[string]string{"type": "dismiss", "id": added.ID}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg = readMessage(t, conn)
	if msg.Type != notify.KindRemoved {
		t.Fatalf("expected removed message, got %+v", msg)
	}
	waitFor(t, func() bool { return len(c.List()) == 1 })

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != "pong" {
		t.Fatalf("expected pong, got %+v", msg)
	}
}
