package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"taskboard/internal/config"
	"taskboard/internal/domain"
)

func TestOpenSQLiteKeepsEventLog(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	b, err := Open(ctx, ws, config.Default(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if b.Log == nil {
		t.Fatalf("sqlite backend should expose the event log")
	}
	card, _, err := b.Engine.Add(ctx, domain.ColumnTodo, "Persisted")
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Notices.List()) != 1 {
		t.Fatalf("expected the add notification to be listed")
	}
	evts, err := b.Log.LatestEvents(ctx, 5, "card.added", "", "")
	if err != nil || len(evts) != 1 || evts[0].EntityID != card.ID {
		t.Fatalf("unexpected events %+v err=%v", evts, err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	again, err := Open(ctx, ws, config.Default(), nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	if _, ok := again.Engine.Card(card.ID); !ok {
		t.Fatalf("card should survive reopen")
	}
}

func TestOpenMemoryAndRedis(t *testing.T) {
	ctx := context.Background()
	mem := config.Default()
	mem.Storage.Backend = "memory"
	b, err := Open(ctx, t.TempDir(), mem, nil)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if b.Log != nil || len(b.Engine.Cards()) != 10 {
		t.Fatalf("memory backend should seed defaults without an event log")
	}
	_ = b.Close()

	mr := miniredis.RunT(t)
	rc := config.Default()
	rc.Storage.Backend = "redis"
	rc.Storage.Redis.Addr = mr.Addr()
	rc.Storage.Redis.Prefix = "tb:"
	b, err = Open(ctx, t.TempDir(), rc, nil)
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	defer b.Close()
	b.Engine.Delete(ctx, "1")
	raw, err := mr.Get("tb:" + rc.Storage.Keys.Deleted)
	if err != nil || raw == "[]" {
		t.Fatalf("expected history in redis, got %q err=%v", raw, err)
	}
}

func TestOpenBadgerDefaultsToWorkspace(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Backend = "badger"
	b, err := Open(ctx, ws, cfg, nil)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	defer b.Close()
	if _, err := os.Stat(filepath.Join(ws, ".taskboard", "badger")); err != nil {
		t.Fatalf("expected badger dir in workspace: %v", err)
	}
}

func TestLoadEnvAndResolveConfig(t *testing.T) {
	ws := t.TempDir()
	if err := LoadEnv(ws); err != nil {
		t.Fatalf("missing .env should be fine: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws, ".env"), []byte("TASKBOARD_TEST_ENV=loaded\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TASKBOARD_TEST_ENV", "")
	os.Unsetenv("TASKBOARD_TEST_ENV")
	if err := LoadEnv(ws); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("TASKBOARD_TEST_ENV"); got != "loaded" {
		t.Fatalf("expected env loaded, got %q", got)
	}

	if err := os.WriteFile(config.Path(ws), []byte("storage:\n  backend: nope\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ResolveConfig(ws); err == nil {
		t.Fatalf("expected invalid backend to fail")
	}
}
