package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCursorUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertCursor(ctx, "src1", 10, "hashA"); err != nil {
		t.Fatalf("upsert cursor: %v", err)
	}
	h, hash, ok, err := store.GetCursor(ctx, "src1")
	if err != nil || !ok {
		t.Fatalf("get cursor failed err=%v ok=%v", err, ok)
	}
	if h != 10 || hash != "hashA" {
		t.Fatalf("unexpected cursor: %d %s", h, hash)
	}

	if err := store.UpsertCursor(ctx, "src1", 20, "hashB"); err != nil {
		t.Fatalf("upsert cursor update: %v", err)
	}
	h, hash, ok, err = store.GetCursor(ctx, "src1")
	if err != nil || !ok || h != 20 || hash != "hashB" {
		t.Fatalf("cursor not updated: %d %s err=%v ok=%v", h, hash, err, ok)
	}

	_, _, ok, err = store.GetCursor(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("expected no cursor, ok=%v err=%v", ok, err)
	}
}

func TestListCursors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"b_src", "a_src"} {
		if err := store.UpsertCursor(ctx, id, 5, "h"); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	cursors, err := store.ListCursors(ctx)
	if err != nil {
		t.Fatalf("list cursors: %v", err)
	}
	if len(cursors) != 2 || cursors[0].SourceID != "a_src" || cursors[1].SourceID != "b_src" {
		t.Fatalf("unexpected cursors: %+v", cursors)
	}
	if cursors[0].UpdatedAt.IsZero() {
		t.Fatalf("expected updated_at to be set")
	}
}

func TestDedupeTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.MarkDedupe(ctx, "k1", now.Add(1*time.Second)); err != nil {
		t.Fatalf("mark dedupe: %v", err)
	}
	dup, err := store.IsDuplicate(ctx, "k1", now)
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if !dup {
		t.Fatalf("expected duplicate before expiry")
	}

	later := now.Add(2 * time.Second)
	dup, err = store.IsDuplicate(ctx, "k1", later)
	if err != nil {
		t.Fatalf("is duplicate later: %v", err)
	}
	if dup {
		t.Fatalf("expected non-duplicate after expiry")
	}
}

func TestExactlyOnceFinding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	f := Finding{
		ID:        "f1",
		RuleID:    "r1",
		SourceID:  "evm_main",
		Subject:   "0xabc",
		Height:    12,
		Name:      "Wrapped Ether",
		Symbol:    "WETH",
		Verified:  true,
		CreatedAt: time.Now(),
	}

	if err := store.InsertFinding(ctx, f); err != nil {
		t.Fatalf("insert finding: %v", err)
	}
	if err := store.InsertFinding(ctx, f); err == nil {
		t.Fatalf("expected duplicate finding insert to fail")
	}

	got, err := store.ListFindings(ctx, 0)
	if err != nil {
		t.Fatalf("list findings: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(got))
	}
	if got[0].Name != "Wrapped Ether" || got[0].Symbol != "WETH" || !got[0].Verified || got[0].Height != 12 {
		t.Fatalf("unexpected finding: %+v", got[0])
	}
}

func TestInsertSendOncePerSink(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.InsertFinding(ctx, Finding{ID: "f1", RuleID: "r1", SourceID: "s", Subject: "0x1", Name: "A Coin", Symbol: "AC"}); err != nil {
		t.Fatalf("insert finding: %v", err)
	}
	send := Send{FindingID: "f1", SinkID: "console", Status: "ok"}
	if err := store.InsertSend(ctx, send); err != nil {
		t.Fatalf("insert send: %v", err)
	}
	if err := store.InsertSend(ctx, send); err == nil {
		t.Fatalf("expected duplicate send insert to fail")
	}
	if err := store.InsertSend(ctx, Send{FindingID: "f1", SinkID: "hook", Status: "error", Error: "status 502"}); err != nil {
		t.Fatalf("insert second sink: %v", err)
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	store.Close()
	if err := store.Ping(ctx); err == nil {
		t.Fatalf("expected ping to fail after close")
	}
}
