package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	store, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	return store
}

func TestRedisStoreRoundtrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if rec, err := store.Get(ctx, "bob"); err != nil || rec != nil {
		t.Fatalf("empty store Get: rec=%v err=%v", rec, err)
	}

	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	exp := issued.Add(24 * time.Hour)
	in := &Record{
		Identity:  "bob",
		Reason:    "spam",
		Actor:     "admin",
		Duration:  1,
		Unit:      UnitDays,
		IssuedAt:  issued,
		ExpiresAt: &exp,
	}
	if err := store.Put(ctx, in); err != nil {
		t.Fatalf("Put: %v", err)
	}

	out, err := store.Get(ctx, "bob")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out == nil || out.Identity != "bob" || out.Reason != "spam" || out.Unit != UnitDays {
		t.Fatalf("unexpected record: %+v", out)
	}
	if out.ExpiresAt == nil || !out.ExpiresAt.Equal(exp) {
		t.Fatalf("expiry lost in roundtrip: %v", out.ExpiresAt)
	}

	if err := store.Delete(ctx, "bob"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if rec, err := store.Get(ctx, "bob"); err != nil || rec != nil {
		t.Fatalf("Get after Delete: rec=%v err=%v", rec, err)
	}
}

func TestRedisStoreList(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, id := range []string{"a", "b", "c"} {
		rec := &Record{Identity: id, Reason: "spam", Actor: "admin", Unit: UnitPermanent, IssuedAt: now}
		if err := store.Put(ctx, rec); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}
	recs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}

	if err := store.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	recs, err = store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records after delete, got %d", len(recs))
	}
}

func TestRedisStoreHealsDanglingIndex(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	store, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	ctx := context.Background()

	// index entry with no backing record
	if _, err := mr.SAdd(banIndexKey, "ghost"); err != nil {
		t.Fatalf("seed index: %v", err)
	}
	recs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("dangling index entry surfaced a record: %+v", recs)
	}
	if mr.Exists(banIndexKey) {
		members, _ := mr.Members(banIndexKey)
		if len(members) != 0 {
			t.Fatalf("index not healed: %v", members)
		}
	}
}

func TestRedisStoreURLValidation(t *testing.T) {
	if _, err := NewRedisStore(""); err == nil {
		t.Fatalf("empty url accepted")
	}
	if _, err := NewRedisStore("http://localhost:6379"); err == nil {
		t.Fatalf("non-redis scheme accepted")
	}
}

func TestLedgerOverRedisStore(t *testing.T) {
	store := newTestRedisStore(t)
	clock := newFakeClock()
	l := NewLedger(store, []string{"admin"}, nil, "", WithClock(clock.Now))
	ctx := context.Background()

	if _, err := l.Ban(ctx, "admin", "carol", "griefing", 1, "days"); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if !l.IsActive(ctx, "carol") {
		t.Fatalf("ban not visible through redis store")
	}
	clock.Advance(25 * time.Hour)
	if l.IsActive(ctx, "carol") {
		t.Fatalf("expired ban still active through redis store")
	}
	if rec, err := store.Get(ctx, "carol"); err != nil || rec != nil {
		t.Fatalf("lazy expiry must delete the record: rec=%v err=%v", rec, err)
	}
}
