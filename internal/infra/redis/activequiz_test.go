package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"cert-quiz-service/internal/adapter"
)

func newQuizStore(t *testing.T) (*ActiveQuizStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return NewActiveQuizStore(client), mr
}

func testSnapshot(messageID string, deadline time.Time) adapter.Snapshot {
	quiz := adapter.NewActiveQuiz("discord", "cpa", "s1", "c1", messageID, testQuestion(), deadline)
	_ = quiz.RecordAnswer("u1", "alice", 2)
	return quiz.Snapshot()
}

func TestSaveAndList(t *testing.T) {
	store, _ := newQuizStore(t)
	ctx := context.Background()
	deadline := time.Now().Add(30 * time.Second)

	if err := store.Save(ctx, testSnapshot("m1", deadline)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, testSnapshot("m2", deadline)); err != nil {
		t.Fatalf("save: %v", err)
	}

	snaps, err := store.List(ctx, "discord")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}

	var found bool
	for _, snap := range snaps {
		if snap.MessageID == "m1" {
			found = true
			if snap.Answers["u1"] != 2 {
				t.Fatalf("answers lost in round trip: %+v", snap.Answers)
			}
			if snap.Exam != "cpa" || snap.ServerID != "s1" {
				t.Fatalf("metadata lost in round trip: %+v", snap)
			}
		}
	}
	if !found {
		t.Fatalf("snapshot m1 missing from list")
	}
}

func TestListScopedToPlatform(t *testing.T) {
	store, _ := newQuizStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSnapshot("m1", time.Now().Add(time.Minute))); err != nil {
		t.Fatalf("save: %v", err)
	}
	snaps, err := store.List(ctx, "telegram")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 0 {
		t.Fatalf("telegram list should be empty, got %d", len(snaps))
	}
}

func TestDelete(t *testing.T) {
	store, mr := newQuizStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSnapshot("m1", time.Now().Add(time.Minute))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, "discord", "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("aq:discord:m1") {
		t.Fatalf("snapshot key should be gone")
	}

	snaps, err := store.List(ctx, "discord")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 0 {
		t.Fatalf("list should be empty after delete, got %d", len(snaps))
	}
}

func TestListPrunesExpired(t *testing.T) {
	store, mr := newQuizStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSnapshot("m1", time.Now().Add(time.Second))); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(5 * time.Minute)

	snaps, err := store.List(ctx, "discord")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 0 {
		t.Fatalf("expired snapshot should be pruned, got %d", len(snaps))
	}
	if members, _ := mr.SMembers("aq:discord"); len(members) != 0 {
		t.Fatalf("index entry should be pruned, got %v", members)
	}
}
