package redis

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"cert-quiz-service/internal/domain"
)

func newTestStore(t *testing.T) (*LeaderboardStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return NewLeaderboardStore(client, "cpa"), mr
}

func testQuestion() domain.Question {
	return domain.Question{
		ID:            "q1",
		Section:       "FAR",
		Difficulty:    domain.DifficultyMedium,
		Prompt:        "Question?",
		Options:       []string{"a", "b", "c", "d"},
		CorrectAnswer: 0,
	}
}

func TestRecordAnswerCreatesKeys(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	stats, err := store.RecordAnswer(ctx, "s1", "u1", "alice", testQuestion(), true)
	if err != nil {
		t.Fatalf("record answer: %v", err)
	}
	if stats.Correct != 1 || stats.Total != 1 || stats.Streak != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if !mr.Exists("lb:cpa:s1:user:u1") {
		t.Fatalf("expected user hash to be set")
	}
	if !mr.Exists("lb:cpa:s1:rank") {
		t.Fatalf("expected rank zset to be set")
	}
	if got := mr.HGet("lb:cpa:s1:user:u1", "username"); got != "alice" {
		t.Fatalf("username = %q, want alice", got)
	}
}

func TestStreakTransitions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := testQuestion()

	for i := 0; i < 3; i++ {
		if _, err := store.RecordAnswer(ctx, "s1", "u1", "alice", q, true); err != nil {
			t.Fatalf("record answer: %v", err)
		}
	}
	stats, err := store.RecordAnswer(ctx, "s1", "u1", "alice", q, false)
	if err != nil {
		t.Fatalf("record answer: %v", err)
	}

	if stats.Correct != 3 || stats.Total != 4 {
		t.Fatalf("correct/total = %d/%d, want 3/4", stats.Correct, stats.Total)
	}
	if stats.Streak != 0 {
		t.Fatalf("streak = %d, want 0 after a wrong answer", stats.Streak)
	}
	if stats.BestStreak != 3 {
		t.Fatalf("best streak = %d, want 3", stats.BestStreak)
	}
}

func TestBucketCounters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	far := testQuestion()
	aud := testQuestion()
	aud.Section = "AUD"
	aud.Difficulty = domain.DifficultyHard

	_, _ = store.RecordAnswer(ctx, "s1", "u1", "alice", far, true)
	_, _ = store.RecordAnswer(ctx, "s1", "u1", "alice", aud, false)
	stats, _, err := store.UserStats(ctx, "s1", "u1")
	if err != nil {
		t.Fatalf("user stats: %v", err)
	}

	if got := stats.BySection["FAR"]; got == nil || got.Correct != 1 || got.Total != 1 {
		t.Fatalf("FAR bucket = %+v", got)
	}
	if got := stats.BySection["AUD"]; got == nil || got.Correct != 0 || got.Total != 1 {
		t.Fatalf("AUD bucket = %+v", got)
	}
	if got := stats.ByDifficulty["hard"]; got == nil || got.Total != 1 {
		t.Fatalf("hard bucket = %+v", got)
	}
}

func TestUserStatsNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, found, err := store.UserStats(context.Background(), "s1", "nobody")
	if err != nil {
		t.Fatalf("user stats: %v", err)
	}
	if found {
		t.Fatalf("expected found=false for unknown user")
	}
}

func TestServerStats(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := testQuestion()

	_, _ = store.RecordAnswer(ctx, "s1", "u1", "alice", q, true)
	_, _ = store.RecordAnswer(ctx, "s1", "u2", "bob", q, false)
	_, _ = store.RecordAnswer(ctx, "s2", "u3", "carol", q, true)

	users, err := store.ServerStats(ctx, "s1")
	if err != nil {
		t.Fatalf("server stats: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
}

func TestServerStatsRankOrder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := testQuestion()

	// bob: 3 correct, alice: 1 correct, carol: 0 correct.
	_, _ = store.RecordAnswer(ctx, "s1", "u1", "alice", q, true)
	for i := 0; i < 3; i++ {
		_, _ = store.RecordAnswer(ctx, "s1", "u2", "bob", q, true)
	}
	_, _ = store.RecordAnswer(ctx, "s1", "u3", "carol", q, false)

	users, err := store.ServerStats(ctx, "s1")
	if err != nil {
		t.Fatalf("server stats: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("got %d users, want 3", len(users))
	}
	if users[0].UserID != "u2" {
		t.Fatalf("first user = %s, want u2 (highest correct per rank zset)", users[0].UserID)
	}
	if users[2].UserID != "u3" {
		t.Fatalf("last user = %s, want u3 (zero correct)", users[2].UserID)
	}
}

func TestGlobalStats(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := testQuestion()

	_, _ = store.RecordAnswer(ctx, "s1", "u1", "alice", q, true)
	_, _ = store.RecordAnswer(ctx, "s1", "u2", "bob", q, false)
	_, _ = store.RecordAnswer(ctx, "s2", "u1", "alice", q, true)

	global, err := store.GlobalStats(ctx)
	if err != nil {
		t.Fatalf("global stats: %v", err)
	}
	if global.Servers != 2 {
		t.Fatalf("servers = %d, want 2", global.Servers)
	}
	if global.Users != 3 {
		t.Fatalf("users = %d, want 3 (per-server counts)", global.Users)
	}
	if global.Answers != 3 || global.Correct != 2 {
		t.Fatalf("answers/correct = %d/%d, want 3/2", global.Answers, global.Correct)
	}
}
