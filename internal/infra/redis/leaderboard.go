// Package redis backs the quiz engine with Redis. The leaderboard store keeps
// one hash per user with HIncrBy-maintained counters plus a per-server ZSet
// ranking index, so independent adapter processes can record answers without
// the lost-update race of a shared document rewrite.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cert-quiz-service/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// LeaderboardStore is a Redis-backed engine.LeaderboardStore for one exam.
//
// Keys:
//
//	lb:{exam}:servers            set of server ids
//	lb:{exam}:{server}:users     set of user ids
//	lb:{exam}:{server}:rank      zset user id -> correct count
//	lb:{exam}:{server}:user:{id} hash of counters and metadata
//	lb:{exam}:global             hash of answers/correct totals
type LeaderboardStore struct {
	client *goredis.Client
	exam   string
	clock  func() time.Time
}

func NewLeaderboardStore(client *goredis.Client, exam string) *LeaderboardStore {
	return &LeaderboardStore{client: client, exam: exam, clock: time.Now}
}

func (s *LeaderboardStore) serversKey() string { return "lb:" + s.exam + ":servers" }
func (s *LeaderboardStore) globalKey() string  { return "lb:" + s.exam + ":global" }
func (s *LeaderboardStore) usersKey(serverID string) string {
	return "lb:" + s.exam + ":" + serverID + ":users"
}
func (s *LeaderboardStore) rankKey(serverID string) string {
	return "lb:" + s.exam + ":" + serverID + ":rank"
}
func (s *LeaderboardStore) userKey(serverID, userID string) string {
	return "lb:" + s.exam + ":" + serverID + ":user:" + userID
}

func (s *LeaderboardStore) RecordAnswer(ctx context.Context, serverID, userID, username string, q domain.Question, correct bool) (domain.UserStats, error) {
	userKey := s.userKey(serverID, userID)

	// Streak transitions depend on the current value; everything else is a
	// plain increment. Concurrent writers for the same user are already
	// serialized upstream by the per-process answer flow.
	current, err := s.client.HMGet(ctx, userKey, "streak", "best_streak", "joined").Result()
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("read streak: %w", err)
	}
	streak := parseIntField(current[0])
	bestStreak := parseIntField(current[1])
	joined, _ := current[2].(string)

	if correct {
		streak++
		if streak > bestStreak {
			bestStreak = streak
		}
	} else {
		streak = 0
	}

	now := s.clock()
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.serversKey(), serverID)
	pipe.SAdd(ctx, s.usersKey(serverID), userID)
	fields := map[string]interface{}{
		"username":    username,
		"streak":      streak,
		"best_streak": bestStreak,
		"last_answer": now.UTC().Format(time.RFC3339Nano),
	}
	if joined == "" {
		fields["joined"] = now.UTC().Format(time.RFC3339Nano)
	}
	pipe.HSet(ctx, userKey, fields)
	pipe.HIncrBy(ctx, userKey, "total", 1)
	pipe.HIncrBy(ctx, userKey, "sec:"+q.Section+":total", 1)
	pipe.HIncrBy(ctx, userKey, "diff:"+string(q.Difficulty)+":total", 1)
	pipe.HIncrBy(ctx, s.globalKey(), "answers", 1)
	if correct {
		pipe.HIncrBy(ctx, userKey, "correct", 1)
		pipe.HIncrBy(ctx, userKey, "sec:"+q.Section+":correct", 1)
		pipe.HIncrBy(ctx, userKey, "diff:"+string(q.Difficulty)+":correct", 1)
		pipe.HIncrBy(ctx, s.globalKey(), "correct", 1)
		pipe.ZIncrBy(ctx, s.rankKey(serverID), 1, userID)
	} else {
		pipe.ZAddNX(ctx, s.rankKey(serverID), goredis.Z{Score: 0, Member: userID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.UserStats{}, fmt.Errorf("record answer: %w", err)
	}

	stats, _, err := s.UserStats(ctx, serverID, userID)
	return stats, err
}

func (s *LeaderboardStore) UserStats(ctx context.Context, serverID, userID string) (domain.UserStats, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.userKey(serverID, userID)).Result()
	if err != nil {
		return domain.UserStats{}, false, fmt.Errorf("read user stats: %w", err)
	}
	if len(fields) == 0 {
		return domain.UserStats{}, false, nil
	}
	return statsFromHash(userID, fields), true, nil
}

// ServerStats hydrates every user hash for a server, highest correct count
// first per the rank index. Callers still run the full tiebreak sort on top.
func (s *LeaderboardStore) ServerStats(ctx context.Context, serverID string) ([]domain.UserStats, error) {
	userIDs, err := s.client.ZRevRange(ctx, s.rankKey(serverID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(userIDs))
	for i, userID := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, s.userKey(serverID, userID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read server stats: %w", err)
	}

	out := make([]domain.UserStats, 0, len(userIDs))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		out = append(out, statsFromHash(userIDs[i], fields))
	}
	return out, nil
}

func (s *LeaderboardStore) GlobalStats(ctx context.Context) (domain.GlobalStats, error) {
	serverIDs, err := s.client.SMembers(ctx, s.serversKey()).Result()
	if err != nil {
		return domain.GlobalStats{}, fmt.Errorf("list servers: %w", err)
	}

	global := domain.GlobalStats{Servers: len(serverIDs)}
	for _, serverID := range serverIDs {
		count, err := s.client.SCard(ctx, s.usersKey(serverID)).Result()
		if err != nil {
			return domain.GlobalStats{}, err
		}
		global.Users += int(count)
	}

	totals, err := s.client.HGetAll(ctx, s.globalKey()).Result()
	if err != nil {
		return domain.GlobalStats{}, err
	}
	global.Answers, _ = strconv.Atoi(totals["answers"])
	global.Correct, _ = strconv.Atoi(totals["correct"])
	return global, nil
}

func statsFromHash(userID string, fields map[string]string) domain.UserStats {
	stats := domain.UserStats{
		UserID:     userID,
		Username:   fields["username"],
		Correct:    atoi(fields["correct"]),
		Total:      atoi(fields["total"]),
		Streak:     atoi(fields["streak"]),
		BestStreak: atoi(fields["best_streak"]),
	}
	stats.LastAnswer, _ = time.Parse(time.RFC3339Nano, fields["last_answer"])
	stats.Joined, _ = time.Parse(time.RFC3339Nano, fields["joined"])

	for field, value := range fields {
		parts := strings.Split(field, ":")
		if len(parts) != 3 {
			continue
		}
		var buckets map[string]*domain.TagStats
		switch parts[0] {
		case "sec":
			if stats.BySection == nil {
				stats.BySection = make(map[string]*domain.TagStats)
			}
			buckets = stats.BySection
		case "diff":
			if stats.ByDifficulty == nil {
				stats.ByDifficulty = make(map[string]*domain.TagStats)
			}
			buckets = stats.ByDifficulty
		default:
			continue
		}
		entry, ok := buckets[parts[1]]
		if !ok {
			entry = &domain.TagStats{}
			buckets[parts[1]] = entry
		}
		switch parts[2] {
		case "correct":
			entry.Correct = atoi(value)
		case "total":
			entry.Total = atoi(value)
		}
	}
	return stats
}

func parseIntField(v interface{}) int {
	raw, ok := v.(string)
	if !ok {
		return 0
	}
	return atoi(raw)
}

func atoi(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}
