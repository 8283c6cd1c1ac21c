// Package file persists one exam's leaderboard as a single JSON document,
// rewritten in full after every recorded answer. A flock around each
// read-modify-write cycle keeps two adapter processes sharing the same data
// directory from silently dropping each other's writes.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cert-quiz-service/internal/domain"
	"github.com/gofrs/flock"
)

// document matches the external leaderboard format:
// server_id -> user_id -> stats.
type document map[string]map[string]*domain.UserStats

// LeaderboardStore is a file-backed engine.LeaderboardStore.
type LeaderboardStore struct {
	path  string
	lock  *flock.Flock
	clock func() time.Time
}

// NewLeaderboardStore stores the exam's leaderboard at
// <dataDir>/<exam>_leaderboard.json.
func NewLeaderboardStore(dataDir, exam string) *LeaderboardStore {
	path := filepath.Join(dataDir, exam+"_leaderboard.json")
	return &LeaderboardStore{
		path:  path,
		lock:  flock.New(path + ".lock"),
		clock: time.Now,
	}
}

func (s *LeaderboardStore) RecordAnswer(ctx context.Context, serverID, userID, username string, q domain.Question, correct bool) (domain.UserStats, error) {
	if _, err := s.lock.TryLockContext(ctx, 25*time.Millisecond); err != nil {
		return domain.UserStats{}, fmt.Errorf("lock leaderboard: %w", err)
	}
	defer s.lock.Unlock()

	doc, err := s.read()
	if err != nil {
		return domain.UserStats{}, err
	}

	users, ok := doc[serverID]
	if !ok {
		users = make(map[string]*domain.UserStats)
		doc[serverID] = users
	}
	stats, ok := users[userID]
	if !ok {
		stats = &domain.UserStats{}
		users[userID] = stats
	}
	stats.Username = username
	stats.Apply(q, correct, s.clock())

	if err := s.write(doc); err != nil {
		return domain.UserStats{}, err
	}
	out := *stats
	out.UserID = userID
	return out, nil
}

func (s *LeaderboardStore) ServerStats(ctx context.Context, serverID string) ([]domain.UserStats, error) {
	doc, err := s.readShared(ctx)
	if err != nil {
		return nil, err
	}
	users := doc[serverID]
	out := make([]domain.UserStats, 0, len(users))
	for userID, stats := range users {
		entry := *stats
		entry.UserID = userID
		out = append(out, entry)
	}
	return out, nil
}

func (s *LeaderboardStore) UserStats(ctx context.Context, serverID, userID string) (domain.UserStats, bool, error) {
	doc, err := s.readShared(ctx)
	if err != nil {
		return domain.UserStats{}, false, err
	}
	stats, ok := doc[serverID][userID]
	if !ok {
		return domain.UserStats{}, false, nil
	}
	out := *stats
	out.UserID = userID
	return out, true, nil
}

func (s *LeaderboardStore) GlobalStats(ctx context.Context) (domain.GlobalStats, error) {
	doc, err := s.readShared(ctx)
	if err != nil {
		return domain.GlobalStats{}, err
	}
	global := domain.GlobalStats{Servers: len(doc)}
	for _, users := range doc {
		global.Users += len(users)
		for _, stats := range users {
			global.Answers += stats.Total
			global.Correct += stats.Correct
		}
	}
	return global, nil
}

func (s *LeaderboardStore) readShared(ctx context.Context) (document, error) {
	if _, err := s.lock.TryRLockContext(ctx, 25*time.Millisecond); err != nil {
		return nil, fmt.Errorf("lock leaderboard: %w", err)
	}
	defer s.lock.Unlock()
	return s.read()
}

func (s *LeaderboardStore) read() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			// First run for this exam: empty leaderboard.
			return make(document), nil
		}
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}
	doc := make(document)
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse leaderboard: %w", err)
	}
	return doc, nil
}

// write replaces the whole document atomically via rename so readers never
// see a torn file.
func (s *LeaderboardStore) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode leaderboard: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write leaderboard: %w", err)
	}
	return os.Rename(tmp, s.path)
}
