package memory

import (
	"context"
	"sync"
	"time"

	"cert-quiz-service/internal/domain"
)

// LeaderboardStore is an in-memory engine.LeaderboardStore, used in tests and
// when no persistence is configured.
type LeaderboardStore struct {
	clock func() time.Time

	mu      sync.RWMutex
	servers map[string]map[string]*domain.UserStats
}

func NewLeaderboardStore() *LeaderboardStore {
	return NewLeaderboardStoreWithClock(time.Now)
}

// NewLeaderboardStoreWithClock allows deterministic timestamps in tests.
func NewLeaderboardStoreWithClock(clock func() time.Time) *LeaderboardStore {
	return &LeaderboardStore{
		clock:   clock,
		servers: make(map[string]map[string]*domain.UserStats),
	}
}

func (s *LeaderboardStore) RecordAnswer(_ context.Context, serverID, userID, username string, q domain.Question, correct bool) (domain.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.servers[serverID]
	if !ok {
		users = make(map[string]*domain.UserStats)
		s.servers[serverID] = users
	}
	stats, ok := users[userID]
	if !ok {
		stats = &domain.UserStats{UserID: userID}
		users[userID] = stats
	}
	stats.Username = username
	stats.Apply(q, correct, s.clock())
	return cloneStats(stats), nil
}

func (s *LeaderboardStore) ServerStats(_ context.Context, serverID string) ([]domain.UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := s.servers[serverID]
	out := make([]domain.UserStats, 0, len(users))
	for _, stats := range users {
		out = append(out, cloneStats(stats))
	}
	return out, nil
}

func (s *LeaderboardStore) UserStats(_ context.Context, serverID, userID string) (domain.UserStats, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.servers[serverID][userID]
	if !ok {
		return domain.UserStats{}, false, nil
	}
	return cloneStats(stats), true, nil
}

func (s *LeaderboardStore) GlobalStats(_ context.Context) (domain.GlobalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	global := domain.GlobalStats{Servers: len(s.servers)}
	for _, users := range s.servers {
		global.Users += len(users)
		for _, stats := range users {
			global.Answers += stats.Total
			global.Correct += stats.Correct
		}
	}
	return global, nil
}

func cloneStats(stats *domain.UserStats) domain.UserStats {
	out := *stats
	out.BySection = cloneTags(stats.BySection)
	out.ByDifficulty = cloneTags(stats.ByDifficulty)
	return out
}

func cloneTags(tags map[string]*domain.TagStats) map[string]*domain.TagStats {
	if tags == nil {
		return nil
	}
	out := make(map[string]*domain.TagStats, len(tags))
	for tag, entry := range tags {
		copied := *entry
		out[tag] = &copied
	}
	return out
}
