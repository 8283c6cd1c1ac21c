package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cert-quiz-service/internal/adapter"
	goredis "github.com/redis/go-redis/v9"
)

// ActiveQuizStore persists in-flight quizzes so a restarted adapter can still
// honor their reveal deadlines.
//
// Keys:
//
//	aq:{platform}             set of message ids
//	aq:{platform}:{messageID} JSON snapshot, expiring shortly after the deadline
type ActiveQuizStore struct {
	client *goredis.Client
	grace  time.Duration
	clock  func() time.Time
}

func NewActiveQuizStore(client *goredis.Client) *ActiveQuizStore {
	return &ActiveQuizStore{client: client, grace: time.Minute, clock: time.Now}
}

func indexKey(platform string) string { return "aq:" + platform }
func snapKey(platform, messageID string) string {
	return "aq:" + platform + ":" + messageID
}

func (s *ActiveQuizStore) Save(ctx context.Context, snap adapter.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode active quiz: %w", err)
	}
	ttl := snap.Deadline.Sub(s.clock()) + s.grace
	if ttl <= 0 {
		ttl = s.grace
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, snapKey(snap.Platform, snap.MessageID), data, ttl)
	pipe.SAdd(ctx, indexKey(snap.Platform), snap.MessageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save active quiz: %w", err)
	}
	return nil
}

func (s *ActiveQuizStore) Delete(ctx context.Context, platform, messageID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, snapKey(platform, messageID))
	pipe.SRem(ctx, indexKey(platform), messageID)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns every stored snapshot for the platform, pruning index entries
// whose snapshot already expired.
func (s *ActiveQuizStore) List(ctx context.Context, platform string) ([]adapter.Snapshot, error) {
	messageIDs, err := s.client.SMembers(ctx, indexKey(platform)).Result()
	if err != nil {
		return nil, fmt.Errorf("list active quizzes: %w", err)
	}

	var snaps []adapter.Snapshot
	for _, messageID := range messageIDs {
		data, err := s.client.Get(ctx, snapKey(platform, messageID)).Bytes()
		if err == goredis.Nil {
			_ = s.client.SRem(ctx, indexKey(platform), messageID).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		var snap adapter.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("decode active quiz %s: %w", messageID, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}
