package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LeaderboardEntry is one row of a published standings snapshot.
type LeaderboardEntry struct {
	ParticipantID string `json:"participant_id"`
	UserID        string `json:"user_id"`
	Rank          int    `json:"rank"`
	Metric        string `json:"metric"`
	Qualified     bool   `json:"qualified"`
}

// Leaderboard publishes live standings snapshots to Redis: a sorted set
// for rank lookups plus a JSON document for full reads. Publishing is
// best-effort; a nil Leaderboard is a no-op.
type Leaderboard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLeaderboard(rdb *redis.Client, ttl time.Duration) *Leaderboard {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Leaderboard{rdb: rdb, ttl: ttl}
}

func leaderboardKey(competitionID string) string {
	return fmt.Sprintf("leaderboard:%s", competitionID)
}

func leaderboardDocKey(competitionID string) string {
	return fmt.Sprintf("leaderboard:%s:doc", competitionID)
}

func (l *Leaderboard) Publish(ctx context.Context, competitionID string, entries []LeaderboardEntry) error {
	if l == nil || l.rdb == nil {
		return nil
	}
	doc, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	key := leaderboardKey(competitionID)
	members := make([]redis.Z, 0, len(entries))
	for _, e := range entries {
		members = append(members, redis.Z{Score: float64(e.Rank), Member: e.ParticipantID})
	}

	pipe := l.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(members) > 0 {
		pipe.ZAdd(ctx, key, members...)
	}
	pipe.Expire(ctx, key, l.ttl)
	pipe.Set(ctx, leaderboardDocKey(competitionID), doc, l.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Read returns the last published snapshot, if any.
func (l *Leaderboard) Read(ctx context.Context, competitionID string) ([]LeaderboardEntry, error) {
	if l == nil || l.rdb == nil {
		return nil, nil
	}
	data, err := l.rdb.Get(ctx, leaderboardDocKey(competitionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var entries []LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
