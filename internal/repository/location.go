package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"runnersmap/internal/cache"

	"github.com/redis/go-redis/v9"
)

// LocationFix is the latest reported position of one runner in a group.
type LocationFix struct {
	UserID     uint      `json:"user_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	ReportedAt time.Time `json:"reported_at"`
}

// LocationStore keeps the latest fix per participant in a Redis hash per post.
type LocationStore interface {
	Update(ctx context.Context, postID uint, fix LocationFix) error
	Latest(ctx context.Context, postID uint) ([]LocationFix, error)
}

type redisLocationStore struct {
	client *redis.Client
}

// NewLocationStore returns a LocationStore backed by client. A nil client
// makes every call fail with cache.ErrNoClient.
func NewLocationStore(client *redis.Client) LocationStore {
	return &redisLocationStore{client: client}
}

func (s *redisLocationStore) Update(ctx context.Context, postID uint, fix LocationFix) error {
	if s.client == nil {
		return cache.ErrNoClient
	}
	b, err := json.Marshal(fix)
	if err != nil {
		return err
	}
	key := cache.LocationKey(postID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.FormatUint(uint64(fix.UserID), 10), b)
	pipe.Expire(ctx, key, cache.LocationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store location of user %d in post %d: %w", fix.UserID, postID, err)
	}
	return nil
}

// Latest returns one fix per user ordered by user id.
func (s *redisLocationStore) Latest(ctx context.Context, postID uint) ([]LocationFix, error) {
	if s.client == nil {
		return nil, cache.ErrNoClient
	}
	raw, err := s.client.HGetAll(ctx, cache.LocationKey(postID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load locations of post %d: %w", postID, err)
	}
	fixes := make([]LocationFix, 0, len(raw))
	for _, v := range raw {
		var fix LocationFix
		if err := json.Unmarshal([]byte(v), &fix); err != nil {
			continue
		}
		fixes = append(fixes, fix)
	}
	sort.Slice(fixes, func(i, j int) bool { return fixes[i].UserID < fixes[j].UserID })
	return fixes, nil
}
