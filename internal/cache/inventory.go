package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	UserKeyPrefix     = "user:%d"
	PostKeyPrefix     = "post:%d"
	RankPageKeyPrefix = "rank:%04d%02d:page:%d:%d"
	RankMonthPattern  = "rank:%04d%02d:*"
	RankLockKeyPrefix = "rankjob:lock:%04d%02d"
	LocationKeyPrefix = "location:post:%d"
)

const (
	UserTTL     = 5 * time.Minute
	PostTTL     = 30 * time.Second
	RankTTL     = 10 * time.Minute
	RankLockTTL = 10 * time.Minute
	LocationTTL = 6 * time.Hour
)

func UserKey(userID uint) string {
	return fmt.Sprintf(UserKeyPrefix, userID)
}

func PostKey(postID uint) string {
	return fmt.Sprintf(PostKeyPrefix, postID)
}

func RankPageKey(year, month, page, size int) string {
	return fmt.Sprintf(RankPageKeyPrefix, year, month, page, size)
}

func RankLockKey(year, month int) string {
	return fmt.Sprintf(RankLockKeyPrefix, year, month)
}

func LocationKey(postID uint) string {
	return fmt.Sprintf(LocationKeyPrefix, postID)
}

func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

func InvalidatePost(ctx context.Context, postID uint) {
	Invalidate(ctx, PostKey(postID))
}

// InvalidateRankMonth drops every cached ranking page of one month.
func InvalidateRankMonth(ctx context.Context, year, month int) {
	if client == nil {
		return
	}
	iter := client.Scan(ctx, 0, fmt.Sprintf(RankMonthPattern, year, month), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		client.Del(ctx, keys...)
	}
}
