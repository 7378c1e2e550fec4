// Package notifications publishes run lifecycle events over Redis pub/sub.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Run event types.
const (
	EventParticipantJoined   = "participant_joined"
	EventParticipantLeft     = "participant_left"
	EventParticipantStarted  = "participant_started"
	EventParticipantFinished = "participant_finished"
	EventPostDeparted        = "post_departed"
	EventPostArrived         = "post_arrived"
	EventRankingUpdated      = "ranking_updated"
)

// RunEvent is the payload published on a post channel.
type RunEvent struct {
	Type       string    `json:"type"`
	PostID     uint      `json:"post_id"`
	UserID     uint      `json:"user_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier provides helpers to publish notifications into Redis channels.
// A Notifier with a nil client drops every message.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishUser sends a notification payload to a user's channel.
func (n *Notifier) PublishUser(ctx context.Context, userID uint, payload string) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, UserChannel(userID), payload).Err()
}

// PublishRunEvent sends ev to the post's channel.
func (n *Notifier) PublishRunEvent(ctx context.Context, ev RunEvent) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	return n.rdb.Publish(ctx, PostChannel(ev.PostID), string(payload)).Err()
}

// PublishRankingUpdated announces a rebuilt leaderboard.
func (n *Notifier) PublishRankingUpdated(ctx context.Context, year, month, ranked int) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(map[string]interface{}{
		"type":   EventRankingUpdated,
		"year":   year,
		"month":  month,
		"ranked": ranked,
	})
	if err != nil {
		return fmt.Errorf("marshal ranking event: %w", err)
	}
	return n.rdb.Publish(ctx, RankingChannel, string(payload)).Err()
}

// RankingChannel carries leaderboard rebuild announcements.
const RankingChannel = "runs:ranking"

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID uint) string {
	return "notifications:user:" + strconv.FormatUint(uint64(userID), 10)
}

// PostChannel derives the Redis channel name for a post.
func PostChannel(postID uint) string {
	return "runs:post:" + strconv.FormatUint(uint64(postID), 10)
}
