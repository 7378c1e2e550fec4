package models

import "time"

// ParticipationState is the lifecycle stage of a single participation.
type ParticipationState string

const (
	ParticipationJoined      ParticipationState = "JOINED"
	ParticipationStarted     ParticipationState = "STARTED"
	ParticipationFinished    ParticipationState = "FINISHED"
	ParticipationInvalidated ParticipationState = "INVALIDATED"
)

// UserPost records one user's participation in one post.
//
// At most one valid row exists per (UserID, PostID). Invalidated rows are
// kept; they are only removed together with their post.
type UserPost struct {
	ID              uint       `gorm:"primaryKey" json:"user_post_id"`
	UserID          uint       `gorm:"not null;index:idx_user_posts_user_valid" json:"user_id"`
	User            *User      `gorm:"foreignKey:UserID" json:"-"`
	PostID          uint       `gorm:"not null;index:idx_user_posts_post_valid" json:"post_id"`
	Post            *Post      `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
	Valid           bool       `gorm:"not null;default:true;index:idx_user_posts_user_valid;index:idx_user_posts_post_valid;index:idx_user_posts_month" json:"valid_yn"`
	TotalDistance   float64    `gorm:"not null" json:"total_distance"`
	ActualStartTime *time.Time `json:"actual_start_time,omitempty"`
	ActualEndTime   *time.Time `json:"actual_end_time,omitempty"`
	// RunningDuration is whole seconds between start and end.
	RunningDuration *int64    `json:"running_duration,omitempty"`
	Year            int       `gorm:"not null;index:idx_user_posts_month" json:"year"`
	Month           int       `gorm:"not null;index:idx_user_posts_month" json:"month"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// State derives the participation stage from its fields.
func (up *UserPost) State() ParticipationState {
	switch {
	case !up.Valid:
		return ParticipationInvalidated
	case up.ActualEndTime != nil:
		return ParticipationFinished
	case up.ActualStartTime != nil:
		return ParticipationStarted
	default:
		return ParticipationJoined
	}
}

// Completed reports whether the participation counts toward rankings.
func (up *UserPost) Completed() bool {
	return up.Valid && up.ActualEndTime != nil && up.RunningDuration != nil
}
