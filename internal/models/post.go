// Package models contains data structures for the application's domain models.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PostState is the lifecycle stage of a run post.
type PostState string

const (
	PostStateFormed   PostState = "FORMED"
	PostStateDeparted PostState = "DEPARTED"
	PostStateArrived  PostState = "ARRIVED"
)

// Coordinate is a single point on a planned route.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RoutePath is an ordered list of coordinates stored as JSON text.
type RoutePath []Coordinate

// Value implements driver.Valuer.
func (p RoutePath) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *RoutePath) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*p = RoutePath{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported route path type %T", value)
	}
	if len(raw) == 0 {
		*p = RoutePath{}
		return nil
	}
	return json.Unmarshal(raw, p)
}

// Post is a scheduled group run.
type Post struct {
	ID             uint      `gorm:"primaryKey" json:"post_id"`
	AdminID        uint      `gorm:"not null;index" json:"admin_id"`
	Admin          *User     `gorm:"foreignKey:AdminID" json:"-"`
	Title          string    `gorm:"not null" json:"title"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	LimitMemberCnt int       `gorm:"not null" json:"limit_member_cnt"`
	Gender         *string   `gorm:"size:16" json:"gender,omitempty"`
	StartDateTime  time.Time `gorm:"not null;index" json:"start_date_time"`
	StartPosition  string    `gorm:"not null" json:"start_position"`
	Distance       float64   `gorm:"not null" json:"distance"`
	PaceMin        int       `gorm:"not null" json:"pace_min"`
	PaceSec        int       `gorm:"not null" json:"pace_sec"`
	Path           RoutePath `gorm:"type:text;not null" json:"path"`
	Departed       bool      `gorm:"not null;default:false" json:"departure_yn"`
	Arrived        bool      `gorm:"not null;default:false" json:"arrive_yn"`
	Lat            float64   `gorm:"not null;index:idx_posts_lat_lng" json:"center_lat"`
	Lng            float64   `gorm:"not null;index:idx_posts_lat_lng" json:"center_lng"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// State derives the lifecycle stage from the departed/arrived flags.
func (p *Post) State() PostState {
	switch {
	case p.Arrived:
		return PostStateArrived
	case p.Departed:
		return PostStateDeparted
	default:
		return PostStateFormed
	}
}

// PacePerKm returns the planned pace in fractional minutes.
func (p *Post) PacePerKm() float64 {
	return float64(p.PaceMin) + float64(p.PaceSec)/60.0
}

// Editable reports whether the post may still be modified or deleted.
func (p *Post) Editable() error {
	if p.Departed {
		return NewConflictError(fmt.Sprintf("post %d has already started", p.ID))
	}
	if p.Arrived {
		return NewConflictError(fmt.Sprintf("post %d has already completed", p.ID))
	}
	return nil
}

// Validate checks the organizer-supplied fields of a post.
func (p *Post) Validate() error {
	const maxTitleLen = 100
	switch {
	case p.Title == "":
		return NewValidationError("title is required")
	case len(p.Title) > maxTitleLen:
		return NewValidationError("title too long (max 100 characters)")
	case p.Content == "":
		return NewValidationError("content is required")
	case p.LimitMemberCnt <= 0:
		return NewValidationError("limit_member_cnt must be positive")
	case p.StartPosition == "":
		return NewValidationError("start_position is required")
	case p.Distance <= 0:
		return NewValidationError("distance must be positive")
	case p.PaceMin < 0 || p.PaceSec < 0 || p.PaceSec >= 60:
		return NewValidationError("pace must be minutes and seconds (0-59)")
	case p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180:
		return NewValidationError("center coordinates out of range")
	case p.StartDateTime.IsZero():
		return NewValidationError("start_date_time is required")
	case p.Gender != nil && *p.Gender == "":
		return NewValidationError("gender must be omitted or non-empty")
	}
	return nil
}
