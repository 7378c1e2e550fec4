package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a runner registered with the service.
type User struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Nickname        string         `gorm:"size:50;not null" json:"nickname"`
	Email           string         `gorm:"unique;not null" json:"email"`
	Gender          string         `gorm:"size:16" json:"gender"`
	ProfileImageURL string         `json:"profile_image_url"`
	LastLat         *float64       `json:"last_lat,omitempty"`
	LastLng         *float64       `json:"last_lng,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}
