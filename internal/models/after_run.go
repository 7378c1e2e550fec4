package models

import "time"

// AfterRunPicture is a photo uploaded once a run has finished.
type AfterRunPicture struct {
	ID        uint      `gorm:"primaryKey" json:"after_run_picture_id"`
	PostID    uint      `gorm:"not null;index" json:"post_id"`
	Post      *Post     `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
	UserID    uint      `gorm:"not null" json:"user_id"`
	URL       string    `gorm:"not null" json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Like is a user's reaction to an after-run picture.
type Like struct {
	ID                uint             `gorm:"primaryKey" json:"id"`
	AfterRunPictureID uint             `gorm:"not null;uniqueIndex:idx_likes_picture_user" json:"after_run_picture_id"`
	AfterRunPicture   *AfterRunPicture `gorm:"foreignKey:AfterRunPictureID;constraint:OnDelete:CASCADE" json:"-"`
	UserID            uint             `gorm:"not null;uniqueIndex:idx_likes_picture_user" json:"user_id"`
	CreatedAt         time.Time        `json:"created_at"`
}
