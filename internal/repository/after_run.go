package repository

import (
	"context"
	"errors"
	"fmt"

	"runnersmap/internal/models"

	"gorm.io/gorm"
)

// AfterRunSummary is the latest photo of a finished run and its like count.
type AfterRunSummary struct {
	PictureID uint   `json:"after_run_picture_id"`
	URL       string `json:"after_run_picture_url"`
	LikeCount int64  `json:"like_count"`
}

// AfterRunRepository reads after-run photos. Uploads are handled elsewhere.
type AfterRunRepository interface {
	Create(ctx context.Context, pic *models.AfterRunPicture) error
	LatestForPost(ctx context.Context, postID uint) (*AfterRunSummary, error)
}

type afterRunRepository struct {
	scoped
}

// NewAfterRunRepository returns a new AfterRunRepository implementation.
func NewAfterRunRepository(db *gorm.DB) AfterRunRepository {
	return &afterRunRepository{scoped{db: db}}
}

func (r *afterRunRepository) Create(ctx context.Context, pic *models.AfterRunPicture) error {
	if err := r.db.WithContext(ctx).Create(pic).Error; err != nil {
		return fmt.Errorf("create after-run picture: %w", err)
	}
	return nil
}

// LatestForPost returns nil without error when the post has no photo.
func (r *afterRunRepository) LatestForPost(ctx context.Context, postID uint) (*AfterRunSummary, error) {
	db := r.reader().WithContext(ctx)

	var pic models.AfterRunPicture
	err := db.Where("post_id = ?", postID).
		Order("created_at DESC").
		Order("id DESC").
		First(&pic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest after-run picture of post %d: %w", postID, err)
	}

	var likes int64
	if err := db.Model(&models.Like{}).Where("after_run_picture_id = ?", pic.ID).Count(&likes).Error; err != nil {
		return nil, fmt.Errorf("count likes of picture %d: %w", pic.ID, err)
	}
	return &AfterRunSummary{PictureID: pic.ID, URL: pic.URL, LikeCount: likes}, nil
}
