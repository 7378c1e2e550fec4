package repository

import (
	"context"
	"fmt"
	"time"

	"runnersmap/internal/cache"
	"runnersmap/internal/geo"
	"runnersmap/internal/models"
	"runnersmap/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostSearchFilter narrows the candidate set of a map search. Nil bounds
// are not applied.
type PostSearchFilter struct {
	Box         geo.Box
	Now         time.Time
	RecentSince time.Time

	Gender      *string
	PaceMin     *float64
	PaceMax     *float64
	DistanceMin *float64
	DistanceMax *float64
	StartFrom   *time.Time
	StartTo     *time.Time
	CapacityMin *int
	CapacityMax *int
}

// PostRepository defines the interface for post data operations
type PostRepository interface {
	WithTx(tx *gorm.DB) PostRepository
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	GetByIDForUpdate(ctx context.Context, id uint) (*models.Post, error)
	Update(ctx context.Context, post *models.Post) error
	Delete(ctx context.Context, id uint) error
	FindCandidates(ctx context.Context, filter PostSearchFilter, limit, offset int) ([]*models.Post, error)
	ExistsActiveByAdmin(ctx context.Context, adminID uint) (bool, error)
}

type postRepository struct {
	scoped
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{scoped{db: db}}
}

func (r *postRepository) WithTx(tx *gorm.DB) PostRepository {
	return &postRepository{scoped{db: tx, inTx: true}}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(post).Error; err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := r.reader().WithContext(ctx).Preload("Admin").First(&post, id).Error; err != nil {
		return nil, notFoundOr(err, "post", id)
	}
	return &post, nil
}

// GetByIDForUpdate loads the post with SELECT ... FOR UPDATE. It must be
// called on a repository bound to a transaction.
func (r *postRepository) GetByIDForUpdate(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&post, id).Error
	if err != nil {
		return nil, notFoundOr(err, "post", id)
	}
	return &post, nil
}

func (r *postRepository) Update(ctx context.Context, post *models.Post) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(post).Error; err != nil {
		return fmt.Errorf("update post %d: %w", post.ID, err)
	}
	cache.InvalidatePost(ctx, post.ID)
	return nil
}

func (r *postRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Post{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete post %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("post", id)
	}
	cache.InvalidatePost(ctx, id)
	return nil
}

// FindCandidates returns posts inside the filter box that satisfy the
// visibility window and every supplied bound, ordered by start time.
func (r *postRepository) FindCandidates(ctx context.Context, f PostSearchFilter, limit, offset int) ([]*models.Post, error) {
	defer observability.TrackQuery("select", "posts")()

	q := r.reader().WithContext(ctx).
		Preload("Admin").
		Where("lat BETWEEN ? AND ?", f.Box.MinLat, f.Box.MaxLat).
		Where("lng BETWEEN ? AND ?", f.Box.MinLng, f.Box.MaxLng).
		Where("((start_date_time >= ? AND arrived = ?) OR (start_date_time >= ? AND start_date_time <= ? AND arrived = ?))",
			f.Now, false, f.RecentSince, f.Now, true)

	if f.Gender != nil {
		q = q.Where("gender = ?", *f.Gender)
	}
	if f.PaceMin != nil {
		q = q.Where("(pace_min + pace_sec / 60.0) >= ?", *f.PaceMin)
	}
	if f.PaceMax != nil {
		q = q.Where("(pace_min + pace_sec / 60.0) <= ?", *f.PaceMax)
	}
	if f.DistanceMin != nil {
		q = q.Where("distance >= ?", *f.DistanceMin)
	}
	if f.DistanceMax != nil {
		q = q.Where("distance <= ?", *f.DistanceMax)
	}
	if f.StartFrom != nil {
		q = q.Where("start_date_time >= ?", *f.StartFrom)
	}
	if f.StartTo != nil {
		q = q.Where("start_date_time <= ?", *f.StartTo)
	}
	if f.CapacityMin != nil {
		q = q.Where("limit_member_cnt >= ?", *f.CapacityMin)
	}
	if f.CapacityMax != nil {
		q = q.Where("limit_member_cnt <= ?", *f.CapacityMax)
	}

	var posts []*models.Post
	err := q.Order("start_date_time ASC").Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("find candidate posts: %w", err)
	}
	return posts, nil
}

// ExistsActiveByAdmin reports whether the user organizes a post that has not arrived.
func (r *postRepository) ExistsActiveByAdmin(ctx context.Context, adminID uint) (bool, error) {
	var count int64
	err := r.reader().WithContext(ctx).Model(&models.Post{}).
		Where("admin_id = ? AND arrived = ?", adminID, false).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count active posts for admin %d: %w", adminID, err)
	}
	return count > 0, nil
}
