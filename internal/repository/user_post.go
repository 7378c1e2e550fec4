package repository

import (
	"context"
	"fmt"
	"time"

	"runnersmap/internal/models"
	"runnersmap/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserPostRepository defines persistence operations for participations.
// Every query that means "current participants" filters on valid.
type UserPostRepository interface {
	WithTx(tx *gorm.DB) UserPostRepository
	Create(ctx context.Context, up *models.UserPost) error
	Save(ctx context.Context, up *models.UserPost) error
	FindValid(ctx context.Context, userID, postID uint) (*models.UserPost, error)
	FindValidForUpdate(ctx context.Context, userID, postID uint) (*models.UserPost, error)
	ExistsValid(ctx context.Context, userID, postID uint) (bool, error)
	ListValidByUser(ctx context.Context, userID uint) ([]*models.UserPost, error)
	ListValidByPost(ctx context.Context, postID uint) ([]*models.UserPost, error)
	ListActiveByUser(ctx context.Context, userID uint) ([]*models.UserPost, error)
	ExistsUnfinished(ctx context.Context, postID uint) (bool, error)
	DeleteByPost(ctx context.Context, postID uint) error
	RescheduleByPost(ctx context.Context, postID uint, distance float64, year, month int) error
	ListCompletedByMonth(ctx context.Context, year, month int) ([]*models.UserPost, error)
	ListCompletedByUserMonth(ctx context.Context, userID uint, year, month int) ([]*models.UserPost, error)
	ListByUserMonth(ctx context.Context, userID uint, year, month int) ([]*models.UserPost, error)
	SumDistanceByUser(ctx context.Context, userID uint) (float64, error)
	ExistsValidOnDate(ctx context.Context, userID uint, dayStart, dayEnd time.Time) (bool, error)
	ExistsValidStartingFrom(ctx context.Context, userID uint, from time.Time) (bool, error)
}

type userPostRepository struct {
	scoped
}

// NewUserPostRepository returns a new UserPostRepository implementation.
func NewUserPostRepository(db *gorm.DB) UserPostRepository {
	return &userPostRepository{scoped{db: db}}
}

func (r *userPostRepository) WithTx(tx *gorm.DB) UserPostRepository {
	return &userPostRepository{scoped{db: tx, inTx: true}}
}

func (r *userPostRepository) Create(ctx context.Context, up *models.UserPost) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(up).Error; err != nil {
		return fmt.Errorf("create participation: %w", err)
	}
	return nil
}

func (r *userPostRepository) Save(ctx context.Context, up *models.UserPost) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(up).Error; err != nil {
		return fmt.Errorf("save participation %d: %w", up.ID, err)
	}
	return nil
}

func participationID(userID, postID uint) string {
	return fmt.Sprintf("user %d in post %d", userID, postID)
}

func (r *userPostRepository) FindValid(ctx context.Context, userID, postID uint) (*models.UserPost, error) {
	var up models.UserPost
	err := r.reader().WithContext(ctx).
		Where("user_id = ? AND post_id = ? AND valid = ?", userID, postID, true).
		First(&up).Error
	if err != nil {
		return nil, notFoundOr(err, "participation", participationID(userID, postID))
	}
	return &up, nil
}

func (r *userPostRepository) FindValidForUpdate(ctx context.Context, userID, postID uint) (*models.UserPost, error) {
	var up models.UserPost
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND post_id = ? AND valid = ?", userID, postID, true).
		First(&up).Error
	if err != nil {
		return nil, notFoundOr(err, "participation", participationID(userID, postID))
	}
	return &up, nil
}

func (r *userPostRepository) exists(ctx context.Context, q *gorm.DB) (bool, error) {
	var count int64
	if err := q.WithContext(ctx).Model(&models.UserPost{}).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count participations: %w", err)
	}
	return count > 0, nil
}

func (r *userPostRepository) ExistsValid(ctx context.Context, userID, postID uint) (bool, error) {
	return r.exists(ctx, r.reader().Where("user_id = ? AND post_id = ? AND valid = ?", userID, postID, true))
}

func (r *userPostRepository) ListValidByUser(ctx context.Context, userID uint) ([]*models.UserPost, error) {
	var ups []*models.UserPost
	err := r.reader().WithContext(ctx).
		Preload("Post").
		Where("user_id = ? AND valid = ?", userID, true).
		Order("id ASC").
		Find(&ups).Error
	if err != nil {
		return nil, fmt.Errorf("list participations of user %d: %w", userID, err)
	}
	return ups, nil
}

func (r *userPostRepository) ListValidByPost(ctx context.Context, postID uint) ([]*models.UserPost, error) {
	var ups []*models.UserPost
	err := r.reader().WithContext(ctx).
		Preload("User").
		Where("post_id = ? AND valid = ?", postID, true).
		Order("id ASC").
		Find(&ups).Error
	if err != nil {
		return nil, fmt.Errorf("list participants of post %d: %w", postID, err)
	}
	return ups, nil
}

// ListActiveByUser returns valid participations that have not finished yet.
func (r *userPostRepository) ListActiveByUser(ctx context.Context, userID uint) ([]*models.UserPost, error) {
	var ups []*models.UserPost
	err := r.reader().WithContext(ctx).
		Preload("Post").
		Where("user_id = ? AND valid = ? AND actual_end_time IS NULL", userID, true).
		Order("id ASC").
		Find(&ups).Error
	if err != nil {
		return nil, fmt.Errorf("list active participations of user %d: %w", userID, err)
	}
	return ups, nil
}

// ExistsUnfinished reports whether any valid participant of the post has no end time.
func (r *userPostRepository) ExistsUnfinished(ctx context.Context, postID uint) (bool, error) {
	return r.exists(ctx, r.reader().Where("post_id = ? AND valid = ? AND actual_end_time IS NULL", postID, true))
}

func (r *userPostRepository) DeleteByPost(ctx context.Context, postID uint) error {
	if err := r.db.WithContext(ctx).Where("post_id = ?", postID).Delete(&models.UserPost{}).Error; err != nil {
		return fmt.Errorf("delete participations of post %d: %w", postID, err)
	}
	return nil
}

// RescheduleByPost copies a modified post's distance and month onto its
// valid participations.
func (r *userPostRepository) RescheduleByPost(ctx context.Context, postID uint, distance float64, year, month int) error {
	err := r.db.WithContext(ctx).Model(&models.UserPost{}).
		Where("post_id = ? AND valid = ?", postID, true).
		Updates(map[string]interface{}{"total_distance": distance, "year": year, "month": month}).Error
	if err != nil {
		return fmt.Errorf("reschedule participations of post %d: %w", postID, err)
	}
	return nil
}

// ListCompletedByMonth returns valid finished records of one month, the
// input of rank aggregation.
func (r *userPostRepository) ListCompletedByMonth(ctx context.Context, year, month int) ([]*models.UserPost, error) {
	defer observability.TrackQuery("select", "user_posts")()

	var ups []*models.UserPost
	err := r.reader().WithContext(ctx).
		Where("valid = ? AND year = ? AND month = ? AND actual_end_time IS NOT NULL", true, year, month).
		Order("id ASC").
		Find(&ups).Error
	if err != nil {
		return nil, fmt.Errorf("list completed runs for %04d-%02d: %w", year, month, err)
	}
	return ups, nil
}

func (r *userPostRepository) ListCompletedByUserMonth(ctx context.Context, userID uint, year, month int) ([]*models.UserPost, error) {
	var ups []*models.UserPost
	err := r.reader().WithContext(ctx).
		Where("user_id = ? AND valid = ? AND year = ? AND month = ? AND actual_end_time IS NOT NULL", userID, true, year, month).
		Order("actual_end_time ASC").
		Find(&ups).Error
	if err != nil {
		return nil, fmt.Errorf("list completed runs of user %d: %w", userID, err)
	}
	return ups, nil
}

// ListByUserMonth returns the user's valid records scheduled in one month,
// finished or not.
func (r *userPostRepository) ListByUserMonth(ctx context.Context, userID uint, year, month int) ([]*models.UserPost, error) {
	var ups []*models.UserPost
	err := r.reader().WithContext(ctx).
		Where("user_id = ? AND valid = ? AND year = ? AND month = ?", userID, true, year, month).
		Order("id ASC").
		Find(&ups).Error
	if err != nil {
		return nil, fmt.Errorf("list runs of user %d: %w", userID, err)
	}
	return ups, nil
}

func (r *userPostRepository) SumDistanceByUser(ctx context.Context, userID uint) (float64, error) {
	var total float64
	err := r.reader().WithContext(ctx).Model(&models.UserPost{}).
		Select("COALESCE(SUM(total_distance), 0)").
		Where("user_id = ? AND valid = ?", userID, true).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum distance of user %d: %w", userID, err)
	}
	return total, nil
}

// ExistsValidOnDate reports whether the user holds a valid participation in
// a post starting within [dayStart, dayEnd).
func (r *userPostRepository) ExistsValidOnDate(ctx context.Context, userID uint, dayStart, dayEnd time.Time) (bool, error) {
	return r.exists(ctx, r.reader().
		Joins("JOIN posts ON posts.id = user_posts.post_id").
		Where("user_posts.user_id = ? AND user_posts.valid = ?", userID, true).
		Where("posts.start_date_time >= ? AND posts.start_date_time < ?", dayStart, dayEnd))
}

// ExistsValidStartingFrom reports whether the user holds a valid
// participation in a post starting at or after from.
func (r *userPostRepository) ExistsValidStartingFrom(ctx context.Context, userID uint, from time.Time) (bool, error) {
	return r.exists(ctx, r.reader().
		Joins("JOIN posts ON posts.id = user_posts.post_id").
		Where("user_posts.user_id = ? AND user_posts.valid = ?", userID, true).
		Where("posts.start_date_time >= ?", from))
}
