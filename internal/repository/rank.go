package repository

import (
	"context"
	"fmt"

	"runnersmap/internal/models"
	"runnersmap/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxRankPosition is the last position exposed by ranking reads.
const MaxRankPosition = 100

const rankInsertBatch = 200

// RankRepository defines persistence operations for monthly rankings.
type RankRepository interface {
	WithTx(tx *gorm.DB) RankRepository
	DeleteByMonth(ctx context.Context, year, month int) error
	CreateBatch(ctx context.Context, ranks []*models.Rank) error
	ListByMonth(ctx context.Context, year, month, limit, offset int) ([]*models.Rank, error)
	CountByMonth(ctx context.Context, year, month int) (int64, error)
}

type rankRepository struct {
	scoped
}

// NewRankRepository returns a new RankRepository implementation.
func NewRankRepository(db *gorm.DB) RankRepository {
	return &rankRepository{scoped{db: db}}
}

func (r *rankRepository) WithTx(tx *gorm.DB) RankRepository {
	return &rankRepository{scoped{db: tx, inTx: true}}
}

func (r *rankRepository) DeleteByMonth(ctx context.Context, year, month int) error {
	defer observability.TrackQuery("delete", "ranks")()

	err := r.db.WithContext(ctx).
		Where("year = ? AND month = ?", year, month).
		Delete(&models.Rank{}).Error
	if err != nil {
		return fmt.Errorf("delete ranks for %04d-%02d: %w", year, month, err)
	}
	return nil
}

func (r *rankRepository) CreateBatch(ctx context.Context, ranks []*models.Rank) error {
	if len(ranks) == 0 {
		return nil
	}
	defer observability.TrackQuery("insert", "ranks")()

	if err := r.db.WithContext(ctx).Omit(clause.Associations).CreateInBatches(ranks, rankInsertBatch).Error; err != nil {
		return fmt.Errorf("insert %d ranks: %w", len(ranks), err)
	}
	return nil
}

// ListByMonth pages through positions 1..MaxRankPosition of one month.
func (r *rankRepository) ListByMonth(ctx context.Context, year, month, limit, offset int) ([]*models.Rank, error) {
	var ranks []*models.Rank
	err := r.reader().WithContext(ctx).
		Preload("User").
		Where("year = ? AND month = ? AND rank_position BETWEEN ? AND ?", year, month, 1, MaxRankPosition).
		Order("rank_position ASC").
		Limit(limit).
		Offset(offset).
		Find(&ranks).Error
	if err != nil {
		return nil, fmt.Errorf("list ranks for %04d-%02d: %w", year, month, err)
	}
	return ranks, nil
}

func (r *rankRepository) CountByMonth(ctx context.Context, year, month int) (int64, error) {
	var count int64
	err := r.reader().WithContext(ctx).Model(&models.Rank{}).
		Where("year = ? AND month = ? AND rank_position BETWEEN ? AND ?", year, month, 1, MaxRankPosition).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count ranks for %04d-%02d: %w", year, month, err)
	}
	return count, nil
}
