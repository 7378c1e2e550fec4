package repository

import (
	"context"
	"fmt"

	"runnersmap/internal/cache"
	"runnersmap/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository resolves user ids to display attributes. Users are owned
// by the identity service; this side only reads them.
type UserRepository interface {
	WithTx(tx *gorm.DB) UserRepository
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByIDForUpdate(ctx context.Context, id uint) (*models.User, error)
	GetByIDs(ctx context.Context, ids []uint) ([]*models.User, error)
	ExistingIDs(ctx context.Context, ids []uint) ([]uint, error)
}

type userRepository struct {
	scoped
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{scoped{db: db}}
}

func (r *userRepository) WithTx(tx *gorm.DB) UserRepository {
	return &userRepository{scoped{db: tx, inTx: true}}
}

// GetByID reads through the Redis cache outside transactions. Inside one it
// reads the transaction's snapshot.
func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	load := func() error {
		if err := r.reader().WithContext(ctx).First(&user, id).Error; err != nil {
			return notFoundOr(err, "user", id)
		}
		return nil
	}

	var err error
	if r.inTx {
		err = load()
	} else {
		err = cache.Aside(ctx, cache.UserKey(id), &user, cache.UserTTL, load)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByIDForUpdate locks the user row. Holding it serializes every
// transaction that checks or changes the user's run calendar.
func (r *userRepository) GetByIDForUpdate(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, id).Error
	if err != nil {
		return nil, notFoundOr(err, "user", id)
	}
	return &user, nil
}

func (r *userRepository) GetByIDs(ctx context.Context, ids []uint) ([]*models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []*models.User
	if err := r.reader().WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return users, nil
}

// ExistingIDs returns the subset of ids present in the user store.
func (r *userRepository) ExistingIDs(ctx context.Context, ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []uint
	err := r.reader().WithContext(ctx).Model(&models.User{}).
		Where("id IN ?", ids).
		Order("id ASC").
		Pluck("id", &found).Error
	if err != nil {
		return nil, fmt.Errorf("check user ids: %w", err)
	}
	return found, nil
}
