// Package repository implements the data access layer for the application.
package repository

import (
	"errors"

	"runnersmap/internal/database"
	"runnersmap/internal/models"

	"gorm.io/gorm"
)

func readDB(primary *gorm.DB) *gorm.DB {
	if db := database.GetReadDB(); db != nil {
		return db
	}
	return primary
}

// notFoundOr maps gorm.ErrRecordNotFound to a typed NotFound error.
func notFoundOr(err error, resource string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return err
}

// scoped holds the handle a repository runs against. Inside a transaction
// every read goes to the transaction, never to the replica.
type scoped struct {
	db   *gorm.DB
	inTx bool
}

func (s scoped) reader() *gorm.DB {
	if s.inTx {
		return s.db
	}
	return readDB(s.db)
}
