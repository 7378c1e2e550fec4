package database

import "runnersmap/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Post{},
		&models.UserPost{},
		&models.Rank{},
		&models.AfterRunPicture{},
		&models.Like{},
	}
}
