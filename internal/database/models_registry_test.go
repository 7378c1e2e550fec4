package database

import (
	"context"
	"testing"

	"runnersmap/internal/config"
	"runnersmap/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestPersistentModels_IncludesParticipationAndRank(t *testing.T) {
	var hasUserPost, hasRank bool
	for _, model := range PersistentModels() {
		switch model.(type) {
		case *models.UserPost:
			hasUserPost = true
		case *models.Rank:
			hasRank = true
		}
	}
	assert.True(t, hasUserPost, "PersistentModels should include UserPost")
	assert.True(t, hasRank, "PersistentModels should include Rank")
}

func TestPersistentModels_AutoMigrate(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, runAutoMigrate(db))
	for _, table := range []string{"users", "posts", "user_posts", "ranks", "after_run_pictures", "likes"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasIndex(&models.UserPost{}, "idx_user_posts_month"))
}

func TestApplySchema_AutoModeCreatesTables(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := &config.Config{Env: "test", DBSchemaMode: SchemaModeAuto}
	require.NoError(t, ApplySchema(context.Background(), db, cfg))
	assert.True(t, db.Migrator().HasTable("user_posts"))
	assert.False(t, db.Migrator().HasTable("schema_migrations"))
}
