// Package testutil provides shared test databases and fixtures for backend tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"runnersmap/internal/database"
	"runnersmap/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewSQLiteDB opens a migrated in-memory database private to t. It is
// limited to one connection, so code under test must use the transaction
// handle inside db.Transaction.
func NewSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(database.PersistentModels()...))
	return db
}

// CreateUser inserts a user with fake profile data.
func CreateUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	u := &models.User{
		Nickname:        gofakeit.Username(),
		Email:           gofakeit.UUID() + "@example.com",
		Gender:          gofakeit.RandomString([]string{"MALE", "FEMALE"}),
		ProfileImageURL: gofakeit.URL(),
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// PostOption customizes a fixture post before insert.
type PostOption func(*models.Post)

// CreatePost inserts a FORMED post organized by adminID at (lat, lng)
// starting at start.
func CreatePost(t *testing.T, db *gorm.DB, adminID uint, lat, lng float64, start time.Time, opts ...PostOption) *models.Post {
	t.Helper()
	p := &models.Post{
		AdminID:        adminID,
		Title:          gofakeit.Sentence(4),
		Content:        gofakeit.Paragraph(1, 2, 8, " "),
		LimitMemberCnt: 5,
		StartDateTime:  start.UTC(),
		StartPosition:  gofakeit.Street(),
		Distance:       10000,
		PaceMin:        6,
		PaceSec:        0,
		Path:           models.RoutePath{{Lat: lat, Lng: lng}},
		Lat:            lat,
		Lng:            lng,
	}
	for _, opt := range opts {
		opt(p)
	}
	require.NoError(t, db.Omit("Admin").Create(p).Error)
	return p
}

// Join inserts a valid participation of userID in post.
func Join(t *testing.T, db *gorm.DB, userID uint, post *models.Post) *models.UserPost {
	t.Helper()
	up := &models.UserPost{
		UserID:        userID,
		PostID:        post.ID,
		Valid:         true,
		TotalDistance: post.Distance,
		Year:          post.StartDateTime.Year(),
		Month:         int(post.StartDateTime.Month()),
	}
	require.NoError(t, db.Omit("User", "Post").Create(up).Error)
	return up
}

// Finish marks up as run from start for d.
func Finish(t *testing.T, db *gorm.DB, up *models.UserPost, distance float64, start time.Time, d time.Duration) {
	t.Helper()
	begin := start.UTC()
	end := begin.Add(d)
	secs := int64(d / time.Second)
	up.TotalDistance = distance
	up.ActualStartTime = &begin
	up.ActualEndTime = &end
	up.RunningDuration = &secs
	require.NoError(t, db.Omit("User", "Post").Save(up).Error)
}
