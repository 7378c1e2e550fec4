package service

import (
	"testing"
	"time"

	"runnersmap/internal/repository"
	"runnersmap/internal/testutil"

	"gorm.io/gorm"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	db        *gorm.DB
	clock     *fakeClock
	posts     repository.PostRepository
	userPosts repository.UserPostRepository
	users     repository.UserRepository
	ranks     repository.RankRepository
	afterRun  repository.AfterRunRepository

	sessions *SessionService
	search   *SearchService
	postSvc  *PostService
	rankSvc  *RankService
	records  *RecordService
}

func newFixture(t *testing.T, loc *time.Location) *fixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	f := &fixture{
		db:        db,
		clock:     &fakeClock{now: time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)},
		posts:     repository.NewPostRepository(db),
		userPosts: repository.NewUserPostRepository(db),
		users:     repository.NewUserRepository(db),
		ranks:     repository.NewRankRepository(db),
		afterRun:  repository.NewAfterRunRepository(db),
	}
	f.sessions = NewSessionService(db, f.posts, f.userPosts, f.users, nil, loc).WithClock(f.clock.Now)
	f.search = NewSearchService(f.posts, f.afterRun).WithClock(f.clock.Now)
	f.postSvc = NewPostService(db, f.posts, f.userPosts, f.users, loc).WithClock(f.clock.Now)
	f.rankSvc = NewRankService(db, f.userPosts, f.ranks, f.users, nil, loc).WithClock(f.clock.Now)
	f.records = NewRecordService(f.userPosts, f.users, loc)
	return f
}
