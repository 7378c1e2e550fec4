package seed

import (
	"fmt"
	"log"
	"time"

	"runnersmap/internal/models"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers int
	NumPosts int
	// FinishedRatio is the share of posts seeded as already run, so the
	// ranking job has something to aggregate.
	FinishedRatio float64
	ShouldClean   bool
	CenterLat     float64
	CenterLng     float64
	RadiusKm      float64
	Location      *time.Location
}

// Result counts what Seed created.
type Result struct {
	Users          int
	Posts          int
	Participations int
	FinishedPosts  int
}

// Seed populates the database with runners, posts around the center point
// and their participations.
func Seed(db *gorm.DB, opts Options) (*Result, error) {
	log.Printf("Starting database seeding with %d users and %d posts...", opts.NumUsers, opts.NumPosts)
	if opts.NumUsers < 1 {
		return nil, fmt.Errorf("at least one user is required")
	}

	if opts.ShouldClean {
		if err := ClearAll(db); err != nil {
			return nil, fmt.Errorf("failed to clear data: %w", err)
		}
	}

	f := NewFactory(db, SeedOptions{
		CenterLat: opts.CenterLat,
		CenterLng: opts.CenterLng,
		RadiusKm:  opts.RadiusKm,
		Location:  opts.Location,
	})
	res := &Result{}

	users := make([]*models.User, 0, opts.NumUsers)
	for i := 0; i < opts.NumUsers; i++ {
		u, err := f.CreateUser()
		if err != nil {
			return nil, fmt.Errorf("failed to create users: %w", err)
		}
		users = append(users, u)
	}
	res.Users = len(users)
	log.Printf("%d users created", res.Users)

	finished := int(float64(opts.NumPosts) * opts.FinishedRatio)
	for i := 0; i < opts.NumPosts; i++ {
		admin := users[f.rnd.Intn(len(users))]
		post, host, err := f.CreatePost(admin)
		if err != nil {
			return nil, fmt.Errorf("failed to create posts: %w", err)
		}
		res.Posts++
		res.Participations++

		members, err := f.fill(users, admin, post)
		if err != nil {
			return nil, fmt.Errorf("failed to join posts: %w", err)
		}
		res.Participations += len(members)

		if i < finished {
			// spread finished runs over the last three weeks
			if err := f.CompletePost(post, append([]*models.UserPost{host}, members...), 1+f.rnd.Intn(21)); err != nil {
				return nil, fmt.Errorf("failed to complete post: %w", err)
			}
			res.FinishedPosts++
		}
	}
	log.Printf("%d posts created (%d finished, %d participations)", res.Posts, res.FinishedPosts, res.Participations)

	log.Println("Database seeding completed successfully!")
	return res, nil
}

// fill joins a random subset of users to post without exceeding its limit
// or its gender restriction.
func (f *Factory) fill(users []*models.User, admin *models.User, post *models.Post) ([]*models.UserPost, error) {
	want := f.rnd.Intn(post.LimitMemberCnt)
	joined := make([]*models.UserPost, 0, want)
	for _, idx := range f.rnd.Perm(len(users)) {
		if len(joined) >= want {
			break
		}
		u := users[idx]
		if u.ID == admin.ID {
			continue
		}
		if post.Gender != nil && *post.Gender != u.Gender {
			continue
		}
		up, err := f.Join(u, post)
		if err != nil {
			return nil, err
		}
		joined = append(joined, up)
	}
	return joined, nil
}

// ClearAll removes every seeded row, children first.
func ClearAll(db *gorm.DB) error {
	log.Println("Clearing existing data...")
	if db.Dialector.Name() == "postgres" {
		return db.Exec(`TRUNCATE TABLE likes, after_run_pictures, ranks, user_posts, posts, users RESTART IDENTITY CASCADE`).Error
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{
			&models.Like{}, &models.AfterRunPicture{}, &models.Rank{},
			&models.UserPost{}, &models.Post{}, &models.User{},
		} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
