// Package seed provides helpers to create demo data for the application
// database. These helpers are intended for development and testing only.
package seed

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"runnersmap/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// SeedOptions tune how the Factory builds entities.
type SeedOptions struct {
	// DryRun builds entities with synthetic IDs and never touches the DB.
	DryRun bool
	// CenterLat and CenterLng anchor generated posts.
	CenterLat float64
	CenterLng float64
	// RadiusKm bounds how far from the center a post may start.
	RadiusKm float64
	// Location is used to derive the ranking month of a participation.
	Location *time.Location
}

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by Seed and tests.
type Factory struct {
	db   *gorm.DB
	opts SeedOptions
	rnd  *rand.Rand
	// synthetic ID counter when running in DryRun mode
	nextID uint
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB, opts SeedOptions) *Factory {
	if opts.RadiusKm <= 0 {
		opts.RadiusKm = 3
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	gofakeit.Seed(time.Now().UnixNano())
	// #nosec G404: acceptable for seeding
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Factory{db: db, opts: opts, rnd: rnd, nextID: 1000}
}

func (f *Factory) assignID() uint {
	f.nextID++
	return f.nextID
}

// CreateUser creates a runner with fake profile data.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	user := &models.User{
		Nickname:        gofakeit.Username(),
		Email:           fmt.Sprintf("%s@example.com", gofakeit.UUID()),
		Gender:          gofakeit.RandomString([]string{"MALE", "FEMALE"}),
		ProfileImageURL: fmt.Sprintf("https://i.pravatar.cc/150?u=%s", gofakeit.UUID()),
	}
	for _, override := range overrides {
		override(user)
	}

	if f.opts.DryRun {
		user.ID = f.assignID()
		log.Printf("[dry-run] CreateUser: id=%d nickname=%q", user.ID, user.Nickname)
		return user, nil
	}
	if err := f.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// jitter returns a point within RadiusKm of the configured center.
func (f *Factory) jitter() (float64, float64) {
	const kmPerDegree = 111.0
	r := f.opts.RadiusKm * math.Sqrt(f.rnd.Float64())
	theta := f.rnd.Float64() * 2 * math.Pi
	dLat := r * math.Cos(theta) / kmPerDegree
	dLng := r * math.Sin(theta) / (kmPerDegree * math.Cos(f.opts.CenterLat*math.Pi/180))
	return f.opts.CenterLat + dLat, f.opts.CenterLng + dLng
}

// BuildPost constructs a FORMED post organized by admin starting within the
// next two weeks, without persisting it.
func (f *Factory) BuildPost(admin *models.User, overrides ...func(*models.Post)) *models.Post {
	lat, lng := f.jitter()
	endLat, endLng := f.jitter()

	start := time.Now().UTC().
		Add(time.Duration(1+f.rnd.Intn(14*24)) * time.Hour).
		Truncate(time.Minute)

	post := &models.Post{
		AdminID:        admin.ID,
		Title:          fmt.Sprintf("%s %s run", gofakeit.Adjective(), gofakeit.City()),
		Content:        gofakeit.Paragraph(1, 2, 10, " "),
		LimitMemberCnt: 2 + f.rnd.Intn(9),
		StartDateTime:  start,
		StartPosition:  gofakeit.Street(),
		Distance:       float64(3000 + 500*f.rnd.Intn(39)),
		PaceMin:        4 + f.rnd.Intn(4),
		PaceSec:        5 * f.rnd.Intn(12),
		Path: models.RoutePath{
			{Lat: lat, Lng: lng},
			{Lat: (lat + endLat) / 2, Lng: (lng + endLng) / 2},
			{Lat: endLat, Lng: endLng},
		},
		Lat: lat,
		Lng: lng,
	}
	if f.rnd.Intn(4) == 0 {
		g := admin.Gender
		post.Gender = &g
	}
	for _, override := range overrides {
		override(post)
	}
	return post
}

// CreatePost persists a post built by BuildPost together with the
// organizer's own participation, which it also returns.
func (f *Factory) CreatePost(admin *models.User, overrides ...func(*models.Post)) (*models.Post, *models.UserPost, error) {
	post := f.BuildPost(admin, overrides...)

	if f.opts.DryRun {
		post.ID = f.assignID()
		host := f.participation(admin.ID, post)
		host.ID = f.assignID()
		log.Printf("[dry-run] CreatePost: id=%d admin=%d title=%q", post.ID, post.AdminID, post.Title)
		return post, host, nil
	}

	var host *models.UserPost
	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Admin").Create(post).Error; err != nil {
			return err
		}
		host = f.participation(admin.ID, post)
		return tx.Omit("User", "Post").Create(host).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return post, host, nil
}

func (f *Factory) participation(userID uint, post *models.Post) *models.UserPost {
	local := post.StartDateTime.In(f.opts.Location)
	return &models.UserPost{
		UserID:        userID,
		PostID:        post.ID,
		Valid:         true,
		TotalDistance: post.Distance,
		Year:          local.Year(),
		Month:         int(local.Month()),
	}
}

// Join adds user to post as a valid participant.
func (f *Factory) Join(user *models.User, post *models.Post) (*models.UserPost, error) {
	up := f.participation(user.ID, post)
	if f.opts.DryRun {
		up.ID = f.assignID()
		return up, nil
	}
	if err := f.db.Omit("User", "Post").Create(up).Error; err != nil {
		return nil, err
	}
	return up, nil
}

// FinishRun records a completed run for up: it started at the post's start
// time and took roughly as long as the planned pace allows.
func (f *Factory) FinishRun(up *models.UserPost, post *models.Post) error {
	begin := post.StartDateTime.UTC()
	paceSecs := float64(post.PaceMin*60 + post.PaceSec)
	planned := paceSecs * post.Distance / 1000
	// +/- 10% around the planned pace
	secs := int64(planned * (0.9 + 0.2*f.rnd.Float64()))
	end := begin.Add(time.Duration(secs) * time.Second)

	up.ActualStartTime = &begin
	up.ActualEndTime = &end
	up.RunningDuration = &secs

	if f.opts.DryRun {
		return nil
	}
	return f.db.Omit("User", "Post").Save(up).Error
}

// CompletePost moves a post into the past and marks it as run: every
// participant finishes and the organizer uploads a photo.
func (f *Factory) CompletePost(post *models.Post, participants []*models.UserPost, daysAgo int) error {
	post.StartDateTime = time.Now().UTC().AddDate(0, 0, -daysAgo).Truncate(time.Minute)
	post.Departed = true
	post.Arrived = true

	local := post.StartDateTime.In(f.opts.Location)
	for _, up := range participants {
		up.Year = local.Year()
		up.Month = int(local.Month())
		if err := f.FinishRun(up, post); err != nil {
			return err
		}
	}

	if f.opts.DryRun {
		return nil
	}
	if err := f.db.Omit("Admin").Save(post).Error; err != nil {
		return err
	}
	return f.db.Omit("Post").Create(&models.AfterRunPicture{
		PostID: post.ID,
		UserID: post.AdminID,
		URL:    fmt.Sprintf("https://picsum.photos/seed/%s/800/600", gofakeit.UUID()),
	}).Error
}
