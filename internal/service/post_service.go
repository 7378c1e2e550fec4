package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"runnersmap/internal/middleware"
	"runnersmap/internal/models"
	"runnersmap/internal/repository"

	"gorm.io/gorm"
)

type PostService struct {
	db        *gorm.DB
	posts     repository.PostRepository
	userPosts repository.UserPostRepository
	users     repository.UserRepository
	loc       *time.Location
	now       Clock
}

// PostInput carries the organizer-editable fields of a post.
type PostInput struct {
	Title          string
	Content        string
	LimitMemberCnt int
	Gender         *string
	StartDateTime  time.Time
	StartPosition  string
	Distance       float64
	PaceMin        int
	PaceSec        int
	Path           models.RoutePath
	Lat            float64
	Lng            float64
}

type CreatePostInput struct {
	AdminID uint
	PostInput
}

type UpdatePostInput struct {
	UserID uint
	PostID uint
	PostInput
}

// Participant is a valid member of a post as shown on its detail page.
type Participant struct {
	UserID          uint   `json:"user_id"`
	Nickname        string `json:"nickname"`
	ProfileImageURL string `json:"profile_image_url"`
}

type PostDetail struct {
	Post         *models.Post  `json:"post"`
	Participants []Participant `json:"participants"`
}

func NewPostService(
	db *gorm.DB,
	posts repository.PostRepository,
	userPosts repository.UserPostRepository,
	users repository.UserRepository,
	loc *time.Location,
) *PostService {
	if loc == nil {
		loc = time.UTC
	}
	return &PostService{db: db, posts: posts, userPosts: userPosts, users: users, loc: loc, now: time.Now}
}

// WithClock replaces the time source.
func (s *PostService) WithClock(now Clock) *PostService {
	s.now = now
	return s
}

func (in PostInput) apply(p *models.Post) {
	p.Title = in.Title
	p.Content = in.Content
	p.LimitMemberCnt = in.LimitMemberCnt
	p.Gender = in.Gender
	p.StartDateTime = in.StartDateTime.UTC()
	p.StartPosition = in.StartPosition
	p.Distance = in.Distance
	p.PaceMin = in.PaceMin
	p.PaceSec = in.PaceSec
	p.Path = in.Path
	p.Lat = in.Lat
	p.Lng = in.Lng
}

func (s *PostService) validateSchedule(p *models.Post) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if !p.StartDateTime.After(s.now()) {
		return models.NewValidationError("start_date_time must be in the future")
	}
	return nil
}

// Create saves a FORMED post and enrolls its organizer. The organizer may
// not hold another run on the same calendar date.
func (s *PostService) Create(ctx context.Context, in CreatePostInput) (*models.Post, error) {
	post := &models.Post{AdminID: in.AdminID}
	in.apply(post)
	if err := s.validateSchedule(post); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users, posts, userPosts := s.users.WithTx(tx), s.posts.WithTx(tx), s.userPosts.WithTx(tx)

		if _, err := users.GetByIDForUpdate(ctx, in.AdminID); err != nil {
			return err
		}
		day := startOfDay(post.StartDateTime, s.loc)
		busy, err := userPosts.ExistsValidOnDate(ctx, in.AdminID, day, day.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		if busy {
			return models.NewConflictError(fmt.Sprintf(
				"user %d already has a run on %s", in.AdminID, day.In(s.loc).Format(time.DateOnly)))
		}

		if err := posts.Create(ctx, post); err != nil {
			return err
		}
		local := post.StartDateTime.In(s.loc)
		return userPosts.Create(ctx, &models.UserPost{
			UserID:        in.AdminID,
			PostID:        post.ID,
			Valid:         true,
			TotalDistance: post.Distance,
			Year:          local.Year(),
			Month:         int(local.Month()),
		})
	})
	if err != nil {
		return nil, err
	}

	middleware.Logger.InfoContext(ctx, "post created",
		slog.Uint64("post_id", uint64(post.ID)), slog.Uint64("admin_id", uint64(in.AdminID)))
	return post, nil
}

func checkOwner(post *models.Post, userID uint) error {
	if post.AdminID != userID {
		return models.NewForbiddenError(fmt.Sprintf("user %d does not organize post %d", userID, post.ID))
	}
	return nil
}

// Modify rewrites a post that has not departed yet.
func (s *PostService) Modify(ctx context.Context, in UpdatePostInput) (*models.Post, error) {
	var post *models.Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		posts, userPosts := s.posts.WithTx(tx), s.userPosts.WithTx(tx)

		var err error
		post, err = posts.GetByIDForUpdate(ctx, in.PostID)
		if err != nil {
			return err
		}
		if err := post.Editable(); err != nil {
			return err
		}
		if err := checkOwner(post, in.UserID); err != nil {
			return err
		}

		in.apply(post)
		if err := s.validateSchedule(post); err != nil {
			return err
		}
		if err := posts.Update(ctx, post); err != nil {
			return err
		}
		local := post.StartDateTime.In(s.loc)
		return userPosts.RescheduleByPost(ctx, post.ID, post.Distance, local.Year(), int(local.Month()))
	})
	if err != nil {
		return nil, err
	}

	middleware.Logger.InfoContext(ctx, "post modified", slog.Uint64("post_id", uint64(post.ID)))
	return post, nil
}

// Delete removes a post that has not departed yet, with its participations.
func (s *PostService) Delete(ctx context.Context, postID, userID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		posts, userPosts := s.posts.WithTx(tx), s.userPosts.WithTx(tx)

		post, err := posts.GetByIDForUpdate(ctx, postID)
		if err != nil {
			return err
		}
		if err := post.Editable(); err != nil {
			return err
		}
		if err := checkOwner(post, userID); err != nil {
			return err
		}
		if err := userPosts.DeleteByPost(ctx, postID); err != nil {
			return err
		}
		return posts.Delete(ctx, postID)
	})
	if err != nil {
		return err
	}

	middleware.Logger.InfoContext(ctx, "post deleted", slog.Uint64("post_id", uint64(postID)))
	return nil
}

// Detail returns the post with its valid participants.
func (s *PostService) Detail(ctx context.Context, postID uint) (*PostDetail, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	ups, err := s.userPosts.ListValidByPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	detail := &PostDetail{Post: post, Participants: make([]Participant, 0, len(ups))}
	for _, up := range ups {
		p := Participant{UserID: up.UserID}
		if up.User != nil {
			p.Nickname = up.User.Nickname
			p.ProfileImageURL = up.User.ProfileImageURL
		}
		detail.Participants = append(detail.Participants, p)
	}
	return detail, nil
}

// HostsActivePost reports whether the user organizes a post that has not arrived.
func (s *PostService) HostsActivePost(ctx context.Context, userID uint) (bool, error) {
	return s.posts.ExistsActiveByAdmin(ctx, userID)
}
