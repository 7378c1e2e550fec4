package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"runnersmap/internal/middleware"
	"runnersmap/internal/models"
	"runnersmap/internal/notifications"
	"runnersmap/internal/observability"
	"runnersmap/internal/repository"

	"gorm.io/gorm"
)

// Clock returns the current time.
type Clock func() time.Time

// RunButton tells the client which action a participant can take next.
type RunButton string

const (
	RunButtonStart    RunButton = "START"
	RunButtonComplete RunButton = "COMPLETE"
)

// SessionService drives the per-post run lifecycle. Every transition runs
// in one transaction that locks the post row before the participation row.
// Join also locks the user row, ahead of the post.
type SessionService struct {
	db        *gorm.DB
	posts     repository.PostRepository
	userPosts repository.UserPostRepository
	users     repository.UserRepository
	notifier  *notifications.Notifier
	loc       *time.Location
	now       Clock
}

func NewSessionService(
	db *gorm.DB,
	posts repository.PostRepository,
	userPosts repository.UserPostRepository,
	users repository.UserRepository,
	notifier *notifications.Notifier,
	loc *time.Location,
) *SessionService {
	if loc == nil {
		loc = time.UTC
	}
	return &SessionService{
		db:        db,
		posts:     posts,
		userPosts: userPosts,
		users:     users,
		notifier:  notifier,
		loc:       loc,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (s *SessionService) WithClock(now Clock) *SessionService {
	s.now = now
	return s
}

type sessionRepos struct {
	posts     repository.PostRepository
	userPosts repository.UserPostRepository
	users     repository.UserRepository
}

func (s *SessionService) inTx(ctx context.Context, fn func(r sessionRepos) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(sessionRepos{
			posts:     s.posts.WithTx(tx),
			userPosts: s.userPosts.WithTx(tx),
			users:     s.users.WithTx(tx),
		})
	})
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc).UTC()
}

// Join registers userID as a participant of postID. A user may only take
// on a run dated strictly after every run they already hold.
func (s *SessionService) Join(ctx context.Context, postID, userID uint) (*models.UserPost, error) {
	span, ctx := observability.StartSessionSpan(ctx, "join", postID, userID)
	defer span.End()

	var created *models.UserPost
	err := s.inTx(ctx, func(r sessionRepos) error {
		// The user lock comes first so concurrent joins by the same user
		// see each other's participation before the calendar check.
		if _, err := r.users.GetByIDForUpdate(ctx, userID); err != nil {
			return err
		}
		post, err := r.posts.GetByIDForUpdate(ctx, postID)
		if err != nil {
			return err
		}
		switch {
		case post.Arrived:
			return models.NewInvalidStateError(fmt.Sprintf("post %d has already arrived", postID))
		case post.Departed:
			return models.NewInvalidStateError(fmt.Sprintf("post %d has already departed", postID))
		}

		joined, err := r.userPosts.ExistsValid(ctx, userID, postID)
		if err != nil {
			return err
		}
		if joined {
			return models.NewConflictError(fmt.Sprintf("user %d already joined post %d", userID, postID))
		}

		day := startOfDay(post.StartDateTime, s.loc)
		overlap, err := r.userPosts.ExistsValidStartingFrom(ctx, userID, day)
		if err != nil {
			return err
		}
		if overlap {
			return models.NewConflictError(fmt.Sprintf(
				"user %d already has a run on or after %s", userID, day.In(s.loc).Format(time.DateOnly)))
		}

		local := post.StartDateTime.In(s.loc)
		created = &models.UserPost{
			UserID:        userID,
			PostID:        postID,
			Valid:         true,
			TotalDistance: post.Distance,
			Year:          local.Year(),
			Month:         int(local.Month()),
		}
		return r.userPosts.Create(ctx, created)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	observability.RecordTransition(observability.TransitionJoin)
	s.publish(ctx, notifications.EventParticipantJoined, postID, userID)
	return created, nil
}

// Leave invalidates the user's participation. The row is kept.
func (s *SessionService) Leave(ctx context.Context, postID, userID uint) error {
	span, ctx := observability.StartSessionSpan(ctx, "leave", postID, userID)
	defer span.End()

	err := s.inTx(ctx, func(r sessionRepos) error {
		if _, err := r.users.GetByID(ctx, userID); err != nil {
			return err
		}
		if _, err := r.posts.GetByIDForUpdate(ctx, postID); err != nil {
			return err
		}
		up, err := r.userPosts.FindValidForUpdate(ctx, userID, postID)
		if err != nil {
			return err
		}
		if up.ActualEndTime != nil {
			return models.NewInvalidStateError(fmt.Sprintf("user %d already finished post %d", userID, postID))
		}
		up.ActualEndTime = nil
		up.Valid = false
		return r.userPosts.Save(ctx, up)
	})
	if err != nil {
		span.SetError(err)
		return err
	}

	observability.RecordTransition(observability.TransitionLeave)
	s.publish(ctx, notifications.EventParticipantLeft, postID, userID)
	return nil
}

// MarkDeparted records the user's start. The first caller also moves the
// post from FORMED to DEPARTED.
func (s *SessionService) MarkDeparted(ctx context.Context, postID, userID uint) (*models.UserPost, error) {
	span, ctx := observability.StartSessionSpan(ctx, "depart", postID, userID)
	defer span.End()

	var (
		up      *models.UserPost
		flipped bool
	)
	err := s.inTx(ctx, func(r sessionRepos) error {
		post, err := r.posts.GetByIDForUpdate(ctx, postID)
		if err != nil {
			return err
		}
		if post.Arrived {
			return models.NewInvalidStateError(fmt.Sprintf("post %d has already arrived", postID))
		}
		up, err = r.userPosts.FindValidForUpdate(ctx, userID, postID)
		if err != nil {
			return err
		}
		if up.ActualStartTime != nil {
			return models.NewConflictError(fmt.Sprintf("user %d already started post %d", userID, postID))
		}

		if !post.Departed {
			post.Departed = true
			if err := r.posts.Update(ctx, post); err != nil {
				return err
			}
			flipped = true
		}

		now := s.now().UTC()
		up.ActualStartTime = &now
		return r.userPosts.Save(ctx, up)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	observability.RecordTransition(observability.TransitionStart)
	if flipped {
		observability.RecordTransition(observability.TransitionDeparted)
		middleware.Logger.InfoContext(ctx, "post departed", slog.Uint64("post_id", uint64(postID)), slog.Uint64("by_user_id", uint64(userID)))
		s.publish(ctx, notifications.EventPostDeparted, postID, userID)
	}
	s.publish(ctx, notifications.EventParticipantStarted, postID, userID)
	return up, nil
}

// MarkArrived records the user's finish. When no valid participant is left
// without an end time the post becomes ARRIVED.
func (s *SessionService) MarkArrived(ctx context.Context, postID, userID uint) (*models.UserPost, error) {
	span, ctx := observability.StartSessionSpan(ctx, "arrive", postID, userID)
	defer span.End()

	var (
		up      *models.UserPost
		flipped bool
	)
	err := s.inTx(ctx, func(r sessionRepos) error {
		post, err := r.posts.GetByIDForUpdate(ctx, postID)
		if err != nil {
			return err
		}
		if post.Arrived {
			return models.NewInvalidStateError(fmt.Sprintf("post %d has already arrived", postID))
		}
		if _, err := r.users.GetByID(ctx, userID); err != nil {
			return err
		}
		up, err = r.userPosts.FindValidForUpdate(ctx, userID, postID)
		if err != nil {
			return err
		}
		if up.ActualEndTime != nil {
			return models.NewConflictError(fmt.Sprintf("user %d already finished post %d", userID, postID))
		}
		if up.ActualStartTime == nil {
			return models.NewInvalidStateError(fmt.Sprintf("user %d has not started post %d", userID, postID))
		}

		now := s.now().UTC()
		secs := int64(now.Sub(*up.ActualStartTime) / time.Second)
		if secs < 0 {
			secs = 0
		}
		up.ActualEndTime = &now
		up.RunningDuration = &secs
		if err := r.userPosts.Save(ctx, up); err != nil {
			return err
		}

		unfinished, err := r.userPosts.ExistsUnfinished(ctx, postID)
		if err != nil {
			return err
		}
		if unfinished {
			return nil
		}
		post.Departed = true
		post.Arrived = true
		if err := r.posts.Update(ctx, post); err != nil {
			return err
		}
		flipped = true
		return nil
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	observability.RecordTransition(observability.TransitionFinish)
	s.publish(ctx, notifications.EventParticipantFinished, postID, userID)
	if flipped {
		observability.RecordTransition(observability.TransitionArrived)
		middleware.Logger.InfoContext(ctx, "post arrived", slog.Uint64("post_id", uint64(postID)), slog.Uint64("last_user_id", uint64(userID)))
		s.publish(ctx, notifications.EventPostArrived, postID, userID)
	}
	return up, nil
}

// ParticipationState returns the next action for the user's valid participation.
func (s *SessionService) ParticipationState(ctx context.Context, postID, userID uint) (RunButton, error) {
	up, err := s.userPosts.FindValid(ctx, userID, postID)
	if err != nil {
		return "", err
	}
	if up.ActualStartTime == nil {
		return RunButtonStart, nil
	}
	return RunButtonComplete, nil
}

// ListActive returns the posts the user takes part in and has not finished.
func (s *SessionService) ListActive(ctx context.Context, userID uint) ([]*models.Post, error) {
	ups, err := s.userPosts.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	posts := make([]*models.Post, 0, len(ups))
	for _, up := range ups {
		if up.Post != nil {
			posts = append(posts, up.Post)
		}
	}
	return posts, nil
}

func (s *SessionService) publish(ctx context.Context, eventType string, postID, userID uint) {
	ev := notifications.RunEvent{Type: eventType, PostID: postID, UserID: userID, OccurredAt: s.now().UTC()}
	if err := s.notifier.PublishRunEvent(ctx, ev); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish run event",
			slog.String("type", eventType),
			slog.Uint64("post_id", uint64(postID)),
			slog.String("error", err.Error()))
	}
}
