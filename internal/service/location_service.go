package service

import (
	"context"
	"time"

	"runnersmap/internal/geo"
	"runnersmap/internal/models"
	"runnersmap/internal/repository"
)

// GroupLocation is a participant's latest position on the group map.
type GroupLocation struct {
	UserID     uint      `json:"user_id"`
	Nickname   string    `json:"nickname"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	ReportedAt time.Time `json:"reported_at"`
}

type LocationService struct {
	store repository.LocationStore
	users repository.UserRepository
	posts repository.PostRepository
	now   Clock
}

func NewLocationService(store repository.LocationStore, users repository.UserRepository, posts repository.PostRepository) *LocationService {
	return &LocationService{store: store, users: users, posts: posts, now: time.Now}
}

// WithClock replaces the time source.
func (s *LocationService) WithClock(now Clock) *LocationService {
	s.now = now
	return s
}

// Update stores the latest position of userID in postID's run.
func (s *LocationService) Update(ctx context.Context, postID, userID uint, lat, lng float64) error {
	if !(geo.LatLng{Lat: lat, Lng: lng}).Valid() {
		return models.NewValidationError("lat/lng out of range")
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return err
	}
	if _, err := s.posts.GetByID(ctx, postID); err != nil {
		return err
	}
	return s.store.Update(ctx, postID, repository.LocationFix{
		UserID:     userID,
		Lat:        lat,
		Lng:        lng,
		ReportedAt: s.now().UTC(),
	})
}

// GroupLocations returns the latest fix of every reporting participant.
func (s *LocationService) GroupLocations(ctx context.Context, postID uint) ([]GroupLocation, error) {
	if _, err := s.posts.GetByID(ctx, postID); err != nil {
		return nil, err
	}
	fixes, err := s.store.Latest(ctx, postID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, len(fixes))
	for i, f := range fixes {
		ids[i] = f.UserID
	}
	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[uint]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Nickname
	}

	out := make([]GroupLocation, 0, len(fixes))
	for _, f := range fixes {
		out = append(out, GroupLocation{
			UserID:     f.UserID,
			Nickname:   names[f.UserID],
			Lat:        f.Lat,
			Lng:        f.Lng,
			ReportedAt: f.ReportedAt,
		})
	}
	return out, nil
}
