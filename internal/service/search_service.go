package service

import (
	"context"
	"time"

	"runnersmap/internal/geo"
	"runnersmap/internal/models"
	"runnersmap/internal/observability"
	"runnersmap/internal/repository"

)

const (
	// SearchRadiusKm is the exclusive great-circle radius of a map search.
	SearchRadiusKm = 2.0
	// SearchLimit is the hard cap on search results.
	SearchLimit = 20
	// RecentArrivalWindow keeps finished runs visible for their photos.
	RecentArrivalWindow = 72 * time.Hour

	searchBatch = 100
)

// SearchFilters are the optional map search bounds. Nil means unbounded.
type SearchFilters struct {
	Gender      *string
	PaceMin     *float64
	PaceMax     *float64
	DistanceMin *float64
	DistanceMax *float64
	StartFrom   *time.Time
	StartTo     *time.Time
	CapacityMin *int
	CapacityMax *int
}

// PostView is a search result: the post, its organizer and, for finished
// runs, the latest after-run photo.
type PostView struct {
	models.Post
	AdminNickname        string `json:"admin_nickname"`
	AdminProfileImageURL string `json:"admin_profile_image_url"`
	AfterRunPictureID    uint   `json:"after_run_picture_id,omitempty"`
	AfterRunPictureURL   string `json:"after_run_picture_url,omitempty"`
	LikeCount            int64  `json:"like_count"`
}

type SearchService struct {
	posts    repository.PostRepository
	afterRun repository.AfterRunRepository
	now      Clock
}

func NewSearchService(posts repository.PostRepository, afterRun repository.AfterRunRepository) *SearchService {
	return &SearchService{posts: posts, afterRun: afterRun, now: time.Now}
}

// WithClock replaces the time source.
func (s *SearchService) WithClock(now Clock) *SearchService {
	s.now = now
	return s
}

// Search returns up to SearchLimit visible posts within SearchRadiusKm of
// center, ordered by start time. The cap is applied before arrived posts
// without an after-run photo are dropped.
func (s *SearchService) Search(ctx context.Context, center geo.LatLng, f SearchFilters) ([]PostView, error) {
	span, ctx := observability.StartSearchSpan(ctx, center.Lat, center.Lng)
	defer span.End()

	if !center.Valid() {
		return nil, models.NewValidationError("lat/lng out of range")
	}

	now := s.now().UTC()
	filter := repository.PostSearchFilter{
		Box:         geo.BoundingBox(center, SearchRadiusKm),
		Now:         now,
		RecentSince: now.Add(-RecentArrivalWindow),
		Gender:      f.Gender,
		PaceMin:     f.PaceMin,
		PaceMax:     f.PaceMax,
		DistanceMin: f.DistanceMin,
		DistanceMax: f.DistanceMax,
		StartFrom:   f.StartFrom,
		StartTo:     f.StartTo,
		CapacityMin: f.CapacityMin,
		CapacityMax: f.CapacityMax,
	}

	hits := make([]*models.Post, 0, SearchLimit)
	for offset := 0; len(hits) < SearchLimit; offset += searchBatch {
		batch, err := s.posts.FindCandidates(ctx, filter, searchBatch, offset)
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		for _, p := range batch {
			if geo.HaversineKm(center, geo.LatLng{Lat: p.Lat, Lng: p.Lng}) >= SearchRadiusKm {
				continue
			}
			hits = append(hits, p)
			if len(hits) == SearchLimit {
				break
			}
		}
		if len(batch) < searchBatch {
			break
		}
	}

	views := make([]PostView, 0, len(hits))
	for _, p := range hits {
		v := PostView{Post: *p}
		if p.Admin != nil {
			v.AdminNickname = p.Admin.Nickname
			v.AdminProfileImageURL = p.Admin.ProfileImageURL
		}
		if p.Arrived {
			summary, err := s.afterRun.LatestForPost(ctx, p.ID)
			if err != nil {
				span.SetError(err)
				return nil, err
			}
			if summary == nil {
				continue
			}
			v.AfterRunPictureID = summary.PictureID
			v.AfterRunPictureURL = summary.URL
			v.LikeCount = summary.LikeCount
		}
		views = append(views, v)
	}

	observability.SearchResults.Observe(float64(len(views)))
	span.AddAttributes(observability.AttrSearchResult.Int(len(views)))
	return views, nil
}
