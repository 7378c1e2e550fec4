package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"runnersmap/internal/cache"
	"runnersmap/internal/middleware"
	"runnersmap/internal/models"
	"runnersmap/internal/notifications"
	"runnersmap/internal/observability"
	"runnersmap/internal/repository"

	"gorm.io/gorm"
)

const (
	DefaultRankPageSize = 20
	maxRankPageSize     = repository.MaxRankPosition
)

// distanceTiers are inclusive lower bounds, largest first.
var distanceTiers = []struct {
	min        float64
	multiplier float64
}{
	{42195, 1.5},
	{21097.5, 1.4},
	{10000, 1.3},
	{5000, 1.2},
}

// TierMultiplier returns the weight applied to runs of the given distance.
func TierMultiplier(distance float64) float64 {
	for _, t := range distanceTiers {
		if distance >= t.min {
			return t.multiplier
		}
	}
	return 1.0
}

// RunScore is distance per second weighted by distance tier. A run with no
// duration scores 0.
func RunScore(distance float64, seconds int64) float64 {
	if seconds <= 0 {
		return 0
	}
	return distance / float64(seconds) * TierMultiplier(distance)
}

// RankEntry is one leaderboard row as served to clients.
type RankEntry struct {
	Rank            int     `json:"rank"`
	UserID          uint    `json:"user_id"`
	Nickname        string  `json:"nickname"`
	ProfileImageURL string  `json:"profile_image_url"`
	TotalDistance   float64 `json:"total_distance"`
	TotalTime       int64   `json:"total_time"`
	Score           float64 `json:"score"`
}

// RankingPage is one page of a monthly leaderboard.
type RankingPage struct {
	Year  int         `json:"year"`
	Month int         `json:"month"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
	Total int64       `json:"total"`
	Ranks []RankEntry `json:"ranks"`
}

type RankService struct {
	db        *gorm.DB
	userPosts repository.UserPostRepository
	ranks     repository.RankRepository
	users     repository.UserRepository
	notifier  *notifications.Notifier
	loc       *time.Location
	now       Clock
}

func NewRankService(
	db *gorm.DB,
	userPosts repository.UserPostRepository,
	ranks repository.RankRepository,
	users repository.UserRepository,
	notifier *notifications.Notifier,
	loc *time.Location,
) *RankService {
	if loc == nil {
		loc = time.UTC
	}
	return &RankService{
		db:        db,
		userPosts: userPosts,
		ranks:     ranks,
		users:     users,
		notifier:  notifier,
		loc:       loc,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (s *RankService) WithClock(now Clock) *RankService {
	s.now = now
	return s
}

// Location is the zone that decides which month "now" belongs to.
func (s *RankService) Location() *time.Location {
	return s.loc
}

// RankPeriod is the month a run rebuilds and the instant it was resolved at.
type RankPeriod struct {
	Year  int
	Month int
	At    time.Time
}

// CurrentPeriod reads the clock once and resolves the month in the rank zone.
func (s *RankService) CurrentPeriod() RankPeriod {
	now := s.now().In(s.loc)
	return RankPeriod{Year: now.Year(), Month: int(now.Month()), At: now}
}

type rankTally struct {
	userID   uint
	distance float64
	seconds  int64
	score    float64
}

// tally sums distance, duration and per-record score by user, highest score
// first and user id ascending on ties.
func tally(records []*models.UserPost) []*rankTally {
	byUser := make(map[uint]*rankTally)
	for _, up := range records {
		var secs int64
		if up.RunningDuration != nil {
			secs = *up.RunningDuration
		}
		t, ok := byUser[up.UserID]
		if !ok {
			t = &rankTally{userID: up.UserID}
			byUser[up.UserID] = t
		}
		t.distance += up.TotalDistance
		t.seconds += secs
		t.score += RunScore(up.TotalDistance, secs)
	}

	out := make([]*rankTally, 0, len(byUser))
	for _, t := range byUser {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].userID < out[j].userID
	})
	return out
}

// Aggregate replaces the leaderboard of (year, month) with one rebuilt from
// the month's finished runs. It returns the number of ranked users. A run
// owned by a user missing from the user store fails the whole rebuild.
func (s *RankService) Aggregate(ctx context.Context, year, month int, executedOn time.Time) (int, error) {
	span, ctx := observability.StartRankSpan(ctx, year, month)
	defer span.End()

	if month < 1 || month > 12 {
		return 0, models.NewValidationError(fmt.Sprintf("month %d out of range", month))
	}
	local := executedOn.In(s.loc)
	batchDate := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	var ranked int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ranks, userPosts, users := s.ranks.WithTx(tx), s.userPosts.WithTx(tx), s.users.WithTx(tx)

		if err := ranks.DeleteByMonth(ctx, year, month); err != nil {
			return err
		}
		records, err := userPosts.ListCompletedByMonth(ctx, year, month)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		tallies := tally(records)
		ids := make([]uint, len(tallies))
		for i, t := range tallies {
			ids[i] = t.userID
		}
		found, err := users.ExistingIDs(ctx, ids)
		if err != nil {
			return err
		}
		present := make(map[uint]bool, len(found))
		for _, id := range found {
			present[id] = true
		}

		rows := make([]*models.Rank, 0, len(tallies))
		for i, t := range tallies {
			if !present[t.userID] {
				return models.NewFatalError(
					fmt.Sprintf("user %d has runs in %04d-%02d but does not exist", t.userID, year, month), nil)
			}
			rows = append(rows, &models.Rank{
				UserID:            t.userID,
				Year:              year,
				Month:             month,
				RankPosition:      i + 1,
				TotalDistance:     t.distance,
				TotalTime:         t.seconds,
				Score:             t.score,
				BatchExecutedDate: batchDate,
			})
		}
		if err := ranks.CreateBatch(ctx, rows); err != nil {
			return err
		}
		ranked = len(rows)
		return nil
	})
	if err != nil {
		span.SetError(err)
		return 0, err
	}

	cache.InvalidateRankMonth(ctx, year, month)
	if err := s.notifier.PublishRankingUpdated(ctx, year, month, ranked); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish ranking update", slog.String("error", err.Error()))
	}
	middleware.Logger.InfoContext(ctx, "ranking rebuilt",
		slog.Int("year", year), slog.Int("month", month), slog.Int("ranked_users", ranked))
	span.AddAttributes(observability.AttrRankedUsers.Int(ranked))
	return ranked, nil
}

// Ranking returns one page of positions 1..100 of a month. page is zero based.
func (s *RankService) Ranking(ctx context.Context, year, month, page, size int) (*RankingPage, error) {
	if month < 1 || month > 12 {
		return nil, models.NewValidationError(fmt.Sprintf("month %d out of range", month))
	}
	if page < 0 {
		return nil, models.NewValidationError("page must not be negative")
	}
	if size <= 0 {
		size = DefaultRankPageSize
	}
	if size > maxRankPageSize {
		size = maxRankPageSize
	}

	result := &RankingPage{Year: year, Month: month, Page: page, Size: size}
	err := cache.Aside(ctx, cache.RankPageKey(year, month, page, size), result, cache.RankTTL, func() error {
		total, err := s.ranks.CountByMonth(ctx, year, month)
		if err != nil {
			return err
		}
		rows, err := s.ranks.ListByMonth(ctx, year, month, size, page*size)
		if err != nil {
			return err
		}
		result.Total = total
		result.Ranks = make([]RankEntry, 0, len(rows))
		for _, r := range rows {
			e := RankEntry{
				Rank:          r.RankPosition,
				UserID:        r.UserID,
				TotalDistance: r.TotalDistance,
				TotalTime:     r.TotalTime,
				Score:         r.Score,
			}
			if r.User != nil {
				e.Nickname = r.User.Nickname
				e.ProfileImageURL = r.User.ProfileImageURL
			}
			result.Ranks = append(result.Ranks, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
