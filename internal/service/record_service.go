package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"runnersmap/internal/models"
	"runnersmap/internal/repository"
)

// DailyRecord is the distance and time a user ran on one day.
type DailyRecord struct {
	Date     string  `json:"date"`
	Distance float64 `json:"distance"`
	Seconds  int64   `json:"seconds"`
	Duration string  `json:"duration"`
}

// RunningSummary aggregates a user's running history.
type RunningSummary struct {
	Year          int           `json:"year"`
	Month         int           `json:"month"`
	TotalDistance float64       `json:"all"`
	MonthDistance float64       `json:"month_distance"`
	Days          []DailyRecord `json:"days"`
}

type RecordService struct {
	userPosts repository.UserPostRepository
	users     repository.UserRepository
	loc       *time.Location
}

func NewRecordService(userPosts repository.UserPostRepository, users repository.UserRepository, loc *time.Location) *RecordService {
	if loc == nil {
		loc = time.UTC
	}
	return &RecordService{userPosts: userPosts, users: users, loc: loc}
}

// FormatDuration renders seconds as HH:MM:SS; hours are not wrapped.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}

// Summary returns the user's lifetime distance, the distance scheduled in
// (year, month), and that month's finished runs grouped by end date.
func (s *RecordService) Summary(ctx context.Context, userID uint, year, month int) (*RunningSummary, error) {
	if month < 1 || month > 12 {
		return nil, models.NewValidationError(fmt.Sprintf("month %d out of range", month))
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	total, err := s.userPosts.SumDistanceByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	scheduled, err := s.userPosts.ListByUserMonth(ctx, userID, year, month)
	if err != nil {
		return nil, err
	}
	var monthDistance float64
	for _, up := range scheduled {
		monthDistance += up.TotalDistance
	}

	completed, err := s.userPosts.ListCompletedByUserMonth(ctx, userID, year, month)
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]*DailyRecord)
	for _, up := range completed {
		day := up.ActualEndTime.In(s.loc).Format(time.DateOnly)
		rec, ok := byDay[day]
		if !ok {
			rec = &DailyRecord{Date: day}
			byDay[day] = rec
		}
		rec.Distance += up.TotalDistance
		if up.RunningDuration != nil {
			rec.Seconds += *up.RunningDuration
		}
	}
	days := make([]DailyRecord, 0, len(byDay))
	for _, rec := range byDay {
		rec.Duration = FormatDuration(rec.Seconds)
		days = append(days, *rec)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	return &RunningSummary{
		Year:          year,
		Month:         month,
		TotalDistance: total,
		MonthDistance: monthDistance,
		Days:          days,
	}, nil
}
