package models

import "time"

// Rank is one user's standing in a monthly leaderboard.
type Rank struct {
	ID            uint    `gorm:"primaryKey" json:"rank_id"`
	UserID        uint    `gorm:"not null;index" json:"user_id"`
	User          *User   `gorm:"foreignKey:UserID" json:"-"`
	Year          int     `gorm:"not null;index:idx_ranks_month" json:"year"`
	Month         int     `gorm:"not null;index:idx_ranks_month" json:"month"`
	RankPosition  int     `gorm:"not null" json:"rank"`
	TotalDistance float64 `gorm:"not null" json:"total_distance"`
	// TotalTime is the summed running duration in seconds.
	TotalTime         int64     `gorm:"not null" json:"total_time"`
	Score             float64   `gorm:"not null" json:"score"`
	BatchExecutedDate time.Time `gorm:"not null" json:"batch_executed_date"`
	CreatedAt         time.Time `json:"created_at"`
}
