package server

import (
	"time"

	"runnersmap/internal/models"

	"github.com/gofiber/fiber/v2"
)

// queryPeriod reads year and month, defaulting each to the current month in
// the rank timezone.
func (s *Server) queryPeriod(c *fiber.Ctx) (int, int, error) {
	now := time.Now().In(s.loc)
	year, err := queryInt(c, "year")
	if err != nil {
		return 0, 0, err
	}
	month, err := queryInt(c, "month")
	if err != nil {
		return 0, 0, err
	}

	y, m := now.Year(), int(now.Month())
	if year != nil {
		y = *year
	}
	if month != nil {
		m = *month
	}
	if y < 1 {
		return 0, 0, models.NewValidationError("Invalid year")
	}
	return y, m, nil
}
