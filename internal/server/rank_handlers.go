package server

import (
	"runnersmap/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetRanking handles GET /api/ranking?year=..&month=..&page=..&size=..
// Pages are zero based.
func (s *Server) GetRanking(c *fiber.Ctx) error {
	year, month, err := s.queryPeriod(c)
	if err != nil {
		return respondAppError(c, err)
	}
	page := c.QueryInt("page", 0)
	size := c.QueryInt("size", service.DefaultRankPageSize)

	ranking, err := s.rankService.Ranking(c.UserContext(), year, month, page, size)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(ranking)
}
