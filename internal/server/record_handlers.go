package server

import "github.com/gofiber/fiber/v2"

// GetMyRecords handles GET /api/users/me/records?year=..&month=..
func (s *Server) GetMyRecords(c *fiber.Ctx) error {
	year, month, err := s.queryPeriod(c)
	if err != nil {
		return respondAppError(c, err)
	}

	summary, err := s.recordService.Summary(c.UserContext(), currentUserID(c), year, month)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(summary)
}
