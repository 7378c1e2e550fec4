package server

import (
	"runnersmap/internal/models"

	"github.com/gofiber/fiber/v2"
)

type locationRequest struct {
	PostID uint    `json:"post_id"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

// UpdateLocation handles POST /api/locations
func (s *Server) UpdateLocation(c *fiber.Ctx) error {
	var req locationRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if req.PostID == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("post_id is required"))
	}

	if err := s.locationService.Update(c.UserContext(), req.PostID, currentUserID(c), req.Lat, req.Lng); err != nil {
		return respondAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetGroupLocations handles GET /api/locations/group/:postId
func (s *Server) GetGroupLocations(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "postId")
	if err != nil {
		return nil
	}

	group, err := s.locationService.GroupLocations(c.UserContext(), postID)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(group)
}
