package server

import (
	"github.com/gofiber/fiber/v2"
)

// GetParticipationState handles GET /api/posts/:id/state
func (s *Server) GetParticipationState(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	button, err := s.sessionService.ParticipationState(c.UserContext(), postID, currentUserID(c))
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(fiber.Map{"post_id": postID, "button": button})
}

// Participate handles POST /api/posts/:id/participate
func (s *Server) Participate(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	up, err := s.sessionService.Join(c.UserContext(), postID, currentUserID(c))
	if err != nil {
		return respondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(up)
}

// CancelParticipation handles DELETE /api/posts/:id/participate
func (s *Server) CancelParticipation(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.sessionService.Leave(c.UserContext(), postID, currentUserID(c)); err != nil {
		return respondAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// StartRun handles POST /api/posts/:id/start
func (s *Server) StartRun(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	up, err := s.sessionService.MarkDeparted(c.UserContext(), postID, currentUserID(c))
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(up)
}

// CompleteRun handles POST /api/posts/:id/complete
func (s *Server) CompleteRun(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	up, err := s.sessionService.MarkArrived(c.UserContext(), postID, currentUserID(c))
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(up)
}
