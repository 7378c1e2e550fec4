package server

import (
	"runnersmap/internal/featureflags"
	"runnersmap/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetFeatureFlags returns the configured rollouts and their state for the caller.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	userID := currentUserID(c)
	return c.JSON(fiber.Map{
		"rollouts":  s.featureFlags.Rollouts(),
		"evaluated": s.featureFlags.Snapshot(userID),
	})
}

// FeatureRequired answers 404 for every route behind it while the flag is
// off. Percentage rollouts are evaluated for the caller, so it must run
// after OptionalAuth or AuthRequired.
func (s *Server) FeatureRequired(flag featureflags.Flag) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !s.featureFlags.Enabled(flag, currentUserID(c)) {
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundError("feature", flag))
		}
		return c.Next()
	}
}
