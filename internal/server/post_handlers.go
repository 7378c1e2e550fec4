package server

import (
	"time"

	"runnersmap/internal/geo"
	"runnersmap/internal/models"
	"runnersmap/internal/service"

	"github.com/gofiber/fiber/v2"
)

// postRequest is the JSON body of post create and update.
type postRequest struct {
	Title          string           `json:"title"`
	Content        string           `json:"content"`
	LimitMemberCnt int              `json:"limit_member_cnt"`
	Gender         *string          `json:"gender"`
	StartDateTime  time.Time        `json:"start_date_time"`
	StartPosition  string           `json:"start_position"`
	Distance       float64          `json:"distance"`
	PaceMin        int              `json:"pace_min"`
	PaceSec        int              `json:"pace_sec"`
	Path           models.RoutePath `json:"path"`
	Lat            float64          `json:"center_lat"`
	Lng            float64          `json:"center_lng"`
}

func (r postRequest) input() service.PostInput {
	return service.PostInput{
		Title:          r.Title,
		Content:        r.Content,
		LimitMemberCnt: r.LimitMemberCnt,
		Gender:         r.Gender,
		StartDateTime:  r.StartDateTime,
		StartPosition:  r.StartPosition,
		Distance:       r.Distance,
		PaceMin:        r.PaceMin,
		PaceSec:        r.PaceSec,
		Path:           r.Path,
		Lat:            r.Lat,
		Lng:            r.Lng,
	}
}

// searchFilters reads the optional map search filters from the query string.
func (s *Server) searchFilters(c *fiber.Ctx) (service.SearchFilters, error) {
	var f service.SearchFilters
	var err error

	if g := c.Query("gender"); g != "" {
		f.Gender = &g
	}
	if f.PaceMin, err = queryFloat(c, "paceMinStart"); err != nil {
		return f, err
	}
	if f.PaceMax, err = queryFloat(c, "paceMinEnd"); err != nil {
		return f, err
	}
	if f.DistanceMin, err = queryFloat(c, "distanceStart"); err != nil {
		return f, err
	}
	if f.DistanceMax, err = queryFloat(c, "distanceEnd"); err != nil {
		return f, err
	}
	if f.StartFrom, err = queryTime(c, "startFrom", s.loc); err != nil {
		return f, err
	}
	if f.StartTo, err = queryTime(c, "startTo", s.loc); err != nil {
		return f, err
	}
	if f.CapacityMin, err = queryInt(c, "limitMemberCntStart"); err != nil {
		return f, err
	}
	if f.CapacityMax, err = queryInt(c, "limitMemberCntEnd"); err != nil {
		return f, err
	}
	return f, nil
}

// SearchMapPosts handles GET /api/posts/map-posts?lat=..&lng=..
// An empty result is answered with 204.
func (s *Server) SearchMapPosts(c *fiber.Ctx) error {
	lat, err := requiredFloat(c, "lat")
	if err != nil {
		return respondAppError(c, err)
	}
	lng, err := requiredFloat(c, "lng")
	if err != nil {
		return respondAppError(c, err)
	}
	filters, err := s.searchFilters(c)
	if err != nil {
		return respondAppError(c, err)
	}

	views, err := s.searchService.Search(c.UserContext(), geo.LatLng{Lat: lat, Lng: lng}, filters)
	if err != nil {
		return respondAppError(c, err)
	}
	if len(views) == 0 {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(views)
}

// GetPost handles GET /api/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	detail, err := s.postService.Detail(c.UserContext(), id)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(detail)
}

// CreatePost handles POST /api/posts
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req postRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	post, err := s.postService.Create(c.UserContext(), service.CreatePostInput{
		AdminID:   currentUserID(c),
		PostInput: req.input(),
	})
	if err != nil {
		return respondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// UpdatePost handles PUT /api/posts/:id
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req postRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	post, err := s.postService.Modify(c.UserContext(), service.UpdatePostInput{
		UserID:    currentUserID(c),
		PostID:    id,
		PostInput: req.input(),
	})
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(post)
}

// DeletePost handles DELETE /api/posts/:id
func (s *Server) DeletePost(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.postService.Delete(c.UserContext(), id, currentUserID(c)); err != nil {
		return respondAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetMyPosts handles GET /api/users/me/posts: the caller's unfinished runs
// and whether they organize one that has not arrived.
func (s *Server) GetMyPosts(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)

	posts, err := s.sessionService.ListActive(ctx, userID)
	if err != nil {
		return respondAppError(c, err)
	}
	hosting, err := s.postService.HostsActivePost(ctx, userID)
	if err != nil {
		return respondAppError(c, err)
	}

	return c.JSON(fiber.Map{
		"posts":               posts,
		"hosting_active_post": hosting,
	})
}
