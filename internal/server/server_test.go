package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"runnersmap/internal/config"
	"runnersmap/internal/middleware"
	"runnersmap/internal/models"
	"runnersmap/internal/service"
	"runnersmap/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

type testServer struct {
	srv *Server
	app *fiber.App
	db  *gorm.DB
}

func newTestServer(t *testing.T, flags string, rdb *redis.Client) *testServer {
	t.Helper()
	cfg := &config.Config{
		Port:           "0",
		JWTSecret:      testSecret,
		AllowedOrigins: "http://localhost:5173",
		RankCron:       "0 0 0 * * *",
		RankTimezone:   "UTC",
		FeatureFlags:   flags,
	}
	middleware.InitMiddleware(cfg)

	db := testutil.NewSQLiteDB(t)
	srv, err := NewServerWithDeps(cfg, db, rdb)
	require.NoError(t, err)
	return &testServer{srv: srv, app: srv.newApp(), db: db}
}

func bearer(t *testing.T, userID uint) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func (ts *testServer) do(t *testing.T, method, path string, userID uint, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("Authorization", bearer(t, userID))
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body models.ErrorResponse
	decode(t, resp, &body)
	return body.Code
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, "", nil)

	resp := ts.do(t, http.MethodGet, "/health/live", 0, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/health/ready", 0, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "unavailable", body.Checks["redis"])

	resp = ts.do(t, http.MethodGet, "/metrics", 0, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestPostRoutes_RequireAuth(t *testing.T) {
	ts := newTestServer(t, "", nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/posts"},
		{http.MethodPut, "/api/posts/1"},
		{http.MethodDelete, "/api/posts/1"},
		{http.MethodPost, "/api/posts/1/participate"},
		{http.MethodPost, "/api/posts/1/start"},
		{http.MethodGet, "/api/users/me/records"},
	} {
		resp := ts.do(t, tc.method, tc.path, 0, nil)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, "%s %s", tc.method, tc.path)
	}

	// Detail stays public.
	resp := ts.do(t, http.MethodGet, "/api/posts/1", 0, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestPostLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, "", nil)
	admin := testutil.CreateUser(t, ts.db)
	runner := testutil.CreateUser(t, ts.db)

	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
	create := map[string]any{
		"title":            "Sunrise 10k",
		"content":          "Meet at the bridge",
		"limit_member_cnt": 4,
		"start_date_time":  start.Format(time.RFC3339),
		"start_position":   "North gate",
		"distance":         10000,
		"pace_min":         6,
		"pace_sec":         15,
		"path":             []map[string]float64{{"lat": 37.5, "lng": 127.0}},
		"center_lat":       37.5,
		"center_lng":       127.0,
	}

	resp := ts.do(t, http.MethodPost, "/api/posts", admin.ID, create)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var post models.Post
	decode(t, resp, &post)
	require.NotZero(t, post.ID)
	base := fmt.Sprintf("/api/posts/%d", post.ID)

	resp = ts.do(t, http.MethodPost, base+"/participate", runner.ID, nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, base+"/participate", runner.ID, nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, models.CodeConflict, errorCode(t, resp))

	resp = ts.do(t, http.MethodGet, base, 0, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var detail service.PostDetail
	decode(t, resp, &detail)
	assert.Len(t, detail.Participants, 2)

	resp = ts.do(t, http.MethodGet, base+"/state", runner.ID, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var state map[string]any
	decode(t, resp, &state)
	assert.Equal(t, string(service.RunButtonStart), state["button"])

	resp = ts.do(t, http.MethodPut, base, runner.ID, create)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, base+"/complete", runner.ID, nil)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, models.CodeInvalidState, errorCode(t, resp))

	for _, uid := range []uint{admin.ID, runner.ID} {
		resp = ts.do(t, http.MethodPost, base+"/start", uid, nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	resp = ts.do(t, http.MethodPost, base+"/start", runner.ID, nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, base, admin.ID, nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode, "departed posts cannot be deleted")

	for _, uid := range []uint{admin.ID, runner.ID} {
		resp = ts.do(t, http.MethodPost, base+"/complete", uid, nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	var stored models.Post
	require.NoError(t, ts.db.First(&stored, post.ID).Error)
	assert.Equal(t, models.PostStateArrived, stored.State())

	resp = ts.do(t, http.MethodPost, base+"/participate", 9999, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestCreatePost_Validation(t *testing.T) {
	ts := newTestServer(t, "", nil)
	admin := testutil.CreateUser(t, ts.db)

	resp := ts.do(t, http.MethodPost, "/api/posts", admin.ID, map[string]any{"title": ""})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, models.CodeValidation, errorCode(t, resp))

	resp = ts.do(t, http.MethodPost, "/api/posts/abc/participate", admin.ID, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSearchMapPosts(t *testing.T) {
	ts := newTestServer(t, "", nil)
	admin := testutil.CreateUser(t, ts.db)

	resp := ts.do(t, http.MethodGet, "/api/posts/map-posts?lat=37.5&lng=127.0", 0, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	near := testutil.CreatePost(t, ts.db, admin.ID, 37.501, 127.001, time.Now().Add(2*time.Hour))
	testutil.CreatePost(t, ts.db, admin.ID, 37.501, 127.001, time.Now().Add(3*time.Hour), func(p *models.Post) {
		p.LimitMemberCnt = 12
	})

	resp = ts.do(t, http.MethodGet, "/api/posts/map-posts?lat=37.5&lng=127.0&limitMemberCntEnd=6", 0, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var views []service.PostView
	decode(t, resp, &views)
	require.Len(t, views, 1)
	assert.Equal(t, near.ID, views[0].ID)
	assert.Equal(t, admin.Nickname, views[0].AdminNickname)

	resp = ts.do(t, http.MethodGet, "/api/posts/map-posts?lat=37.5", 0, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/posts/map-posts?lat=37.5&lng=127.0&startFrom=yesterday", 0, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	from := time.Now().Add(150 * time.Minute).UTC().Format("2006-01-02T15:04:05")
	resp = ts.do(t, http.MethodGet, "/api/posts/map-posts?lat=37.5&lng=127.0&startFrom="+from, 0, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decode(t, resp, &views)
	require.Len(t, views, 1)
	assert.NotEqual(t, near.ID, views[0].ID)
}

func TestMyPostsAndRecords(t *testing.T) {
	ts := newTestServer(t, "", nil)
	runner := testutil.CreateUser(t, ts.db)

	now := time.Now().UTC()
	upcoming := testutil.CreatePost(t, ts.db, runner.ID, 37.5, 127.0, now.Add(24*time.Hour))
	testutil.Join(t, ts.db, runner.ID, upcoming)

	ranAt := time.Date(2026, 5, 10, 6, 0, 0, 0, time.UTC)
	finished := testutil.CreatePost(t, ts.db, runner.ID, 37.5, 127.0, ranAt)
	up := testutil.Join(t, ts.db, runner.ID, finished)
	testutil.Finish(t, ts.db, up, 5000, ranAt, 30*time.Minute)

	resp := ts.do(t, http.MethodGet, "/api/users/me/posts", runner.ID, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var mine struct {
		Posts   []models.Post `json:"posts"`
		Hosting bool          `json:"hosting_active_post"`
	}
	decode(t, resp, &mine)
	require.Len(t, mine.Posts, 1)
	assert.Equal(t, upcoming.ID, mine.Posts[0].ID)
	assert.True(t, mine.Hosting)

	resp = ts.do(t, http.MethodGet, "/api/users/me/records?year=2026&month=5", runner.ID, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var summary service.RunningSummary
	decode(t, resp, &summary)
	assert.InDelta(t, 15000, summary.TotalDistance, 1e-9)
	require.Len(t, summary.Days, 1)
	assert.Equal(t, "00:30:00", summary.Days[0].Duration)

	resp = ts.do(t, http.MethodGet, "/api/users/me/records?month=13", runner.ID, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGetRanking(t *testing.T) {
	ts := newTestServer(t, "", nil)
	runner := testutil.CreateUser(t, ts.db)

	start := time.Date(2026, 3, 4, 6, 0, 0, 0, time.UTC)
	post := testutil.CreatePost(t, ts.db, runner.ID, 37.5, 127.0, start)
	testutil.Finish(t, ts.db, testutil.Join(t, ts.db, runner.ID, post), 10000, start, time.Hour)

	_, err := ts.srv.rankService.Aggregate(t.Context(), 2026, 3, time.Now())
	require.NoError(t, err)

	resp := ts.do(t, http.MethodGet, "/api/ranking?year=2026&month=3", 0, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var page service.RankingPage
	decode(t, resp, &page)
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, service.DefaultRankPageSize, page.Size)
	require.Len(t, page.Ranks, 1)
	assert.Equal(t, runner.ID, page.Ranks[0].UserID)
	assert.Equal(t, 1, page.Ranks[0].Rank)

	resp = ts.do(t, http.MethodGet, "/api/ranking?year=2026&month=3&page=-1", 0, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestLocations_FeatureFlag(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	t.Run("disabled", func(t *testing.T) {
		off := newTestServer(t, "live_locations=off", rdb)
		resp := off.do(t, http.MethodGet, "/api/locations/group/1", 0, nil)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})

	ts := newTestServer(t, "live_locations=on", rdb)
	runner := testutil.CreateUser(t, ts.db)
	post := testutil.CreatePost(t, ts.db, runner.ID, 37.5, 127.0, time.Now().Add(time.Hour))

	resp := ts.do(t, http.MethodPost, "/api/locations", 0, map[string]any{"post_id": post.ID, "lat": 37.5, "lng": 127.0})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/locations", runner.ID, map[string]any{"post_id": post.ID, "lat": 37.501, "lng": 127.002})
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/locations/group/%d", post.ID), 0, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var group []service.GroupLocation
	decode(t, resp, &group)
	require.Len(t, group, 1)
	assert.Equal(t, runner.Nickname, group[0].Nickname)
	assert.Equal(t, 127.002, group[0].Lng)

	resp = ts.do(t, http.MethodGet, "/api/feature-flags", runner.ID, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var flags struct {
		Evaluated map[string]bool `json:"evaluated"`
	}
	decode(t, resp, &flags)
	assert.True(t, flags.Evaluated["live_locations"])
}
