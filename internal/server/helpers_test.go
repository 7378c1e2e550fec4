package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumanizeParam(t *testing.T) {
	tests := []struct {
		param    string
		expected string
	}{
		{"id", "ID"},
		{"postId", "post ID"},
		{"afterRunPictureId", "after run picture ID"},
		{"something", "something"},
	}
	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			assert.Equal(t, tt.expected, humanizeParam(tt.param))
		})
	}
}

func TestQueryTime(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	tests := []struct {
		name    string
		query   string
		want    *time.Time
		wantErr bool
	}{
		{name: "absent", query: ""},
		{name: "rfc3339", query: "2026-06-01T09:00:00%2B09:00", want: ptr(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))},
		{name: "local", query: "2026-06-01T09:00:00", want: ptr(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))},
		{name: "garbage", query: "tomorrow", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			var got *time.Time
			var gotErr error
			app.Get("/", func(c *fiber.Ctx) error {
				got, gotErr = queryTime(c, "at", seoul)
				return nil
			})
			resp, err := app.Test(httptest.NewRequest("GET", "/?at="+tt.query, nil))
			require.NoError(t, err)
			_ = resp.Body.Close()

			if tt.wantErr {
				assert.Error(t, gotErr)
				return
			}
			require.NoError(t, gotErr)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %s", got)
		})
	}
}

func ptr[T any](v T) *T { return &v }
