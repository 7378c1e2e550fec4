package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"runnersmap/internal/models"
	"runnersmap/internal/notifications"
	"runnersmap/internal/observability"
	"runnersmap/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) reloadPost(t *testing.T, id uint) *models.Post {
	t.Helper()
	var p models.Post
	require.NoError(t, f.db.First(&p, id).Error)
	return &p
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, models.ErrorCode(err), "error: %v", err)
}

func TestSessionService_JoinTwiceConflicts(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	admin := testutil.CreateUser(t, f.db)
	runner := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 14, 7, 0, 0, 0, time.UTC))

	before := promtest.ToFloat64(observability.SessionTransitions.WithLabelValues(observability.TransitionJoin))

	up, err := f.sessions.Join(ctx, post.ID, runner.ID)
	require.NoError(t, err)
	assert.True(t, up.Valid)
	assert.Equal(t, 10000.0, up.TotalDistance)
	assert.Equal(t, 2026, up.Year)
	assert.Equal(t, 6, up.Month)
	assert.Equal(t, models.ParticipationJoined, up.State())

	_, err = f.sessions.Join(ctx, post.ID, runner.ID)
	assertCode(t, err, models.CodeConflict)

	after := promtest.ToFloat64(observability.SessionTransitions.WithLabelValues(observability.TransitionJoin))
	assert.Equal(t, before+1, after)
}

func TestSessionService_JoinMissingEntities(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	admin := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 14, 7, 0, 0, 0, time.UTC))

	_, err := f.sessions.Join(ctx, post.ID, 9999)
	assertCode(t, err, models.CodeNotFound)

	_, err = f.sessions.Join(ctx, 9999, admin.ID)
	assertCode(t, err, models.CodeNotFound)
}

func TestSessionService_JoinRequiresLaterDate(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	admin := testutil.CreateUser(t, f.db)
	runner := testutil.CreateUser(t, f.db)
	held := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 14, 7, 0, 0, 0, time.UTC))
	sameDay := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 14, 21, 0, 0, 0, time.UTC))
	earlier := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 12, 7, 0, 0, 0, time.UTC))
	later := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 15, 6, 0, 0, 0, time.UTC))

	_, err := f.sessions.Join(ctx, held.ID, runner.ID)
	require.NoError(t, err)

	_, err = f.sessions.Join(ctx, sameDay.ID, runner.ID)
	assertCode(t, err, models.CodeConflict)

	_, err = f.sessions.Join(ctx, earlier.ID, runner.ID)
	assertCode(t, err, models.CodeConflict)

	_, err = f.sessions.Join(ctx, later.ID, runner.ID)
	require.NoError(t, err)

	require.NoError(t, f.sessions.Leave(ctx, later.ID, runner.ID))
	require.NoError(t, f.sessions.Leave(ctx, held.ID, runner.ID))
	_, err = f.sessions.Join(ctx, earlier.ID, runner.ID)
	require.NoError(t, err, "invalidated participations do not block")
}

func TestSessionService_JoinUsesConfiguredZoneForDates(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	f := newFixture(t, seoul)
	ctx := context.Background()

	admin := testutil.CreateUser(t, f.db)
	runner := testutil.CreateUser(t, f.db)
	// 2026-06-14 23:00 UTC is 2026-06-15 08:00 in Seoul.
	first := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 14, 23, 0, 0, 0, time.UTC))
	// 2026-06-15 02:00 UTC is the same Seoul date.
	second := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 15, 2, 0, 0, 0, time.UTC))

	up, err := f.sessions.Join(ctx, first.ID, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, up.Month)

	_, err = f.sessions.Join(ctx, second.ID, runner.ID)
	assertCode(t, err, models.CodeConflict)
}

func TestSessionService_JoinAfterDepartureIsInvalid(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	admin := testutil.CreateUser(t, f.db)
	runner := testutil.CreateUser(t, f.db)
	departed := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 14, 7, 0, 0, 0, time.UTC), func(p *models.Post) {
		p.Departed = true
	})
	arrived := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 20, 7, 0, 0, 0, time.UTC), func(p *models.Post) {
		p.Departed, p.Arrived = true, true
	})

	_, err := f.sessions.Join(ctx, departed.ID, runner.ID)
	assertCode(t, err, models.CodeInvalidState)
	_, err = f.sessions.Join(ctx, arrived.ID, runner.ID)
	assertCode(t, err, models.CodeInvalidState)
}

func TestSessionService_GroupRun(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	admin := testutil.CreateUser(t, f.db)
	u1 := testutil.CreateUser(t, f.db)
	u2 := testutil.CreateUser(t, f.db)
	u3 := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 14, 7, 0, 0, 0, time.UTC))

	for _, u := range []*models.User{u1, u2, u3} {
		_, err := f.sessions.Join(ctx, post.ID, u.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, models.PostStateFormed, f.reloadPost(t, post.ID).State())

	// First departure flips the post.
	up1, err := f.sessions.MarkDeparted(ctx, post.ID, u1.ID)
	require.NoError(t, err)
	require.NotNil(t, up1.ActualStartTime)
	assert.Equal(t, models.PostStateDeparted, f.reloadPost(t, post.ID).State())

	// Later departures only record their own start.
	f.clock.Advance(time.Minute)
	up2, err := f.sessions.MarkDeparted(ctx, post.ID, u2.ID)
	require.NoError(t, err)
	require.NotNil(t, up2.ActualStartTime)
	assert.Equal(t, models.PostStateDeparted, f.reloadPost(t, post.ID).State())

	_, err = f.sessions.MarkDeparted(ctx, post.ID, u1.ID)
	assertCode(t, err, models.CodeConflict)

	_, err = f.sessions.MarkDeparted(ctx, post.ID, u3.ID)
	require.NoError(t, err)

	f.clock.Advance(45 * time.Minute)
	done1, err := f.sessions.MarkArrived(ctx, post.ID, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(46*60), *done1.RunningDuration)
	assert.Equal(t, models.ParticipationFinished, done1.State())

	_, err = f.sessions.MarkArrived(ctx, post.ID, u1.ID)
	assertCode(t, err, models.CodeConflict)

	_, err = f.sessions.MarkArrived(ctx, post.ID, u2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStateDeparted, f.reloadPost(t, post.ID).State())

	_, err = f.sessions.MarkArrived(ctx, post.ID, u3.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStateArrived, f.reloadPost(t, post.ID).State())

	// Terminal: nothing else moves an arrived post.
	_, err = f.sessions.MarkArrived(ctx, post.ID, u3.ID)
	assertCode(t, err, models.CodeInvalidState)
	_, err = f.sessions.MarkDeparted(ctx, post.ID, u2.ID)
	assertCode(t, err, models.CodeInvalidState)
}

func TestSessionService_ArrivalIgnoresLeavers(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	admin := testutil.CreateUser(t, f.db)
	u1 := testutil.CreateUser(t, f.db)
	u2 := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 14, 7, 0, 0, 0, time.UTC))

	_, err := f.sessions.Join(ctx, post.ID, u1.ID)
	require.NoError(t, err)
	_, err = f.sessions.Join(ctx, post.ID, u2.ID)
	require.NoError(t, err)

	_, err = f.sessions.MarkDeparted(ctx, post.ID, u1.ID)
	require.NoError(t, err)
	require.NoError(t, f.sessions.Leave(ctx, post.ID, u2.ID))

	f.clock.Advance(30 * time.Minute)
	_, err = f.sessions.MarkArrived(ctx, post.ID, u1.ID)
	require.NoError(t, err)
	assert.True(t, f.reloadPost(t, post.ID).Arrived)
}

func TestSessionService_ArriveWithoutStart(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	admin := testutil.CreateUser(t, f.db)
	u1 := testutil.CreateUser(t, f.db)
	u2 := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 14, 7, 0, 0, 0, time.UTC))
	_, err := f.sessions.Join(ctx, post.ID, u1.ID)
	require.NoError(t, err)
	_, err = f.sessions.Join(ctx, post.ID, u2.ID)
	require.NoError(t, err)

	_, err = f.sessions.MarkDeparted(ctx, post.ID, u1.ID)
	require.NoError(t, err)

	_, err = f.sessions.MarkArrived(ctx, post.ID, u2.ID)
	assertCode(t, err, models.CodeInvalidState)

	var up models.UserPost
	require.NoError(t, f.db.Where("user_id = ? AND post_id = ?", u2.ID, post.ID).First(&up).Error)
	assert.Nil(t, up.ActualEndTime, "failed transition leaves no partial write")
}

func TestSessionService_Leave(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	admin := testutil.CreateUser(t, f.db)
	runner := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 14, 7, 0, 0, 0, time.UTC))

	err := f.sessions.Leave(ctx, post.ID, runner.ID)
	assertCode(t, err, models.CodeNotFound)

	_, err = f.sessions.Join(ctx, post.ID, runner.ID)
	require.NoError(t, err)
	require.NoError(t, f.sessions.Leave(ctx, post.ID, runner.ID))

	var rows []models.UserPost
	require.NoError(t, f.db.Where("user_id = ? AND post_id = ?", runner.ID, post.ID).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, models.ParticipationInvalidated, rows[0].State())

	err = f.sessions.Leave(ctx, post.ID, runner.ID)
	assertCode(t, err, models.CodeNotFound)

	// Rejoining creates a fresh record next to the invalidated one.
	_, err = f.sessions.Join(ctx, post.ID, runner.ID)
	require.NoError(t, err)
	require.NoError(t, f.db.Where("user_id = ? AND post_id = ?", runner.ID, post.ID).Find(&rows).Error)
	assert.Len(t, rows, 2)
}

func TestSessionService_LeaveAfterFinishIsInvalid(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	admin := testutil.CreateUser(t, f.db)
	u1 := testutil.CreateUser(t, f.db)
	u2 := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 14, 7, 0, 0, 0, time.UTC))
	for _, u := range []*models.User{u1, u2} {
		_, err := f.sessions.Join(ctx, post.ID, u.ID)
		require.NoError(t, err)
	}
	for _, u := range []*models.User{u1, u2} {
		_, err := f.sessions.MarkDeparted(ctx, post.ID, u.ID)
		require.NoError(t, err)
	}
	f.clock.Advance(time.Hour)
	finished, err := f.sessions.MarkArrived(ctx, post.ID, u1.ID)
	require.NoError(t, err)
	require.Equal(t, models.ParticipationFinished, finished.State())
	assert.Equal(t, models.PostStateDeparted, f.reloadPost(t, post.ID).State())

	err = f.sessions.Leave(ctx, post.ID, u1.ID)
	assertCode(t, err, models.CodeInvalidState)

	var up models.UserPost
	require.NoError(t, f.db.Where("user_id = ? AND post_id = ?", u1.ID, post.ID).First(&up).Error)
	assert.True(t, up.Valid)
	assert.NotNil(t, up.ActualEndTime)
}

func TestSessionService_ParticipationStateAndActive(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	admin := testutil.CreateUser(t, f.db)
	runner := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 14, 7, 0, 0, 0, time.UTC))

	_, err := f.sessions.ParticipationState(ctx, post.ID, runner.ID)
	assertCode(t, err, models.CodeNotFound)

	_, err = f.sessions.Join(ctx, post.ID, runner.ID)
	require.NoError(t, err)
	state, err := f.sessions.ParticipationState(ctx, post.ID, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, RunButtonStart, state)

	active, err := f.sessions.ListActive(ctx, runner.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, post.ID, active[0].ID)

	_, err = f.sessions.MarkDeparted(ctx, post.ID, runner.ID)
	require.NoError(t, err)
	state, err = f.sessions.ParticipationState(ctx, post.ID, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, RunButtonComplete, state)
}

func TestSessionService_PublishesRunEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, time.UTC)
	f.sessions.notifier = notifications.NewNotifier(rdb)
	ctx := context.Background()

	admin := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, admin.ID, 37.5, 127.0, time.Date(2026, 6, 14, 7, 0, 0, 0, time.UTC))
	testutil.Join(t, f.db, admin.ID, post)

	sub := rdb.Subscribe(ctx, notifications.PostChannel(post.ID))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	_, err = f.sessions.MarkDeparted(ctx, post.ID, admin.ID)
	require.NoError(t, err)

	var types []string
	for len(types) < 2 {
		select {
		case msg := <-sub.Channel():
			var ev notifications.RunEvent
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
			assert.Equal(t, post.ID, ev.PostID)
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("received only %v", types)
		}
	}
	assert.Equal(t, []string{notifications.EventPostDeparted, notifications.EventParticipantStarted}, types)
}
