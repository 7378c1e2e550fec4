package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// Quota is a fixed-window request budget for one named resource.
type Quota struct {
	Name   string
	Limit  int
	Window time.Duration
	// FailClosed answers 503 while the counter store is unreachable;
	// otherwise requests pass.
	FailClosed bool
}

// Quotas applied to the public API.
var (
	MapSearchQuota  = Quota{Name: "map_search", Limit: 60, Window: time.Minute}
	CreatePostQuota = Quota{Name: "create_post", Limit: 5, Window: 10 * time.Minute}
	LocationQuota   = Quota{Name: "location_update", Limit: 120, Window: time.Minute}
)

var errNoRateStore = errors.New("rate limit store unavailable")

// incrWindow counts a hit and starts the window on the first one.
var incrWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// rateLimitBypassed is true outside deployed environments.
func rateLimitBypassed() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development":
		return true
	}
	return false
}

// Allow records one request by caller against q. When the budget is spent it
// returns false and how long until the window resets.
func (q Quota) Allow(ctx context.Context, rdb *redis.Client, caller string) (bool, time.Duration, error) {
	if rateLimitBypassed() {
		return true, 0, nil
	}
	if rdb == nil {
		return false, 0, errNoRateStore
	}

	key := fmt.Sprintf("rl:%s:%s", q.Name, caller)
	res, err := incrWindow.Run(ctx, rdb, []string{key}, q.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit script returned %d values", len(res))
	}
	if res[0] <= int64(q.Limit) {
		return true, 0, nil
	}
	return false, time.Duration(res[1]) * time.Millisecond, nil
}

// RateLimit enforces q per authenticated user, or per client IP for
// anonymous callers, so it must run after the auth middleware.
func RateLimit(rdb *redis.Client, q Quota) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller := "ip:" + c.IP()
		if uid, ok := c.Locals("userID").(uint); ok && uid != 0 {
			caller = fmt.Sprintf("user:%d", uid)
		}

		allowed, retryAfter, err := q.Allow(c.UserContext(), rdb, caller)
		if err != nil {
			Logger.WarnContext(c.UserContext(), "rate limit check failed",
				slog.String("quota", q.Name),
				slog.Bool("fail_closed", q.FailClosed),
				slog.String("error", err.Error()),
			)
			if q.FailClosed {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "rate limit unavailable",
				})
			}
			return c.Next()
		}

		if !allowed {
			if retryAfter > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
				"code":  "RATE_LIMITED",
			})
		}
		return c.Next()
	}
}
