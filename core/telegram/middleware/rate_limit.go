package middleware

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/m3rciful/starstore/core/logger"
	tghelpers "github.com/m3rciful/starstore/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures RateLimitMiddleware.
type RateLimitOptions struct {
	// Interval is the sustained gap between updates of one user.
	Interval time.Duration
	// Burst updates may arrive back to back before Interval applies; 0 -> 1.
	Burst int
	// Exclude holds update kinds (callback, message, inline_query) that are never limited.
	Exclude map[string]struct{}
	// OnLimited runs instead of the handler for a dropped update.
	OnLimited tele.HandlerFunc
	// Now overrides the clock in tests.
	Now func() time.Time
}

type userBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// userBuckets keeps one token bucket per user and forgets users idle for
// longer than idleAfter.
type userBuckets struct {
	mu        sync.Mutex
	every     rate.Limit
	burst     int
	idleAfter time.Duration
	lastSweep time.Time
	byUser    map[int64]*userBucket
}

func newUserBuckets(interval time.Duration, burst int) *userBuckets {
	if burst <= 0 {
		burst = 1
	}
	return &userBuckets{
		every:     rate.Every(interval),
		burst:     burst,
		idleAfter: interval * time.Duration(burst) * 10,
		byUser:    make(map[int64]*userBucket),
	}
}

func (b *userBuckets) allow(userID int64, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.Sub(b.lastSweep) > b.idleAfter {
		for id, ub := range b.byUser {
			if now.Sub(ub.seen) > b.idleAfter {
				delete(b.byUser, id)
			}
		}
		b.lastSweep = now
	}
	ub, ok := b.byUser[userID]
	if !ok {
		ub = &userBucket{lim: rate.NewLimiter(b.every, b.burst)}
		b.byUser[userID] = ub
	}
	ub.seen = now
	return ub.lim.AllowN(now, 1)
}

func (b *userBuckets) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byUser)
}

// RateLimitMiddleware drops updates from users that exceed the configured rate.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var buckets *userBuckets
	if opts.Interval > 0 {
		buckets = newUserBuckets(opts.Interval, opts.Burst)
	}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || buckets == nil {
				return next(c)
			}
			kind := limitKind(c.Update())
			if _, skip := opts.Exclude[kind]; skip {
				return next(c)
			}
			if buckets.allow(user.ID, now()) {
				return next(c)
			}

			logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelWarn, "tg.rate_limit",
				slog.String("status", "rate_limited"),
				slog.String("kind", kind),
				slog.Int64("user_id", user.ID),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}

func limitKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return "callback"
	case upd.Message != nil:
		return "message"
	case upd.Query != nil:
		return "inline_query"
	default:
		return "other"
	}
}
